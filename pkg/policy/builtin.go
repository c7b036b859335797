package policy

// BuiltinPolicies returns the policies compiled into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		privateNetworkPolicy(),
		allowedRegionsPolicy(),
		zoneRegionPolicy(),
		nodeGroupBoundsPolicy(),
		spotCapacityPolicy(),
	}
}

// privateNetworkPolicy requires the VPC to use a private range large enough
// for a subnet per zone.
func privateNetworkPolicy() Policy {
	return Policy{
		Name:        "private-network",
		Description: "VPC CIDR must be an RFC 1918 range no smaller than /24",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package byoc.policies.network

import rego.v1

private_ranges := ["10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"]

private(cidr) if {
	some r in private_ranges
	net.cidr_contains(r, cidr)
}

deny contains violation if {
	cidr := input.request.vpc_cidr
	not private(cidr)
	violation := {
		"field": "vpc_cidr",
		"message": sprintf("VPC CIDR %s is not in a private address range", [cidr]),
	}
}

deny contains violation if {
	cidr := input.request.vpc_cidr
	parts := split(cidr, "/")
	to_number(parts[1]) > 24
	violation := {
		"field": "vpc_cidr",
		"message": sprintf("VPC CIDR %s is too small, use /24 or larger", [cidr]),
	}
}
`,
	}
}

// allowedRegionsPolicy restricts regions when the operator configured a list.
func allowedRegionsPolicy() Policy {
	return Policy{
		Name:        "allowed-regions",
		Description: "Deployments are limited to the configured regions",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package byoc.policies.regions

import rego.v1

deny contains violation if {
	count(input.limits.allowed_regions) > 0
	region := input.request.aws_region
	not region in input.limits.allowed_regions
	violation := {
		"field": "aws_region",
		"message": sprintf("region %s is not allowed", [region]),
	}
}
`,
	}
}

// zoneRegionPolicy requires explicit availability zones to be in the region.
func zoneRegionPolicy() Policy {
	return Policy{
		Name:        "zone-region",
		Description: "Availability zones must belong to the requested region",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package byoc.policies.zones

import rego.v1

deny contains violation if {
	some zone in input.request.availability_zones
	not startswith(zone, input.request.aws_region)
	violation := {
		"field": "availability_zones",
		"message": sprintf("zone %s is not in region %s", [zone, input.request.aws_region]),
	}
}
`,
	}
}

// nodeGroupBoundsPolicy checks managed node group sizing.
func nodeGroupBoundsPolicy() Policy {
	return Policy{
		Name:        "node-group-bounds",
		Description: "Managed node groups must satisfy min <= desired <= max within the node cap",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package byoc.policies.nodegroup

import rego.v1

deny contains violation if {
	ng := input.request.node_group
	ng.min_size > ng.desired_size
	violation := {
		"field": "node_group.desired_size",
		"message": sprintf("desired size %d is below min size %d", [ng.desired_size, ng.min_size]),
	}
}

deny contains violation if {
	ng := input.request.node_group
	ng.desired_size > ng.max_size
	violation := {
		"field": "node_group.desired_size",
		"message": sprintf("desired size %d is above max size %d", [ng.desired_size, ng.max_size]),
	}
}

deny contains violation if {
	ng := input.request.node_group
	input.limits.max_nodes > 0
	ng.max_size > input.limits.max_nodes
	violation := {
		"field": "node_group.max_size",
		"message": sprintf("max size %d exceeds the limit of %d nodes", [ng.max_size, input.limits.max_nodes]),
	}
}
`,
	}
}

// spotCapacityPolicy warns about spot capacity in production.
func spotCapacityPolicy() Policy {
	return Policy{
		Name:        "spot-capacity",
		Description: "Spot capacity in production environments is reported",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package byoc.policies.spot

import rego.v1

deny contains violation if {
	input.request.environment == "prod"
	input.request.node_group.capacity_type == "SPOT"
	violation := {
		"field": "node_group.capacity_type",
		"message": "production node group uses spot capacity and may be interrupted",
	}
}
`,
	}
}
