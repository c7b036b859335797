package deployment

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EKSMode is the compute mode of the customer's cluster.
type EKSMode string

const (
	EKSModeAuto    EKSMode = "auto"
	EKSModeManaged EKSMode = "managed"
)

// Defaults applied to onboarding requests.
const (
	DefaultEnvironment  = "prod"
	DefaultRegion       = "us-east-1"
	DefaultVPCCIDR      = "10.0.0.0/16"
	DefaultEKSVersion   = "1.31"
	DefaultInstanceType = "t3.medium"
	DefaultCapacityType = "ON_DEMAND"
)

// NodeGroup configures the managed node group. Only used when the mode is managed.
type NodeGroup struct {
	InstanceTypes []string `json:"instance_types" yaml:"instance_types" validate:"omitempty,dive,required"`
	DesiredSize   int      `json:"desired_size" yaml:"desired_size" validate:"min=1,max=100"`
	MinSize       int      `json:"min_size" yaml:"min_size" validate:"min=1,max=100"`
	MaxSize       int      `json:"max_size" yaml:"max_size" validate:"min=1,max=100"`
	DiskSize      int      `json:"disk_size" yaml:"disk_size" validate:"min=20,max=1000"`
	CapacityType  string   `json:"capacity_type" yaml:"capacity_type" validate:"oneof=ON_DEMAND SPOT"`
}

// DefaultNodeGroup returns the node group used when a managed cluster has none configured.
func DefaultNodeGroup() NodeGroup {
	return NodeGroup{
		InstanceTypes: []string{DefaultInstanceType},
		DesiredSize:   2,
		MinSize:       1,
		MaxSize:       5,
		DiskSize:      50,
		CapacityType:  DefaultCapacityType,
	}
}

// OnboardRequest is the input for onboarding or updating a customer environment.
type OnboardRequest struct {
	CustomerID        string     `json:"customer_id" validate:"required,min=3,max=50,slug"`
	Environment       string     `json:"environment" validate:"required,max=20,envname"`
	RoleARN           string     `json:"role_arn" validate:"required,rolearn"`
	ExternalID        string     `json:"external_id" validate:"required,min=10"`
	AWSRegion         string     `json:"aws_region" validate:"required"`
	VPCCIDR           string     `json:"vpc_cidr" validate:"required,cidrv4"`
	AvailabilityZones []string   `json:"availability_zones,omitempty" validate:"omitempty,dive,required"`
	EKSVersion        string     `json:"eks_version" validate:"required"`
	EKSMode           EKSMode    `json:"eks_mode" validate:"required,oneof=auto managed"`
	NodeGroup         *NodeGroup `json:"node_group,omitempty" validate:"omitempty"`
}

// ApplyDefaults fills unset optional fields with their defaults.
func (r *OnboardRequest) ApplyDefaults() {
	if r.Environment == "" {
		r.Environment = DefaultEnvironment
	}
	if r.AWSRegion == "" {
		r.AWSRegion = DefaultRegion
	}
	if r.VPCCIDR == "" {
		r.VPCCIDR = DefaultVPCCIDR
	}
	if r.EKSVersion == "" {
		r.EKSVersion = DefaultEKSVersion
	}
	if r.EKSMode == "" {
		r.EKSMode = EKSModeManaged
	}
	if ng := r.NodeGroup; ng != nil {
		def := DefaultNodeGroup()
		if len(ng.InstanceTypes) == 0 {
			ng.InstanceTypes = def.InstanceTypes
		}
		if ng.DesiredSize == 0 {
			ng.DesiredSize = def.DesiredSize
		}
		if ng.MinSize == 0 {
			ng.MinSize = def.MinSize
		}
		if ng.MaxSize == 0 {
			ng.MaxSize = def.MaxSize
		}
		if ng.DiskSize == 0 {
			ng.DiskSize = def.DiskSize
		}
		if ng.CapacityType == "" {
			ng.CapacityType = def.CapacityType
		}
	}
}

// Key returns the job key for the request.
func (r *OnboardRequest) Key() string {
	return JobKey(r.CustomerID, r.Environment)
}

// Parameters returns the immutable parameter snapshot for the request.
func (r *OnboardRequest) Parameters() Parameters {
	p := Parameters{
		CustomerID:        r.CustomerID,
		Environment:       r.Environment,
		RoleARN:           r.RoleARN,
		ExternalID:        r.ExternalID,
		AWSRegion:         r.AWSRegion,
		VPCCIDR:           r.VPCCIDR,
		AvailabilityZones: append([]string(nil), r.AvailabilityZones...),
		EKSVersion:        r.EKSVersion,
		EKSMode:           r.EKSMode,
	}
	if r.EKSMode == EKSModeManaged {
		ng := DefaultNodeGroup()
		if r.NodeGroup != nil {
			ng = *r.NodeGroup
			ng.InstanceTypes = append([]string(nil), r.NodeGroup.InstanceTypes...)
		}
		p.NodeGroup = &ng
	}
	return p
}

// Parameters is the snapshot of a customer's infrastructure parameters for one job.
type Parameters struct {
	CustomerID        string     `json:"customer_id"`
	Environment       string     `json:"environment"`
	RoleARN           string     `json:"role_arn"`
	ExternalID        string     `json:"external_id"`
	AWSRegion         string     `json:"aws_region"`
	VPCCIDR           string     `json:"vpc_cidr"`
	AvailabilityZones []string   `json:"availability_zones,omitempty"`
	EKSVersion        string     `json:"eks_version"`
	EKSMode           EKSMode    `json:"eks_mode"`
	NodeGroup         *NodeGroup `json:"node_group,omitempty"`
}

// Key returns the job key the parameters belong to.
func (p Parameters) Key() string {
	return JobKey(p.CustomerID, p.Environment)
}

// Zones returns the configured availability zones or three zones in the region.
func (p Parameters) Zones() []string {
	if len(p.AvailabilityZones) > 0 {
		return p.AvailabilityZones
	}
	return []string{p.AWSRegion + "a", p.AWSRegion + "b", p.AWSRegion + "c"}
}

// Redacted returns a copy of the parameters without the external id.
func (p Parameters) Redacted() Parameters {
	if p.ExternalID != "" {
		p.ExternalID = "[redacted]"
	}
	return p
}

// String implements fmt.Stringer without exposing the external id.
func (p Parameters) String() string {
	return fmt.Sprintf("Parameters{customer=%s env=%s region=%s vpc=%s eks=%s/%s}",
		p.CustomerID, p.Environment, p.AWSRegion, p.VPCCIDR, p.EKSVersion, p.EKSMode)
}

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]+$`)
	envNamePattern = regexp.MustCompile(`^[a-z0-9]+$`)
	roleARNPattern = regexp.MustCompile(`^arn:aws:iam::\d{12}:role/.+$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	must := func(tag string, re *regexp.Regexp) {
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return re.MatchString(fl.Field().String())
		}); err != nil {
			panic(err)
		}
	}
	must("slug", slugPattern)
	must("envname", envNamePattern)
	must("rolearn", roleARNPattern)
	return v
}

// Validate checks the request shape. Defaults must be applied first.
func (r *OnboardRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return NewValidationError(describeValidation(err), err)
	}
	if ng := r.NodeGroup; ng != nil && r.EKSMode == EKSModeManaged {
		if ng.MinSize > ng.MaxSize || ng.DesiredSize < ng.MinSize || ng.DesiredSize > ng.MaxSize {
			return NewValidationError("node group sizes must satisfy min <= desired <= max", nil)
		}
	}
	return nil
}

// ValidateIdentity checks a customer id and environment pair taken from a path or flags.
func ValidateIdentity(customerID, environment string) error {
	if !slugPattern.MatchString(customerID) || len(customerID) < 3 || len(customerID) > 50 {
		return NewValidationError(fmt.Sprintf("invalid customer id %q", customerID), nil)
	}
	if !envNamePattern.MatchString(environment) || len(environment) > 20 {
		return NewValidationError(fmt.Sprintf("invalid environment %q", environment), nil)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(fields, "; ")
}
