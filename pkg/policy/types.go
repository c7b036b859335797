// Package policy evaluates Rego admission policies against deployment
// requests before a job is accepted.
package policy

import (
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects the request.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a single Rego admission policy. Its module must define a
// partial set rule named deny.
type Policy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    Severity `json:"severity"`
	Enabled     bool     `json:"enabled"`

	// Builtin marks policies shipped with the binary. They survive reloads.
	Builtin bool `json:"builtin"`

	// Source is the file a custom policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is one deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Allowed bool `json:"allowed"`

	// Violations holds blocking violations, Warnings the rest.
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Limits are operator settings exposed to policies as input.limits.
type Limits struct {
	// AllowedRegions restricts deployments to these regions. Empty allows all.
	AllowedRegions []string `json:"allowed_regions"`

	// MaxNodes caps the node group max size. Zero disables the cap.
	MaxNodes int `json:"max_nodes"`
}

// Input is the document policies evaluate.
type Input struct {
	Operation string                `json:"operation"`
	Request   deployment.Parameters `json:"request"`
	Limits    Limits                `json:"limits"`
	Timestamp time.Time             `json:"timestamp"`
}
