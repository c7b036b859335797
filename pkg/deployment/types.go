// Package deployment defines the data model shared by the job store, the
// remote deployment client and the orchestrator: deployment jobs, their
// status state machine, onboarding requests and the error taxonomy.
package deployment

import (
	"time"
)

// Job is a single onboarding/update/destroy attempt for one customer and environment.
type Job struct {
	// Key is the job identity derived from CustomerID and Environment.
	Key string `json:"job_key"`

	CustomerID  string `json:"customer_id"`
	Environment string `json:"environment"`
	CloudRegion string `json:"cloud_region"`

	// RoleARN is the customer's cross-account role reference.
	RoleARN string `json:"role_arn"`

	Status Status `json:"status"`

	// Operation is the last operation handed to the remote engine.
	Operation Operation `json:"operation"`

	// Attempt counts submissions on this key, starting at 1.
	Attempt int `json:"attempt"`

	// RemoteJobID is assigned once the engine accepts a trigger and is never
	// cleared. RemoteAttempt and RemoteOperation record which attempt and
	// operation it was issued for; see CurrentRemoteJobID.
	RemoteJobID     *string   `json:"remote_job_id,omitempty"`
	RemoteAttempt   int       `json:"remote_attempt,omitempty"`
	RemoteOperation Operation `json:"remote_operation,omitempty"`

	// Outputs is populated only when Status is succeeded, and is then always
	// present, possibly empty.
	Outputs map[string]any `json:"outputs"`

	// ErrorDetail is populated only when Status is failed.
	ErrorDetail *string `json:"error_detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentRemoteJobID returns the remote job id issued for the job's current
// attempt and operation. An id left over from an earlier attempt, or from the
// update that preceded a destroy, is not current.
func (j *Job) CurrentRemoteJobID() (string, bool) {
	if j.RemoteJobID == nil || j.RemoteAttempt != j.Attempt || j.RemoteOperation != j.Operation {
		return "", false
	}
	return *j.RemoteJobID, true
}

// StackName returns the remote stack name for the job.
func (j *Job) StackName() string {
	return j.Key
}

// Optional is a value with explicit presence. The zero value means "not provided".
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns a provided Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was provided.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether the value was provided.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// StatusUpdate carries the fields changed alongside a status change.
// Fields that are not set are left unchanged by the store.
type StatusUpdate struct {
	RemoteJobID Optional[string]
	Outputs     Optional[map[string]any]
	ErrorDetail Optional[string]
	Operation   Optional[Operation]

	// ExpectStatus, when set, makes the update conditional on the current status
	// being one of the listed values. A mismatch fails with INVALID_TRANSITION.
	ExpectStatus []Status
}

// Event is an append-only audit entry describing a job transition.
type Event struct {
	ID         string    `json:"id"`
	JobKey     string    `json:"job_key"`
	Attempt    int       `json:"attempt"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

// JobKey derives the deterministic job identity for a customer and environment.
func JobKey(customerID, environment string) string {
	return customerID + "-" + environment
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
