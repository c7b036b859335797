package deployment

import (
	"fmt"
)

// Status represents the lifecycle status of a deployment job.
type Status string

const (
	// StatusPending indicates the job record exists but its trigger sequence has not started.
	StatusPending Status = "pending"

	// StatusInProgress indicates the trigger sequence is running or the remote job is executing.
	StatusInProgress Status = "in_progress"

	// StatusSucceeded indicates the remote update completed and outputs were captured.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates a step of the sequence or the remote job failed.
	StatusFailed Status = "failed"

	// StatusDestroying indicates a remote destroy was triggered and is executing.
	StatusDestroying Status = "destroying"

	// StatusDestroyed indicates the customer's infrastructure was torn down.
	StatusDestroyed Status = "destroyed"
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusSucceeded, StatusFailed},
	StatusSucceeded:  {StatusDestroying, StatusPending},
	StatusFailed:     {StatusPending, StatusDestroying},
	StatusDestroying: {StatusDestroyed, StatusFailed},
	StatusDestroyed:  {StatusPending},
}

// IsTerminal returns true if no automatic transition leaves the status.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusDestroyed
}

// IsActive returns true if a background sequence or remote job may still be running.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusInProgress || s == StatusDestroying
}

// NeedsReconcile returns true if the status is resolved by polling the remote engine.
func (s Status) NeedsReconcile() bool {
	return s == StatusInProgress || s == StatusDestroying
}

// Resubmittable returns true if a new onboarding attempt may start from the status.
func (s Status) Resubmittable() bool {
	return s == StatusFailed || s == StatusDestroyed
}

// Destroyable returns true if a destroy may be triggered from the status.
func (s Status) Destroyable() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	if _, ok := transitions[s]; !ok {
		return fmt.Errorf("invalid job status: %q", string(s))
	}
	return nil
}

// CanTransition reports whether a job may move from s to next.
// Re-asserting the current status is allowed so partial updates can
// touch other fields without changing state.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Operation is an operation the remote deployment engine can run against a stack.
type Operation string

const (
	OperationUpdate  Operation = "update"
	OperationDestroy Operation = "destroy"
	OperationPreview Operation = "preview"
	OperationRefresh Operation = "refresh"
)

// Validate checks if the operation is one the engine accepts.
func (o Operation) Validate() error {
	switch o {
	case OperationUpdate, OperationDestroy, OperationPreview, OperationRefresh:
		return nil
	default:
		return fmt.Errorf("invalid operation: %q", string(o))
	}
}
