package stores

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/google/uuid"
)

var errNotInitialized = errors.New("database not initialized")

// applyStatusUpdate mutates job in place. It enforces the status state machine
// and the field invariants: outputs only on succeeded, error detail only on
// failed, and a remote job id is never cleared. A recorded remote job id is
// stamped with the attempt and operation it belongs to.
func applyStatusUpdate(job *deployment.Job, status deployment.Status, update deployment.StatusUpdate, now time.Time) error {
	if err := status.Validate(); err != nil {
		return deployment.NewValidationError(err.Error(), err).WithJob(job.Key)
	}
	if len(update.ExpectStatus) > 0 && !slices.Contains(update.ExpectStatus, job.Status) {
		return deployment.NewInvalidTransitionError(job.Status, status).WithJob(job.Key)
	}
	if !job.Status.CanTransition(status) {
		return deployment.NewInvalidTransitionError(job.Status, status).WithJob(job.Key)
	}

	if op, ok := update.Operation.Get(); ok {
		if err := op.Validate(); err != nil {
			return deployment.NewValidationError(err.Error(), err).WithJob(job.Key)
		}
		job.Operation = op
	}
	if id, ok := update.RemoteJobID.Get(); ok {
		if id == "" {
			return deployment.NewValidationError("remote job id cannot be empty", nil).WithJob(job.Key)
		}
		job.RemoteJobID = &id
		job.RemoteAttempt = job.Attempt
		job.RemoteOperation = job.Operation
	}
	if outputs, ok := update.Outputs.Get(); ok {
		job.Outputs = outputs
	}
	if detail, ok := update.ErrorDetail.Get(); ok {
		job.ErrorDetail = &detail
	}

	if status != deployment.StatusSucceeded {
		job.Outputs = nil
	} else if job.Outputs == nil {
		job.Outputs = map[string]any{}
	}
	if status != deployment.StatusFailed {
		job.ErrorDetail = nil
	}
	job.Status = status
	job.UpdatedAt = now
	return nil
}

// applyReset replaces current with the identity-preserving fields of next and
// starts a new pending attempt. The previous remote job id is kept; it stops
// being current because Attempt moves past RemoteAttempt.
func applyReset(current, next *deployment.Job, expect []deployment.Status, now time.Time) error {
	if len(expect) > 0 && !slices.Contains(expect, current.Status) {
		return deployment.NewInvalidTransitionError(current.Status, deployment.StatusPending).WithJob(current.Key)
	}
	if !current.Status.CanTransition(deployment.StatusPending) {
		return deployment.NewInvalidTransitionError(current.Status, deployment.StatusPending).WithJob(current.Key)
	}

	current.CloudRegion = next.CloudRegion
	current.RoleARN = next.RoleARN
	current.Operation = next.Operation
	current.Status = deployment.StatusPending
	current.Attempt++
	current.Outputs = nil
	current.ErrorDetail = nil
	current.UpdatedAt = now
	return nil
}

func prepareNewJob(job *deployment.Job, now time.Time) error {
	if job.Key == "" {
		job.Key = deployment.JobKey(job.CustomerID, job.Environment)
	}
	if job.Key != deployment.JobKey(job.CustomerID, job.Environment) {
		return deployment.NewValidationError(fmt.Sprintf("job key %q does not match customer and environment", job.Key), nil)
	}
	if job.Status == "" {
		job.Status = deployment.StatusPending
	}
	if err := job.Status.Validate(); err != nil {
		return deployment.NewValidationError(err.Error(), err)
	}
	if job.Operation == "" {
		job.Operation = deployment.OperationUpdate
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return nil
}

func prepareEvent(event *deployment.Event, now time.Time) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
}

func encodeOutputs(outputs map[string]any) ([]byte, error) {
	if outputs == nil {
		return nil, nil
	}
	data, err := json.Marshal(outputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outputs: %w", err)
	}
	return data, nil
}

func decodeOutputs(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var outputs map[string]any
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to decode outputs: %w", err)
	}
	return outputs, nil
}

func statusStrings(statuses []deployment.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func notFound(key string) error {
	return deployment.NewNotFoundError(fmt.Sprintf("job not found: %s", key)).WithJob(key)
}

func persistenceError(action string, err error) error {
	return deployment.NewPersistenceError("failed to "+action, err)
}
