package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// JobState is the normalized state of a remote deployment.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// PollResult is the normalized status of a remote deployment.
type PollResult struct {
	State JobState

	// RawStatus is the status string reported by the engine.
	RawStatus string

	// Message is the engine's detail message, if any.
	Message string
}

// normalizeState maps engine deployment statuses onto JobState.
// Unknown statuses are treated as still running.
func normalizeState(status string) JobState {
	switch status {
	case "succeeded":
		return JobStateSucceeded
	case "failed", "cancelled", "canceled", "skipped":
		return JobStateFailed
	default:
		return JobStateRunning
	}
}

// EnsureRemoteProject creates the stack if it does not exist yet.
func (c *Client) EnsureRemoteProject(ctx context.Context, stack string) error {
	path := fmt.Sprintf("/api/stacks/%s/%s", c.organization, c.project)
	body := map[string]string{"stackName": stack}

	err := c.call(ctx, "ensure_project", stack, http.MethodPost, path, body, nil)
	if err != nil && IsStatus(err, http.StatusConflict) {
		// Stack already exists
		return nil
	}
	return err
}

// ApplyConfiguration writes the deployment settings for the stack. The last
// write wins.
func (c *Client) ApplyConfiguration(ctx context.Context, stack string, params deployment.Parameters) error {
	settings := c.buildSettings(stack, params)
	return c.call(ctx, "apply_configuration", stack, http.MethodPost,
		c.stackPath(stack, "deployments", "settings"), settings, nil)
}

type triggerRequest struct {
	Operation       string `json:"operation"`
	InheritSettings bool   `json:"inheritSettings"`
}

type triggerResponse struct {
	ID      string `json:"id"`
	Version int    `json:"version,omitempty"`
}

// Trigger starts an operation on the stack and returns the remote job id.
func (c *Client) Trigger(ctx context.Context, stack string, op deployment.Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", deployment.NewValidationError(err.Error(), err)
	}

	var resp triggerResponse
	err := c.call(ctx, "trigger", stack, http.MethodPost, c.stackPath(stack, "deployments"),
		triggerRequest{Operation: string(op), InheritSettings: true}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", deployment.NewRemoteUnavailableError("engine accepted trigger without a deployment id", nil).
			WithOperation("trigger")
	}

	c.logger.WithJob(stack).WithRemoteJob(resp.ID).Infof("triggered %s", op)
	return resp.ID, nil
}

type statusResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PollStatus reads the state of a remote deployment.
func (c *Client) PollStatus(ctx context.Context, stack, remoteJobID string) (PollResult, error) {
	var resp statusResponse
	err := c.call(ctx, "poll_status", stack, http.MethodGet,
		c.stackPath(stack, "deployments", remoteJobID), nil, &resp)
	if err != nil {
		return PollResult{}, err
	}

	return PollResult{
		State:     normalizeState(resp.Status),
		RawStatus: resp.Status,
		Message:   resp.Message,
	}, nil
}

type exportResponse struct {
	Deployment struct {
		Resources []struct {
			URN     string         `json:"urn"`
			Type    string         `json:"type"`
			Outputs map[string]any `json:"outputs"`
		} `json:"resources"`
	} `json:"deployment"`
}

// stackResourceType identifies the root resource that carries stack outputs.
const stackResourceType = "pulumi:pulumi:Stack"

// FetchOutputs returns the stack outputs, or an empty map when the stack has none.
func (c *Client) FetchOutputs(ctx context.Context, stack string) (map[string]any, error) {
	var resp exportResponse
	if err := c.call(ctx, "fetch_outputs", stack, http.MethodGet, c.stackPath(stack, "export"), nil, &resp); err != nil {
		return nil, err
	}

	for _, res := range resp.Deployment.Resources {
		if res.Type == stackResourceType {
			if res.Outputs == nil {
				return map[string]any{}, nil
			}
			return res.Outputs, nil
		}
	}
	return map[string]any{}, nil
}

// TearDown deletes the stack record from the engine. With force the stack is
// removed even if it still tracks resources.
func (c *Client) TearDown(ctx context.Context, stack string, force bool) error {
	path := c.stackPath(stack)
	if force {
		path += "?" + url.Values{"force": []string{"true"}}.Encode()
	}
	return c.call(ctx, "tear_down", stack, http.MethodDelete, path, nil, nil)
}
