package orchestrator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/policy"
)

func TestSubmitAdmission(t *testing.T) {
	h := newHarness(t, Config{})
	eng, err := policy.NewEngine(policy.Limits{AllowedRegions: []string{"us-east-1"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	h.orch.WithAdmission(eng)
	ctx := context.Background()

	_, err = h.orch.Submit(ctx, onboardRequest("acme", "prod"))
	if !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Fatalf("Submit() error = %v, want VALIDATION_ERROR", err)
	}
	if _, err := h.store.Get(ctx, "acme-prod"); !deployment.IsNotFound(err) {
		t.Errorf("rejected request created a job: %v", err)
	}
	if calls := h.engine.Calls(); len(calls) != 0 {
		t.Errorf("rejected request reached the engine: %v", calls)
	}
	if tasks := h.queue.take(); len(tasks) != 0 {
		t.Errorf("rejected request queued %d tasks", len(tasks))
	}

	req := onboardRequest("acme", "prod")
	req.AWSRegion = "us-east-1"
	job, err := h.orch.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.Status != deployment.StatusPending {
		t.Errorf("Status = %s, want pending", job.Status)
	}
}

func TestUpdateAdmission(t *testing.T) {
	h := newHarness(t, Config{})
	h.deploy(t, "acme", "prod")

	eng, err := policy.NewEngine(policy.Limits{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	h.orch.WithAdmission(eng)

	req := onboardRequest("acme", "prod")
	req.VPCCIDR = "8.8.0.0/16"
	if _, err := h.orch.Update(context.Background(), req); !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Fatalf("Update() error = %v, want VALIDATION_ERROR", err)
	}
	if job := h.job(t, "acme-prod"); job.Status != deployment.StatusSucceeded || job.Attempt != 1 {
		t.Errorf("job = %s attempt %d, want untouched", job.Status, job.Attempt)
	}
}
