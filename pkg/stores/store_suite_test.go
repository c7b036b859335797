package stores

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// storeSuite runs against every JobStore backend.
var storeSuite = []struct {
	name string
	run  func(t *testing.T, store JobStore)
}{
	{"CreateAndGet", testJobCreateAndGet},
	{"CreateRejectsMismatchedKey", testJobCreateRejectsMismatchedKey},
	{"ConcurrentCreate", testConcurrentCreate},
	{"UpdateStatusLifecycle", testUpdateStatusLifecycle},
	{"UpdateStatusInvariants", testUpdateStatusInvariants},
	{"SucceededOutputsNeverNull", testSucceededOutputsNeverNull},
	{"ConcurrentConditionalUpdate", testConcurrentConditionalUpdate},
	{"ResetStartsNewAttempt", testResetStartsNewAttempt},
	{"ListJobs", testListJobs},
	{"EventOperations", testEventOperations},
	{"UpdateStatusOperation", testUpdateStatusOperation},
}

func runStoreSuite(t *testing.T, open func(t *testing.T) JobStore) {
	for _, tc := range storeSuite {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, open(t))
		})
	}
}

func newTestJob(customer, env string) *deployment.Job {
	return &deployment.Job{
		CustomerID:  customer,
		Environment: env,
		CloudRegion: "us-east-1",
		RoleARN:     "arn:aws:iam::123456789012:role/ByocDeployer",
	}
}

func testJobCreateAndGet(t *testing.T, store JobStore) {
	ctx := context.Background()

	job := newTestJob("acme-co", "prod")
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	if job.Key != "acme-co-prod" || job.Status != deployment.StatusPending || job.Attempt != 1 {
		t.Errorf("unexpected defaults: %+v", job)
	}

	got, err := store.Get(ctx, "acme-co-prod")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.CustomerID != "acme-co" || got.Environment != "prod" || got.Operation != deployment.OperationUpdate {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.RemoteJobID != nil || got.Outputs != nil || got.ErrorDetail != nil {
		t.Errorf("expected empty optional fields: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); !deployment.IsCode(err, deployment.ErrCodeAlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS, got %v", err)
	}

	if _, err := store.Get(ctx, "missing-prod"); !deployment.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func testJobCreateRejectsMismatchedKey(t *testing.T, store JobStore) {

	job := newTestJob("acme-co", "prod")
	job.Key = "other-prod"
	if err := store.Create(context.Background(), job); !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func testConcurrentCreate(t *testing.T, store JobStore) {
	ctx := context.Background()

	const workers = 8
	var created, exists atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Create(ctx, newTestJob("acme-co", "prod"))
			switch {
			case err == nil:
				created.Add(1)
			case deployment.IsCode(err, deployment.ErrCodeAlreadyExists):
				exists.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 || exists.Load() != workers-1 {
		t.Errorf("expected exactly one create, got created=%d exists=%d", created.Load(), exists.Load())
	}
}

func testUpdateStatusLifecycle(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	job, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusInProgress, deployment.StatusUpdate{
		ExpectStatus: []deployment.Status{deployment.StatusPending},
	})
	if err != nil {
		t.Fatalf("failed to start job: %v", err)
	}
	if job.Status != deployment.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", job.Status)
	}

	job, err = store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusInProgress, deployment.StatusUpdate{
		RemoteJobID: deployment.Some("dep-1"),
	})
	if err != nil {
		t.Fatalf("failed to record remote id: %v", err)
	}
	if job.RemoteJobID == nil || *job.RemoteJobID != "dep-1" {
		t.Fatalf("expected remote id dep-1, got %v", job.RemoteJobID)
	}
	if id, ok := job.CurrentRemoteJobID(); !ok || id != "dep-1" {
		t.Errorf("expected dep-1 to be current, got %q (%t)", id, ok)
	}

	outputs := map[string]any{"cluster_name": "acme-co-prod", "node_count": float64(2)}
	if _, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusSucceeded, deployment.StatusUpdate{
		Outputs: deployment.Some(outputs),
	}); err != nil {
		t.Fatalf("failed to complete job: %v", err)
	}

	got, err := store.Get(ctx, "acme-co-prod")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.Status != deployment.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", got.Status)
	}
	if got.Outputs["cluster_name"] != "acme-co-prod" || got.Outputs["node_count"] != float64(2) {
		t.Errorf("unexpected outputs: %v", got.Outputs)
	}
	if got.RemoteJobID == nil || *got.RemoteJobID != "dep-1" {
		t.Error("remote job id must survive later updates")
	}

	// Leaving succeeded clears outputs.
	got, err = store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusDestroying, deployment.StatusUpdate{
		RemoteJobID: deployment.Some("dep-2"),
	})
	if err != nil {
		t.Fatalf("failed to start destroy: %v", err)
	}
	if got.Outputs != nil {
		t.Errorf("expected outputs to be cleared, got %v", got.Outputs)
	}
}

func testUpdateStatusInvariants(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	// Outputs are dropped unless the job succeeded.
	job, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusFailed, deployment.StatusUpdate{
		Outputs:     deployment.Some(map[string]any{"x": "y"}),
		ErrorDetail: deployment.Some("stack creation failed"),
	})
	if err != nil {
		t.Fatalf("failed to fail job: %v", err)
	}
	if job.Outputs != nil {
		t.Error("expected outputs to be dropped on failed job")
	}
	if job.ErrorDetail == nil || *job.ErrorDetail != "stack creation failed" {
		t.Errorf("expected error detail, got %v", job.ErrorDetail)
	}

	tests := []struct {
		name   string
		status deployment.Status
		update deployment.StatusUpdate
		code   string
	}{
		{name: "skip to succeeded", status: deployment.StatusSucceeded, code: deployment.ErrCodeInvalidTransition},
		{name: "back to in progress", status: deployment.StatusInProgress, code: deployment.ErrCodeInvalidTransition},
		{name: "unknown status", status: "bogus", code: deployment.ErrCodeValidation},
		{
			name:   "expectation mismatch",
			status: deployment.StatusDestroying,
			update: deployment.StatusUpdate{ExpectStatus: []deployment.Status{deployment.StatusSucceeded}},
			code:   deployment.ErrCodeInvalidTransition,
		},
		{
			name:   "empty remote id",
			status: deployment.StatusFailed,
			update: deployment.StatusUpdate{RemoteJobID: deployment.Some("")},
			code:   deployment.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.UpdateStatus(ctx, "acme-co-prod", tt.status, tt.update)
			if !deployment.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	// Rejected updates leave the record untouched.
	got, err := store.Get(ctx, "acme-co-prod")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.Status != deployment.StatusFailed || got.ErrorDetail == nil {
		t.Errorf("expected failed job to be unchanged, got %+v", got)
	}

	if _, err := store.UpdateStatus(ctx, "missing-prod", deployment.StatusFailed, deployment.StatusUpdate{}); !deployment.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func testConcurrentConditionalUpdate(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	const workers = 6
	var won atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusInProgress, deployment.StatusUpdate{
				ExpectStatus: []deployment.Status{deployment.StatusPending},
			})
			if err == nil {
				won.Add(1)
			} else if !deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", won.Load())
	}
}

func testResetStartsNewAttempt(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusInProgress, deployment.StatusUpdate{
		RemoteJobID: deployment.Some("dep-1"),
	}); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}

	next := newTestJob("acme-co", "prod")
	next.CloudRegion = "eu-west-1"
	if _, err := store.Reset(ctx, next, deployment.StatusFailed, deployment.StatusDestroyed); !deployment.IsCode(err, deployment.ErrCodeInvalidTransition) {
		t.Fatalf("expected reset of in-progress job to fail, got %v", err)
	}

	if _, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusFailed, deployment.StatusUpdate{
		ErrorDetail: deployment.Some("boom"),
	}); err != nil {
		t.Fatalf("failed to fail job: %v", err)
	}

	job, err := store.Reset(ctx, next, deployment.StatusFailed, deployment.StatusDestroyed)
	if err != nil {
		t.Fatalf("failed to reset job: %v", err)
	}
	if job.Status != deployment.StatusPending || job.Attempt != 2 || job.CloudRegion != "eu-west-1" {
		t.Errorf("unexpected reset job: %+v", job)
	}
	if job.ErrorDetail != nil || job.Outputs != nil {
		t.Errorf("expected a clean attempt, got %+v", job)
	}
	// The previous remote job id is kept but no longer current.
	if job.RemoteJobID == nil || *job.RemoteJobID != "dep-1" || job.RemoteAttempt != 1 {
		t.Errorf("expected dep-1 from attempt 1 to be kept, got %v (attempt %d)", job.RemoteJobID, job.RemoteAttempt)
	}
	if _, ok := job.CurrentRemoteJobID(); ok {
		t.Error("expected previous attempt's remote id not to be current")
	}

	stored, err := store.Get(ctx, "acme-co-prod")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if stored.RemoteJobID == nil || *stored.RemoteJobID != "dep-1" || stored.RemoteAttempt != 1 || stored.RemoteOperation != deployment.OperationUpdate {
		t.Errorf("expected stored remote id to survive reset, got %+v", stored)
	}

	if _, err := store.Reset(ctx, newTestJob("ghost-co", "prod")); !deployment.IsNotFound(err) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func testListJobs(t *testing.T, store JobStore) {
	ctx := context.Background()

	for _, env := range []string{"prod", "dev", "staging"} {
		if err := store.Create(ctx, newTestJob("acme-co", env)); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
	}
	if err := store.Create(ctx, newTestJob("globex", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, "acme-co-dev", deployment.StatusInProgress, deployment.StatusUpdate{}); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	jobs, err := store.ListByCustomer(ctx, "acme-co")
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs) != 3 || jobs[0].Environment != "dev" || jobs[2].Environment != "staging" {
		t.Errorf("expected 3 jobs ordered by environment, got %d", len(jobs))
	}

	jobs, err = store.ListByCustomer(ctx, "nobody")
	if err != nil || len(jobs) != 0 {
		t.Errorf("expected empty list, got %d (%v)", len(jobs), err)
	}

	jobs, err = store.ListByStatus(ctx, deployment.StatusPending)
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected 3 pending jobs, got %d", len(jobs))
	}

	jobs, err = store.ListByStatus(ctx, deployment.StatusInProgress, deployment.StatusDestroying)
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Key != "acme-co-dev" {
		t.Errorf("expected acme-co-dev in progress, got %v", jobs)
	}

	if jobs, _ := store.ListByStatus(ctx); len(jobs) != 0 {
		t.Error("expected no statuses to match nothing")
	}
}

func testEventOperations(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	events := []*deployment.Event{
		{JobKey: "acme-co-prod", Attempt: 1, ToStatus: deployment.StatusPending, Message: "job submitted"},
		{JobKey: "acme-co-prod", Attempt: 1, FromStatus: deployment.StatusPending, ToStatus: deployment.StatusInProgress, Message: "trigger started"},
		{JobKey: "acme-co-prod", Attempt: 1, FromStatus: deployment.StatusInProgress, ToStatus: deployment.StatusFailed, Message: "boom"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Errorf("expected id and timestamp to be assigned: %+v", e)
		}
	}

	got, err := store.ListEvents(ctx, "acme-co-prod", 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].FromStatus != "" || got[0].ToStatus != deployment.StatusPending {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[2].ToStatus != deployment.StatusFailed || got[2].Message != "boom" {
		t.Errorf("unexpected last event: %+v", got[2])
	}

	got, err = store.ListEvents(ctx, "acme-co-prod", 2)
	if err != nil || len(got) != 2 {
		t.Errorf("expected limit to apply, got %d (%v)", len(got), err)
	}

	// Events must reference an existing job.
	if err := store.AppendEvent(ctx, &deployment.Event{JobKey: "ghost-prod", ToStatus: deployment.StatusPending, Message: "x"}); err == nil {
		t.Error("expected foreign key violation for unknown job")
	}
}

func testUpdateStatusOperation(t *testing.T, store JobStore) {
	ctx := context.Background()

	job := newTestJob("acme-co", "prod")
	job.Status = deployment.StatusSucceeded
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	updated, err := store.UpdateStatus(ctx, job.Key, deployment.StatusDestroying, deployment.StatusUpdate{
		RemoteJobID: deployment.Some("dep-9"),
		Operation:   deployment.Some(deployment.OperationDestroy),
	})
	if err != nil {
		t.Fatalf("failed to update job: %v", err)
	}
	if updated.Operation != deployment.OperationDestroy {
		t.Errorf("expected operation destroy, got %s", updated.Operation)
	}

	stored, err := store.Get(ctx, job.Key)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if stored.Operation != deployment.OperationDestroy {
		t.Errorf("expected stored operation destroy, got %s", stored.Operation)
	}

	_, err = store.UpdateStatus(ctx, job.Key, deployment.StatusDestroying, deployment.StatusUpdate{
		Operation: deployment.Some(deployment.Operation("explode")),
	})
	if !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Errorf("expected validation error for unknown operation, got %v", err)
	}
}

func testSucceededOutputsNeverNull(t *testing.T, store JobStore) {
	ctx := context.Background()

	if err := store.Create(ctx, newTestJob("acme-co", "prod")); err != nil {
		t.Fatalf("failed to create job: %v", err)
	}
	if _, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusInProgress, deployment.StatusUpdate{}); err != nil {
		t.Fatalf("failed to start job: %v", err)
	}

	job, err := store.UpdateStatus(ctx, "acme-co-prod", deployment.StatusSucceeded, deployment.StatusUpdate{})
	if err != nil {
		t.Fatalf("failed to complete job: %v", err)
	}
	if job.Outputs == nil || len(job.Outputs) != 0 {
		t.Errorf("expected empty outputs on succeeded job, got %v", job.Outputs)
	}

	stored, err := store.Get(ctx, "acme-co-prod")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if stored.Outputs == nil {
		t.Error("expected stored outputs to be an empty object, got nil")
	}
}
