package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/configrepo"
	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/queue"
	"github.com/KshitijBhardwaj18/automation1/pkg/remote"
	"github.com/KshitijBhardwaj18/automation1/pkg/stores"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu sync.Mutex

	calls []string

	ensureErr   error
	applyErr    error
	triggerErr  error
	pollErr     error
	outputsErr  error
	teardownErr error

	pollState   remote.JobState
	pollMessage string
	outputs     map[string]any

	// triggerDelay holds Trigger open to widen race windows.
	triggerDelay time.Duration

	nextID  int
	applied map[string]deployment.Parameters
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		pollState: remote.JobStateRunning,
		outputs:   map[string]any{"cluster_name": "acme-co-prod-eks"},
		applied:   map[string]deployment.Parameters{},
	}
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// count returns how many recorded calls start with prefix.
func (f *fakeEngine) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeEngine) set(fn func(*fakeEngine)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeEngine) EnsureRemoteProject(_ context.Context, stack string) error {
	f.record("ensure:" + stack)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureErr
}

func (f *fakeEngine) ApplyConfiguration(_ context.Context, stack string, params deployment.Parameters) error {
	f.record("apply:" + stack)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied[stack] = params
	return nil
}

func (f *fakeEngine) Trigger(_ context.Context, stack string, op deployment.Operation) (string, error) {
	f.record(fmt.Sprintf("trigger:%s:%s", stack, op))
	f.mu.Lock()
	delay := f.triggerDelay
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggerErr != nil {
		return "", f.triggerErr
	}
	f.nextID++
	return fmt.Sprintf("dep-%d", f.nextID), nil
}

func (f *fakeEngine) PollStatus(_ context.Context, stack, remoteJobID string) (remote.PollResult, error) {
	f.record(fmt.Sprintf("poll:%s:%s", stack, remoteJobID))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return remote.PollResult{}, f.pollErr
	}
	return remote.PollResult{State: f.pollState, RawStatus: string(f.pollState), Message: f.pollMessage}, nil
}

func (f *fakeEngine) FetchOutputs(_ context.Context, stack string) (map[string]any, error) {
	f.record("outputs:" + stack)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outputsErr != nil {
		return nil, f.outputsErr
	}
	return f.outputs, nil
}

func (f *fakeEngine) TearDown(_ context.Context, stack string, force bool) error {
	f.record(fmt.Sprintf("teardown:%s:%t", stack, force))
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teardownErr
}

// recordingQueue keeps enqueued tasks so tests can run them deterministically.
type recordingQueue struct {
	mu         sync.Mutex
	tasks      []queue.Task
	enqueueErr error
}

func (q *recordingQueue) Enqueue(_ context.Context, task queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Start(context.Context, queue.Handler) error { return nil }

func (q *recordingQueue) Close() error { return nil }

func (q *recordingQueue) take() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks
}

// failingRepository fails every Save.
type failingRepository struct {
	configrepo.Repository
}

func (failingRepository) Save(context.Context, string, deployment.Parameters) error {
	return errors.New("disk full")
}

type harness struct {
	orch    *Orchestrator
	store   *stores.SQLiteStore
	engine  *fakeEngine
	queue   *recordingQueue
	configs configrepo.Repository
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	configs, err := configrepo.NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create config repository: %v", err)
	}

	h := &harness{
		store:   store,
		engine:  newFakeEngine(),
		queue:   &recordingQueue{},
		configs: configs,
	}
	h.orch = New(store, h.engine, configs, h.queue, nil, cfg)
	return h
}

// drain runs every queued task on the calling goroutine.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for _, task := range h.queue.take() {
		_ = h.orch.runTask(context.Background(), task)
	}
}

func (h *harness) job(t *testing.T, key string) *deployment.Job {
	t.Helper()
	job, err := h.store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", key, err)
	}
	return job
}

func onboardRequest(customer, env string) *deployment.OnboardRequest {
	return &deployment.OnboardRequest{
		CustomerID:  customer,
		Environment: env,
		RoleARN:     "arn:aws:iam::123456789012:role/ByocDeployer",
		ExternalID:  "external-id-123",
		AWSRegion:   "eu-west-1",
	}
}

// deploy submits, runs the sequence and reconciles to succeeded.
func (h *harness) deploy(t *testing.T, customer, env string) *deployment.Job {
	t.Helper()
	ctx := context.Background()
	if _, err := h.orch.Submit(ctx, onboardRequest(customer, env)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.drain(t)

	h.engine.set(func(f *fakeEngine) { f.pollState = remote.JobStateSucceeded })
	defer h.engine.set(func(f *fakeEngine) { f.pollState = remote.JobStateRunning })

	job, err := h.orch.GetStatus(ctx, customer, env)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if job.Status != deployment.StatusSucceeded {
		t.Fatalf("deploy left job %s", job.Status)
	}
	return job
}
