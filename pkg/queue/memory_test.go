package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

func TestMemoryQueue_ProcessesTasks(t *testing.T) {
	q := NewMemoryQueue(Config{Workers: 3, Buffer: 10}, nil)
	defer q.Close()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	wg.Add(5)
	handler := func(_ context.Context, task Task) error {
		defer wg.Done()
		mu.Lock()
		seen[task.Key] = task.Attempt
		mu.Unlock()
		return nil
	}

	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, key := range []string{"a-prod", "b-prod", "c-prod", "d-prod", "e-prod"} {
		task := NewTask(key, 1, deployment.OperationUpdate, deployment.Parameters{})
		if err := q.Enqueue(context.Background(), task); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", key, err)
		}
	}

	waitOrFail(t, &wg)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 {
		t.Errorf("handled %d tasks, want 5", len(seen))
	}
}

func TestMemoryQueue_HandlerErrorsAndPanics(t *testing.T) {
	q := NewMemoryQueue(Config{Workers: 1, Buffer: 4}, nil)
	defer q.Close()

	var (
		handled atomic.Int32
		wg      sync.WaitGroup
	)
	wg.Add(3)
	handler := func(_ context.Context, task Task) error {
		defer wg.Done()
		handled.Add(1)
		switch task.Key {
		case "boom-prod":
			panic("boom")
		case "fail-prod":
			return errors.New("failed")
		}
		return nil
	}
	if err := q.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, key := range []string{"boom-prod", "fail-prod", "ok-prod"} {
		if err := q.Enqueue(context.Background(), Task{Key: key, Attempt: 1}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	waitOrFail(t, &wg)
	if got := handled.Load(); got != 3 {
		t.Errorf("handled = %d, want 3 (worker must survive panics)", got)
	}
}

func TestMemoryQueue_StartTwice(t *testing.T) {
	q := NewMemoryQueue(Config{}, nil)
	defer q.Close()

	noop := func(context.Context, Task) error { return nil }
	if err := q.Start(context.Background(), noop); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Start(context.Background(), noop); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestMemoryQueue_EnqueueAfterClose(t *testing.T) {
	q := NewMemoryQueue(Config{}, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := q.Enqueue(context.Background(), Task{Key: "a-prod"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() error = %v, want ErrClosed", err)
	}
	if err := q.Start(context.Background(), func(context.Context, Task) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("Start() error = %v, want ErrClosed", err)
	}
}

func TestMemoryQueue_EnqueueFullHonorsContext(t *testing.T) {
	q := NewMemoryQueue(Config{Buffer: 1}, nil)
	defer q.Close()

	if err := q.Enqueue(context.Background(), Task{Key: "a-prod"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, Task{Key: "b-prod"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enqueue() on full queue error = %v, want deadline exceeded", err)
	}
}

func TestMemoryQueue_CloseWaitsForRunningTask(t *testing.T) {
	q := NewMemoryQueue(Config{Workers: 1}, nil)

	started := make(chan struct{})
	var finished atomic.Bool
	handler := func(ctx context.Context, _ Task) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(ctx.Err() == nil)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := q.Enqueue(context.Background(), Task{Key: "a-prod"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	<-started
	cancel()
	if err := q.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !finished.Load() {
		t.Error("running task was cancelled or not awaited by Close")
	}
}

func TestTaskEncoding(t *testing.T) {
	task := NewTask("acme-co-prod", 2, deployment.OperationUpdate, deployment.Parameters{
		CustomerID:  "acme-co",
		Environment: "prod",
		AWSRegion:   "eu-west-1",
	})
	if task.ID == "" || task.EnqueuedAt.IsZero() {
		t.Fatalf("NewTask() did not set id and time: %+v", task)
	}

	raw, err := encodeTask(task)
	if err != nil {
		t.Fatalf("encodeTask() error = %v", err)
	}
	got, err := decodeTask(raw)
	if err != nil {
		t.Fatalf("decodeTask() error = %v", err)
	}
	if got.Key != task.Key || got.Attempt != 2 || got.Parameters.AWSRegion != "eu-west-1" {
		t.Errorf("decodeTask() = %+v", got)
	}

	if _, err := decodeTask(`{"attempt":1}`); err == nil {
		t.Error("decodeTask() accepted a task without a key")
	}
	if _, err := decodeTask("not json"); err == nil {
		t.Error("decodeTask() accepted invalid json")
	}
}

func TestNew_Backends(t *testing.T) {
	q, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("New() returned %T, want *MemoryQueue", q)
	}
	_ = q.Close()

	if _, err := New(Config{Backend: "kafka"}, nil); err == nil {
		t.Error("New() accepted an unknown backend")
	}
	if _, err := New(Config{Backend: BackendRedis}, nil); err == nil {
		t.Error("New() accepted redis without an address")
	}
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks")
	}
}
