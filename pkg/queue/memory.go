package queue

import (
	"context"
	"sync"

	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// MemoryQueue is a buffered channel drained by a fixed pool of workers.
// Tasks still buffered when the process exits are lost.
type MemoryQueue struct {
	cfg     Config
	tasks   chan Task
	done    chan struct{}
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	mu      sync.Mutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(cfg Config, tel *telemetry.Telemetry) *MemoryQueue {
	cfg.applyDefaults()
	tel = telemetryOrNop(tel)
	return &MemoryQueue{
		cfg:     cfg,
		tasks:   make(chan Task, cfg.Buffer),
		done:    make(chan struct{}),
		logger:  tel.Logger.NewComponentLogger("queue"),
		metrics: tel.Metrics,
	}
}

// Enqueue blocks until the task is buffered, the queue closes or ctx is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.tasks <- task:
		q.metrics.SetQueueDepth(float64(len(q.tasks)))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches cfg.Workers workers.
func (q *MemoryQueue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i, handler)
	}
	q.logger.WithField("workers", q.cfg.Workers).Debug("Memory queue started")
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context, id int, handler Handler) {
	defer q.wg.Done()
	logger := q.logger.WithField("worker", id)

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case task := <-q.tasks:
			q.metrics.SetQueueDepth(float64(len(q.tasks)))
			// A started sequence runs to completion even when the queue stops.
			if err := runHandler(context.WithoutCancel(ctx), handler, task); err != nil {
				logger.WithJob(task.Key).WithError(err).Warn("Task failed")
			}
		}
	}
}

// Len returns the number of buffered tasks.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}

// Close stops the workers and waits for running handlers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
