// Package queue runs the background deployment sequence outside the request
// that started it. Two implementations exist: an in-process worker pool and
// a Redis list based queue that survives restarts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

var (
	// ErrClosed is returned when enqueueing on a closed queue.
	ErrClosed = errors.New("queue is closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("queue already started")
)

// Task is one unit of background work for a job attempt.
type Task struct {
	ID         string                `json:"id"`
	Key        string                `json:"job_key"`
	Attempt    int                   `json:"attempt"`
	Operation  deployment.Operation  `json:"operation"`
	Parameters deployment.Parameters `json:"parameters"`
	EnqueuedAt time.Time             `json:"enqueued_at"`
}

// NewTask creates a task for the given job attempt.
func NewTask(key string, attempt int, op deployment.Operation, params deployment.Parameters) Task {
	return Task{
		ID:         uuid.New().String(),
		Key:        key,
		Attempt:    attempt,
		Operation:  op,
		Parameters: params,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Handler processes a task. A returned error is logged; tasks are never retried.
type Handler func(ctx context.Context, task Task) error

// Queue hands tasks to a pool of workers.
type Queue interface {
	// Enqueue schedules a task.
	Enqueue(ctx context.Context, task Task) error

	// Start launches the workers. They stop when ctx is done or Close is called.
	Start(ctx context.Context, handler Handler) error

	// Close stops the workers and waits for in-flight tasks to finish.
	Close() error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config configures a queue.
type Config struct {
	Backend string

	// Workers is the number of concurrent task handlers.
	Workers int

	// Buffer is the capacity of the in-memory queue.
	Buffer int

	Redis RedisConfig
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
}

// New creates the queue selected by cfg.Backend.
func New(cfg Config, tel *telemetry.Telemetry) (Queue, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryQueue(cfg, tel), nil
	case BackendRedis:
		return NewRedisQueue(cfg, tel)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func encodeTask(task Task) (string, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to encode task: %w", err)
	}
	return string(data), nil
}

func decodeTask(raw string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.Key == "" {
		return Task{}, fmt.Errorf("task has no job key")
	}
	return task, nil
}

// runHandler invokes the handler, converting a panic into an error.
func runHandler(ctx context.Context, handler Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return handler(ctx, task)
}

func telemetryOrNop(tel *telemetry.Telemetry) *telemetry.Telemetry {
	if tel == nil {
		return telemetry.NewNopTelemetry()
	}
	return tel
}
