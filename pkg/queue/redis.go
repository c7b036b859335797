package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KshitijBhardwaj18/automation1/pkg/telemetry"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces the pending and processing lists.
	Prefix string

	// PollTimeout bounds each blocking pop so workers notice shutdown.
	PollTimeout time.Duration
}

// RedisQueue keeps tasks in a pending list and moves each one to a
// processing list while it runs. Entries left in the processing list by a
// crashed process are moved back to pending on Start.
type RedisQueue struct {
	cfg     Config
	client  *redis.Client
	logger  *telemetry.Logger
	metrics *telemetry.Metrics

	pendingKey    string
	processingKey string

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(cfg Config, tel *telemetry.Telemetry) (*RedisQueue, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisQueueWithClient(client, cfg, tel), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, cfg Config, tel *telemetry.Telemetry) *RedisQueue {
	cfg.applyDefaults()
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "byoc:tasks:"
	}
	if cfg.Redis.PollTimeout <= 0 {
		cfg.Redis.PollTimeout = 2 * time.Second
	}
	tel = telemetryOrNop(tel)

	return &RedisQueue{
		cfg:           cfg,
		client:        client,
		logger:        tel.Logger.NewComponentLogger("queue"),
		metrics:       tel.Metrics,
		pendingKey:    cfg.Redis.Prefix + "pending",
		processingKey: cfg.Redis.Prefix + "processing",
	}
}

// Enqueue pushes the task onto the pending list.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	raw, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pendingKey, raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task for %s: %w", task.Key, err)
	}
	q.reportDepth(ctx)
	return nil
}

// Start requeues orphaned tasks and launches the workers.
func (q *RedisQueue) Start(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.started {
		return ErrAlreadyStarted
	}

	requeued, err := q.requeueOrphans(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 {
		q.logger.WithField("count", requeued).Warn("Requeued tasks left in processing by a previous run")
	}

	q.started = true
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i, handler)
	}
	q.logger.WithField("workers", q.cfg.Workers).Debug("Redis queue started")
	return nil
}

func (q *RedisQueue) requeueOrphans(ctx context.Context) (int, error) {
	count := 0
	for {
		err := q.client.LMove(ctx, q.processingKey, q.pendingKey, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to requeue orphaned tasks: %w", err)
		}
		count++
	}
}

func (q *RedisQueue) worker(ctx context.Context, id int, handler Handler) {
	defer q.wg.Done()
	logger := q.logger.WithField("worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		raw, err := q.client.BLMove(ctx, q.pendingKey, q.processingKey, "RIGHT", "LEFT", q.cfg.Redis.PollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Failed to pop task")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		q.reportDepth(ctx)

		task, err := decodeTask(raw)
		if err != nil {
			logger.WithError(err).Error("Dropping undecodable task")
		} else if err := runHandler(context.WithoutCancel(ctx), handler, task); err != nil {
			logger.WithJob(task.Key).WithError(err).Warn("Task failed")
		}

		// The ack must land even if shutdown started while the task ran.
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := q.client.LRem(ackCtx, q.processingKey, 1, raw).Err(); err != nil {
			logger.WithError(err).Error("Failed to acknowledge task")
		}
		cancel()
	}
}

func (q *RedisQueue) reportDepth(ctx context.Context) {
	if n, err := q.client.LLen(ctx, q.pendingKey).Result(); err == nil {
		q.metrics.SetQueueDepth(float64(n))
	}
}

// Close stops the workers, waits for running handlers and closes the client.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	return q.client.Close()
}
