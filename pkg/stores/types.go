package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// JobStore is the durable record of deployment jobs and their audit events.
// Implementations must make Create, UpdateStatus and Reset atomic per job key.
type JobStore interface {
	// Init opens the underlying connection.
	Init(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	// Create inserts a new job. Fails with ALREADY_EXISTS if the key is taken.
	Create(ctx context.Context, job *deployment.Job) error

	// Get returns the job for key. Fails with NOT_FOUND if absent.
	Get(ctx context.Context, key string) (*deployment.Job, error)

	// ListByCustomer returns every job of a customer ordered by environment.
	ListByCustomer(ctx context.Context, customerID string) ([]*deployment.Job, error)

	// ListByStatus returns every job in one of the given statuses.
	ListByStatus(ctx context.Context, statuses ...deployment.Status) ([]*deployment.Job, error)

	// UpdateStatus moves the job to status, applying the fields set in update,
	// and returns the updated job.
	UpdateStatus(ctx context.Context, key string, status deployment.Status, update deployment.StatusUpdate) (*deployment.Job, error)

	// Reset starts a new attempt on an existing key. The current status must be
	// one of expect. The stored job is replaced by job with status pending and
	// the attempt counter incremented.
	Reset(ctx context.Context, job *deployment.Job, expect ...deployment.Status) (*deployment.Job, error)

	// AppendEvent records an audit event.
	AppendEvent(ctx context.Context, event *deployment.Event) error

	// ListEvents returns the events of a job in chronological order.
	ListEvents(ctx context.Context, key string, limit int) ([]*deployment.Event, error)

	// HealthCheck verifies the backing database is reachable.
	HealthCheck(ctx context.Context) error
}

// Driver names accepted by New.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds job store configuration
type Config struct {
	Driver          string
	Path            string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
}

// New creates the job store selected by cfg.Driver. The store still needs Init.
func New(cfg Config) (JobStore, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLiteStore(cfg)
	case DriverPostgres:
		return NewPostgresStore(cfg)
	default:
		return nil, deployment.NewValidationError(fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}
}
