package stores

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresStore implements JobStore on a pgx connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
	cfg  Config
}

// NewPostgresStore creates a new Postgres store instance
func NewPostgresStore(cfg Config) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	cfg.applyDefaults()

	return &PostgresStore{
		dsn: cfg.DSN,
		cfg: cfg,
	}, nil
}

// Init creates the connection pool and verifies connectivity.
func (s *PostgresStore) Init(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(s.dsn)
	if err != nil {
		return fmt.Errorf("failed to parse database dsn: %w", err)
	}

	poolCfg.MaxConns = int32(s.cfg.MaxOpenConns)
	poolCfg.MinConns = int32(min(s.cfg.MaxIdleConns, s.cfg.MaxOpenConns))
	poolCfg.MaxConnLifetime = s.cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.pool = pool
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *PostgresStore) Migrate(_ context.Context) error {
	if s.pool == nil {
		return errNotInitialized
	}

	sourceDriver, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Create inserts a new job record
func (s *PostgresStore) Create(ctx context.Context, job *deployment.Job) error {
	if err := prepareNewJob(job, time.Now().UTC()); err != nil {
		return err
	}

	outputs, err := encodeOutputs(job.Outputs)
	if err != nil {
		return persistenceError("create job", err)
	}

	query := `
		INSERT INTO deployment_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (job_key) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query,
		job.Key,
		job.CustomerID,
		job.Environment,
		job.CloudRegion,
		job.RoleARN,
		string(job.Status),
		string(job.Operation),
		job.Attempt,
		job.RemoteJobID,
		job.RemoteAttempt,
		string(job.RemoteOperation),
		outputs,
		job.ErrorDetail,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return persistenceError("create job", err)
	}

	if tag.RowsAffected() == 0 {
		return deployment.NewAlreadyExistsError(fmt.Sprintf("job already exists: %s", job.Key), nil).WithJob(job.Key)
	}

	return nil
}

// Get retrieves a job by key
func (s *PostgresStore) Get(ctx context.Context, key string) (*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE job_key = $1`

	job, err := scanPgJob(s.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, persistenceError("get job", err)
	}

	return job, nil
}

// ListByCustomer lists the jobs of one customer
func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID string) ([]*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE customer_id = $1 ORDER BY environment`

	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}

	return collectPgJobs(rows)
}

// ListByStatus lists jobs in any of the given statuses
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...deployment.Status) ([]*deployment.Job, error) {
	if len(statuses) == 0 {
		return []*deployment.Job{}, nil
	}

	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE status = ANY($1) ORDER BY updated_at`

	rows, err := s.pool.Query(ctx, query, statusStrings(statuses))
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}

	return collectPgJobs(rows)
}

// UpdateStatus moves a job to a new status while holding its row lock
func (s *PostgresStore) UpdateStatus(ctx context.Context, key string, status deployment.Status, update deployment.StatusUpdate) (*deployment.Job, error) {
	var job *deployment.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := s.lockTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := applyStatusUpdate(current, status, update, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.writeTx(ctx, tx, current); err != nil {
			return err
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Reset starts a new attempt on an existing job
func (s *PostgresStore) Reset(ctx context.Context, next *deployment.Job, expect ...deployment.Status) (*deployment.Job, error) {
	key := deployment.JobKey(next.CustomerID, next.Environment)

	var job *deployment.Job
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := s.lockTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := applyReset(current, next, expect, time.Now().UTC()); err != nil {
			return err
		}
		if err := s.writeTx(ctx, tx, current); err != nil {
			return err
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// AppendEvent appends a new event to the job's audit log
func (s *PostgresStore) AppendEvent(ctx context.Context, event *deployment.Event) error {
	prepareEvent(event, time.Now().UTC())

	query := `
		INSERT INTO job_events (id, job_key, attempt, from_status, to_status, message, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		event.ID,
		event.JobKey,
		event.Attempt,
		nullableStatus(event.FromStatus),
		string(event.ToStatus),
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return persistenceError("append event", err)
	}

	return nil
}

// ListEvents lists the events of a job oldest first
func (s *PostgresStore) ListEvents(ctx context.Context, key string, limit int) ([]*deployment.Event, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	query := `
		SELECT id, job_key, attempt, from_status, to_status, message, timestamp
		FROM job_events
		WHERE job_key = $1
		ORDER BY seq
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, key, limitArg)
	if err != nil {
		return nil, persistenceError("list events", err)
	}
	defer rows.Close()

	events := []*deployment.Event{}
	for rows.Next() {
		event := &deployment.Event{}
		var from, to *string
		err := rows.Scan(
			&event.ID,
			&event.JobKey,
			&event.Attempt,
			&from,
			&to,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, persistenceError("scan event", err)
		}
		if from != nil {
			event.FromStatus = deployment.Status(*from)
		}
		if to != nil {
			event.ToStatus = deployment.Status(*to)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate events", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return persistenceError("ping database", errNotInitialized)
	}

	if err := s.pool.Ping(ctx); err != nil {
		return persistenceError("ping database", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return persistenceError("begin transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return persistenceError("commit transaction", err)
	}
	return nil
}

func (s *PostgresStore) lockTx(ctx context.Context, tx pgx.Tx, key string) (*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE job_key = $1 FOR UPDATE`

	job, err := scanPgJob(tx.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, persistenceError("lock job", err)
	}
	return job, nil
}

func (s *PostgresStore) writeTx(ctx context.Context, tx pgx.Tx, job *deployment.Job) error {
	outputs, err := encodeOutputs(job.Outputs)
	if err != nil {
		return persistenceError("update job", err)
	}

	query := `
		UPDATE deployment_jobs
		SET cloud_region = $1, role_arn = $2, status = $3, operation = $4, attempt = $5,
		    remote_job_id = $6, remote_attempt = $7, remote_operation = $8,
		    outputs = $9, error_detail = $10, updated_at = $11
		WHERE job_key = $12
	`

	_, err = tx.Exec(ctx, query,
		job.CloudRegion,
		job.RoleARN,
		string(job.Status),
		string(job.Operation),
		job.Attempt,
		job.RemoteJobID,
		job.RemoteAttempt,
		string(job.RemoteOperation),
		outputs,
		job.ErrorDetail,
		job.UpdatedAt,
		job.Key,
	)
	if err != nil {
		return persistenceError("update job", err)
	}
	return nil
}

func scanPgJob(row pgx.Row) (*deployment.Job, error) {
	job := &deployment.Job{}
	var status, operation, remoteOperation string
	var outputs []byte
	err := row.Scan(
		&job.Key,
		&job.CustomerID,
		&job.Environment,
		&job.CloudRegion,
		&job.RoleARN,
		&status,
		&operation,
		&job.Attempt,
		&job.RemoteJobID,
		&job.RemoteAttempt,
		&remoteOperation,
		&outputs,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = deployment.Status(status)
	job.Operation = deployment.Operation(operation)
	job.RemoteOperation = deployment.Operation(remoteOperation)
	job.Outputs, err = decodeOutputs(outputs)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func collectPgJobs(rows pgx.Rows) ([]*deployment.Job, error) {
	defer rows.Close()

	jobs := []*deployment.Job{}
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, persistenceError("scan job", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate jobs", err)
	}

	return jobs, nil
}
