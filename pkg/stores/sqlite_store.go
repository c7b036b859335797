package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

const memoryPath = ":memory:"

const jobColumns = `job_key, customer_id, environment, cloud_region, role_arn, status, operation,
		attempt, remote_job_id, remote_attempt, remote_operation, outputs, error_detail,
		created_at, updated_at`

// SQLiteStore implements JobStore using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	cfg.applyDefaults()

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Writers take the database lock at BEGIN so read-modify-write
	// transactions on a job cannot interleave.
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if s.path == memoryPath {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return errNotInitialized
	}

	sourceDriver, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Create inserts a new job record
func (s *SQLiteStore) Create(ctx context.Context, job *deployment.Job) error {
	if err := prepareNewJob(job, time.Now().UTC()); err != nil {
		return err
	}

	outputs, err := encodeOutputs(job.Outputs)
	if err != nil {
		return persistenceError("create job", err)
	}

	query := `
		INSERT INTO deployment_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_key) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		job.Key,
		job.CustomerID,
		job.Environment,
		job.CloudRegion,
		job.RoleARN,
		job.Status,
		job.Operation,
		job.Attempt,
		job.RemoteJobID,
		job.RemoteAttempt,
		job.RemoteOperation,
		nullableText(outputs),
		job.ErrorDetail,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return persistenceError("create job", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistenceError("get rows affected", err)
	}
	if rows == 0 {
		return deployment.NewAlreadyExistsError(fmt.Sprintf("job already exists: %s", job.Key), nil).WithJob(job.Key)
	}

	return nil
}

// Get retrieves a job by key
func (s *SQLiteStore) Get(ctx context.Context, key string) (*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE job_key = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, persistenceError("get job", err)
	}

	return job, nil
}

// ListByCustomer lists the jobs of one customer
func (s *SQLiteStore) ListByCustomer(ctx context.Context, customerID string) ([]*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE customer_id = ? ORDER BY environment`

	rows, err := s.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListByStatus lists jobs in any of the given statuses
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...deployment.Status) ([]*deployment.Job, error) {
	if len(statuses) == 0 {
		return []*deployment.Job{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE status IN (` + placeholders + `) ORDER BY updated_at`

	args := make([]any, len(statuses))
	for i, st := range statusStrings(statuses) {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistenceError("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// UpdateStatus moves a job to a new status inside a write transaction
func (s *SQLiteStore) UpdateStatus(ctx context.Context, key string, status deployment.Status, update deployment.StatusUpdate) (*deployment.Job, error) {
	var job *deployment.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTx(ctx, tx, key)
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
func (s *SQLiteStore) Reset(ctx context.Context, next *deployment.Job, expect ...deployment.Status) (*deployment.Job, error) {
	key := deployment.JobKey(next.CustomerID, next.Environment)

	var job *deployment.Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getTx(ctx, tx, key)
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
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *deployment.Event) error {
	prepareEvent(event, time.Now().UTC())

	query := `
		INSERT INTO job_events (id, job_key, attempt, from_status, to_status, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.JobKey,
		event.Attempt,
		nullableStatus(event.FromStatus),
		event.ToStatus,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return persistenceError("append event", err)
	}

	return nil
}

// ListEvents lists the events of a job oldest first
func (s *SQLiteStore) ListEvents(ctx context.Context, key string, limit int) ([]*deployment.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, job_key, attempt, from_status, to_status, message, timestamp
		FROM job_events
		WHERE job_key = ?
		ORDER BY rowid
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, key, limit)
	if err != nil {
		return nil, persistenceError("list events", err)
	}
	defer rows.Close()

	events := []*deployment.Event{}
	for rows.Next() {
		event := &deployment.Event{}
		var from sql.NullString
		err := rows.Scan(
			&event.ID,
			&event.JobKey,
			&event.Attempt,
			&from,
			&event.ToStatus,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, persistenceError("scan event", err)
		}
		event.FromStatus = deployment.Status(from.String)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterate events", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return persistenceError("ping database", errNotInitialized)
	}

	if err := s.db.PingContext(ctx); err != nil {
		return persistenceError("ping database", err)
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError("begin transaction", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return persistenceError("commit transaction", err)
	}
	return nil
}

func (s *SQLiteStore) getTx(ctx context.Context, tx *sql.Tx, key string) (*deployment.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM deployment_jobs WHERE job_key = ?`

	job, err := scanJob(tx.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, persistenceError("get job", err)
	}
	return job, nil
}

func (s *SQLiteStore) writeTx(ctx context.Context, tx *sql.Tx, job *deployment.Job) error {
	outputs, err := encodeOutputs(job.Outputs)
	if err != nil {
		return persistenceError("update job", err)
	}

	query := `
		UPDATE deployment_jobs
		SET cloud_region = ?, role_arn = ?, status = ?, operation = ?, attempt = ?,
		    remote_job_id = ?, remote_attempt = ?, remote_operation = ?,
		    outputs = ?, error_detail = ?, updated_at = ?
		WHERE job_key = ?
	`

	_, err = tx.ExecContext(ctx, query,
		job.CloudRegion,
		job.RoleARN,
		job.Status,
		job.Operation,
		job.Attempt,
		job.RemoteJobID,
		job.RemoteAttempt,
		job.RemoteOperation,
		nullableText(outputs),
		job.ErrorDetail,
		job.UpdatedAt,
		job.Key,
	)
	if err != nil {
		return persistenceError("update job", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*deployment.Job, error) {
	job := &deployment.Job{}
	var outputs []byte
	err := row.Scan(
		&job.Key,
		&job.CustomerID,
		&job.Environment,
		&job.CloudRegion,
		&job.RoleARN,
		&job.Status,
		&job.Operation,
		&job.Attempt,
		&job.RemoteJobID,
		&job.RemoteAttempt,
		&job.RemoteOperation,
		&outputs,
		&job.ErrorDetail,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Outputs, err = decodeOutputs(outputs)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*deployment.Job, error) {
	jobs := []*deployment.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
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

func nullableText(data []byte) *string {
	if data == nil {
		return nil
	}
	s := string(data)
	return &s
}

func nullableStatus(s deployment.Status) *string {
	if s == "" {
		return nil
	}
	v := string(s)
	return &v
}
