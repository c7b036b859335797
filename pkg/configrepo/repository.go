// Package configrepo stores the parameter snapshot of every customer
// environment so that later updates and audits can see what was deployed.
package configrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// Repository persists customer parameter snapshots keyed by job key.
type Repository interface {
	// Save writes the snapshot for key, replacing any previous one.
	Save(ctx context.Context, key string, params deployment.Parameters) error

	// Get returns the snapshot for key. Fails with NOT_FOUND if absent.
	Get(ctx context.Context, key string) (*Record, error)

	// Delete removes the snapshot and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)

	// List returns every readable snapshot. Unreadable entries are skipped.
	List(ctx context.Context) ([]*Record, error)

	// Exists reports whether a snapshot is stored for key.
	Exists(ctx context.Context, key string) (bool, error)
}

// Record is a stored parameter snapshot.
type Record struct {
	Key        string                `json:"key"`
	Parameters deployment.Parameters `json:"parameters"`
	SavedAt    time.Time             `json:"saved_at"`
}

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) || len(key) > 100 {
		return deployment.NewValidationError(fmt.Sprintf("invalid configuration key %q", key), nil)
	}
	return nil
}

func encodeRecord(key string, params deployment.Parameters, now time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(Record{Key: key, Parameters: params, SavedAt: now}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if rec.Key == "" {
		return nil, fmt.Errorf("configuration has no key")
	}
	return &rec, nil
}

func notFound(key string) error {
	return deployment.NewNotFoundError(fmt.Sprintf("configuration not found: %s", key)).WithJob(key)
}

// Config selects and configures a repository backend.
type Config struct {
	// Backend is "file" or "s3".
	Backend string

	// Dir is the directory of the file backend.
	Dir string

	S3 S3Config
}

// New creates the repository selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Repository, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileRepository(cfg.Dir)
	case "s3":
		return NewS3Repository(ctx, cfg.S3)
	default:
		return nil, deployment.NewValidationError(fmt.Sprintf("unknown configuration backend %q", cfg.Backend), nil)
	}
}
