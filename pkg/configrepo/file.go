package configrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

// FileRepository stores each snapshot as <dir>/<key>.json.
type FileRepository struct {
	dir string
}

// NewFileRepository creates the directory if needed and returns a repository rooted there.
func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		return nil, fmt.Errorf("configuration directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(key string) string {
	return filepath.Join(r.dir, key+".json")
}

// Save writes the snapshot atomically with owner-only permissions.
func (r *FileRepository) Save(_ context.Context, key string, params deployment.Parameters) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := encodeRecord(key, params, time.Now().UTC())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set configuration permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close configuration: %w", err)
	}

	if err := os.Rename(tmpName, r.path(key)); err != nil {
		return fmt.Errorf("failed to store configuration: %w", err)
	}
	return nil
}

// Get reads the snapshot for key.
func (r *FileRepository) Get(_ context.Context, key string) (*Record, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return decodeRecord(data)
}

// Delete removes the snapshot file.
func (r *FileRepository) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	err := os.Remove(r.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete configuration: %w", err)
	}
	return true, nil
}

// List reads every *.json file in the directory, ordered by key.
func (r *FileRepository) List(_ context.Context) ([]*Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}

	records := []*Record{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// Exists reports whether the snapshot file exists.
func (r *FileRepository) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	_, err := os.Stat(r.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat configuration: %w", err)
	}
	return true, nil
}
