package configrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/KshitijBhardwaj18/automation1/pkg/deployment"
)

func testParameters(customer, env string) deployment.Parameters {
	req := &deployment.OnboardRequest{
		CustomerID:  customer,
		Environment: env,
		RoleARN:     "arn:aws:iam::123456789012:role/byoc",
		ExternalID:  "external-id-123",
	}
	req.ApplyDefaults()
	return req.Parameters()
}

func setupFileRepository(t *testing.T) (*FileRepository, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	repo, err := NewFileRepository(dir)
	if err != nil {
		t.Fatalf("NewFileRepository() error = %v", err)
	}
	return repo, dir
}

func TestFileRepository_SaveGet(t *testing.T) {
	repo, dir := setupFileRepository(t)
	ctx := context.Background()
	params := testParameters("acme-co", "prod")

	if err := repo.Save(ctx, params.Key(), params); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "acme-co-prod.json"))
	if err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("snapshot permissions = %o, want 600", perm)
	}

	rec, err := repo.Get(ctx, params.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Key != "acme-co-prod" {
		t.Errorf("Key = %q, want acme-co-prod", rec.Key)
	}
	if rec.Parameters.ExternalID != "external-id-123" {
		t.Errorf("ExternalID = %q", rec.Parameters.ExternalID)
	}
	if rec.Parameters.NodeGroup == nil || rec.Parameters.NodeGroup.DesiredSize != 2 {
		t.Errorf("NodeGroup = %+v, want default node group", rec.Parameters.NodeGroup)
	}
	if rec.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}

	// Saving again replaces the snapshot.
	params.EKSVersion = "1.32"
	if err := repo.Save(ctx, params.Key(), params); err != nil {
		t.Fatalf("Save() second error = %v", err)
	}
	rec, err = repo.Get(ctx, params.Key())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Parameters.EKSVersion != "1.32" {
		t.Errorf("EKSVersion = %q, want 1.32", rec.Parameters.EKSVersion)
	}
}

func TestFileRepository_GetMissing(t *testing.T) {
	repo, _ := setupFileRepository(t)

	_, err := repo.Get(context.Background(), "nobody-prod")
	if !deployment.IsNotFound(err) {
		t.Fatalf("Get() error = %v, want NOT_FOUND", err)
	}
}

func TestFileRepository_InvalidKey(t *testing.T) {
	repo, _ := setupFileRepository(t)
	ctx := context.Background()

	for _, key := range []string{"", "../etc/passwd", "Upper-Case", "-leading"} {
		if err := repo.Save(ctx, key, deployment.Parameters{}); !deployment.IsCode(err, deployment.ErrCodeValidation) {
			t.Errorf("Save(%q) error = %v, want VALIDATION_ERROR", key, err)
		}
		if _, err := repo.Get(ctx, key); !deployment.IsCode(err, deployment.ErrCodeValidation) {
			t.Errorf("Get(%q) error = %v, want VALIDATION_ERROR", key, err)
		}
	}
}

func TestFileRepository_DeleteExists(t *testing.T) {
	repo, _ := setupFileRepository(t)
	ctx := context.Background()
	params := testParameters("acme-co", "staging")

	exists, err := repo.Exists(ctx, params.Key())
	if err != nil || exists {
		t.Fatalf("Exists() = %v, %v, want false", exists, err)
	}

	if err := repo.Save(ctx, params.Key(), params); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	exists, err = repo.Exists(ctx, params.Key())
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v, want true", exists, err)
	}

	deleted, err := repo.Delete(ctx, params.Key())
	if err != nil || !deleted {
		t.Fatalf("Delete() = %v, %v, want true", deleted, err)
	}
	deleted, err = repo.Delete(ctx, params.Key())
	if err != nil || deleted {
		t.Fatalf("second Delete() = %v, %v, want false", deleted, err)
	}
}

func TestFileRepository_List(t *testing.T) {
	repo, dir := setupFileRepository(t)
	ctx := context.Background()

	for _, p := range []deployment.Parameters{
		testParameters("zeta-co", "prod"),
		testParameters("acme-co", "prod"),
		testParameters("acme-co", "dev"),
	} {
		if err := repo.Save(ctx, p.Key(), p); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	// Entries that are not snapshots are skipped.
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.json"), []byte(`{"key":"hidden"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	want := []string{"acme-co-dev", "acme-co-prod", "zeta-co-prod"}
	if len(records) != len(want) {
		t.Fatalf("List() returned %d records, want %d", len(records), len(want))
	}
	for i, rec := range records {
		if rec.Key != want[i] {
			t.Errorf("records[%d].Key = %q, want %q", i, rec.Key, want[i])
		}
	}
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	repo, err := New(ctx, Config{Backend: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New(file) error = %v", err)
	}
	if _, ok := repo.(*FileRepository); !ok {
		t.Errorf("New(file) returned %T", repo)
	}

	if _, err := New(ctx, Config{Backend: "ftp"}); !deployment.IsCode(err, deployment.ErrCodeValidation) {
		t.Errorf("New(ftp) error = %v, want VALIDATION_ERROR", err)
	}

	if _, err := New(ctx, Config{Backend: "s3"}); err == nil {
		t.Error("New(s3) without bucket should fail")
	}
}
