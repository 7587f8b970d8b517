package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// startUploads opens count upload sessions and returns their ids.
func startUploads(t *testing.T, repo *Repository, count int) []string {
	t.Helper()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := repo.Uploads().Create(testContext())
		if err != nil {
			t.Fatalf("failed to create upload: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// ageUploads rewinds the mtime of upload session files on disk.
func ageUploads(t *testing.T, root, org, repo string, ids []string, to time.Time) {
	t.Helper()
	for _, id := range ids {
		p := filepath.Join(root, "uploads", org, repo, id)
		if err := os.Chtimes(p, to, to); err != nil {
			t.Fatalf("failed to age %s: %v", p, err)
		}
	}
}

func TestPurgeNone(t *testing.T) {
	ctx := testContext()
	registry := newTestRegistry(t)
	repo := registry.Repository("acme", "web")

	startUploads(t, repo, 10)

	oneHourAgo := time.Now().Add(-1 * time.Hour)
	deleted, errs := PurgeUploads(ctx, registry.Driver(), oneHourAgo, true)
	if len(errs) != 0 {
		t.Error("unexpected errors:", errs)
	}
	if len(deleted) != 0 {
		t.Errorf("unexpectedly deleted files for time: %s", oneHourAgo)
	}
}

func TestPurgeAll(t *testing.T) {
	ctx := testContext()
	root := t.TempDir()
	registry := newTestRegistryAt(t, root)

	oneHourAgo := time.Now().Add(-1 * time.Hour)
	uploadCount := 5
	ids := startUploads(t, registry.Repository("acme", "web"), uploadCount)
	ageUploads(t, root, "acme", "web", ids, oneHourAgo)

	// Ensure more than one repository is purged.
	extra := startUploads(t, registry.Repository("acme", "worker"), 1)
	ageUploads(t, root, "acme", "worker", extra, oneHourAgo)
	uploadCount++

	deleted, errs := PurgeUploads(ctx, registry.Driver(), time.Now(), true)
	if len(errs) != 0 {
		t.Error("unexpected errors:", errs)
	}
	if len(deleted) != uploadCount {
		t.Errorf("unexpectedly deleted file count %d != %d", len(deleted), uploadCount)
	}

	for _, id := range ids {
		if _, err := registry.Repository("acme", "web").Uploads().Append(ctx, id, []byte("x")); err != ErrUploadUnknown {
			t.Fatalf("purged session %s still live: %v", id, err)
		}
	}
}

func TestPurgeSome(t *testing.T) {
	ctx := testContext()
	root := t.TempDir()
	registry := newTestRegistryAt(t, root)
	repo := registry.Repository("acme", "web")

	oldUploadCount := 5
	oldIDs := startUploads(t, repo, oldUploadCount)
	ageUploads(t, root, "acme", "web", oldIDs, time.Now().Add(-1*time.Hour))

	newIDs := startUploads(t, repo, 4)

	deleted, errs := PurgeUploads(ctx, registry.Driver(), time.Now().Add(-1*time.Minute), true)
	if len(errs) != 0 {
		t.Error("unexpected errors:", errs)
	}
	if len(deleted) != oldUploadCount {
		t.Errorf("unexpectedly deleted file count %d != %d", len(deleted), oldUploadCount)
	}

	for _, id := range newIDs {
		if _, err := repo.Uploads().Append(ctx, id, []byte("x")); err != nil {
			t.Fatalf("live session %s purged: %v", id, err)
		}
	}
}

func TestPurgeDryRun(t *testing.T) {
	ctx := testContext()
	root := t.TempDir()
	registry := newTestRegistryAt(t, root)
	repo := registry.Repository("acme", "web")

	ids := startUploads(t, repo, 3)
	ageUploads(t, root, "acme", "web", ids, time.Now().Add(-1*time.Hour))

	deleted, errs := PurgeUploads(ctx, registry.Driver(), time.Now(), false)
	if len(errs) != 0 {
		t.Error("unexpected errors:", errs)
	}
	if len(deleted) != len(ids) {
		t.Errorf("unexpected candidate count %d != %d", len(deleted), len(ids))
	}

	// Nothing was actually removed.
	for _, id := range ids {
		if _, err := repo.Uploads().Append(ctx, id, []byte("x")); err != nil {
			t.Fatalf("session %s removed during dry run: %v", id, err)
		}
	}
}

func TestPurgeEmptyStorage(t *testing.T) {
	ctx := testContext()
	registry := newTestRegistry(t)

	deleted, errs := PurgeUploads(ctx, registry.Driver(), time.Now(), true)
	if len(errs) != 0 {
		t.Error("unexpected errors:", errs)
	}
	if len(deleted) != 0 {
		t.Errorf("unexpected deletions: %v", deleted)
	}
}
