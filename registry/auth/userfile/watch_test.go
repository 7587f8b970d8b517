package userfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	if err := os.WriteFile(path, []byte(`{"users": []}`), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d users", store.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx)
	}()

	// Give the watcher goroutine time to register with fsnotify before the
	// rewrite; otherwise the rename can land before the directory watch
	// exists and the event is never delivered.
	time.Sleep(100 * time.Millisecond)

	// Rewrite the file the same way save does: temp file plus rename.
	updated := []byte(`{"users": [{"username": "bilbo", "password": "baggins", "permissions": []}]}`)
	tmp, err := os.CreateTemp(dir, ".users-")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write(updated); err != nil {
		t.Fatal(err)
	}
	if err := tmp.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for store.Len() != 1 {
		select {
		case <-deadline:
			t.Fatal("store never picked up the rewritten file")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if _, ok := store.Lookup("bilbo", "baggins"); !ok {
		t.Error("reloaded store missing new user")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("unexpected watch error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	if err := os.WriteFile(path, []byte(`{"users": []}`), 0o600); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx)
	}()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("unrelated"), 0o600); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if store.Len() != 0 {
		t.Errorf("sibling file write changed the store: %d users", store.Len())
	}

	cancel()
	<-done
}
