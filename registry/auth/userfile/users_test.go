package userfile

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	store, err := Open(path)
	if err == nil {
		t.Fatal("expected error opening missing users file")
	}
	return store
}

func TestStoreCreateLookup(t *testing.T) {
	store := testStore(t)

	admin := User{
		Username: "admin",
		Password: "changeme",
		Permissions: []Permission{
			{Repository: "*", Tag: "*", Actions: []string{ActionPull, ActionPush, ActionDelete}},
		},
	}
	if err := store.Create(admin); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	if err := store.Create(User{Username: "admin", Password: "other"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate create: got %v, want ErrUserExists", err)
	}

	if _, ok := store.Lookup("admin", "changeme"); !ok {
		t.Error("lookup with valid credentials failed")
	}
	if _, ok := store.Lookup("admin", "wrong"); ok {
		t.Error("lookup with wrong password succeeded")
	}
	if _, ok := store.Lookup("ghost", "changeme"); ok {
		t.Error("lookup of unknown user succeeded")
	}
}

func TestStoreDelete(t *testing.T) {
	store := testStore(t)

	if err := store.Create(User{Username: "temp", Password: "pw"}); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if err := store.Delete("temp"); err != nil {
		t.Fatalf("deleting user: %v", err)
	}
	if err := store.Delete("temp"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("deleting twice: got %v, want ErrUserNotFound", err)
	}
	if store.Len() != 0 {
		t.Errorf("store has %d users after delete, want 0", store.Len())
	}
}

func TestStoreAddPermission(t *testing.T) {
	store := testStore(t)

	if err := store.Create(User{Username: "dev", Password: "pw"}); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	p := Permission{Repository: "myorg/*", Tag: "*", Actions: []string{ActionPull}}
	if err := store.AddPermission("dev", p); err != nil {
		t.Fatalf("adding permission: %v", err)
	}
	if err := store.AddPermission("ghost", p); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("adding permission to unknown user: got %v, want ErrUserNotFound", err)
	}

	u, ok := store.Lookup("dev", "pw")
	if !ok {
		t.Fatal("lookup failed after adding permission")
	}
	if len(u.Permissions) != 1 || u.Permissions[0].Repository != "myorg/*" {
		t.Fatalf("unexpected permissions after add: %+v", u.Permissions)
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")

	store, _ := Open(path)
	if err := store.Create(User{
		Username: "admin",
		Password: "changeme",
		Permissions: []Permission{
			{Repository: "*", Tag: "*", Actions: []string{ActionDelete}},
		},
	}); err != nil {
		t.Fatalf("creating user: %v", err)
	}
	if err := store.AddPermission("admin", Permission{Repository: "extra/*", Tag: "*", Actions: []string{ActionPull}}); err != nil {
		t.Fatalf("adding permission: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	u, ok := reopened.Lookup("admin", "changeme")
	if !ok {
		t.Fatal("user lost across reopen")
	}
	if len(u.Permissions) != 2 {
		t.Fatalf("got %d permissions across reopen, want 2", len(u.Permissions))
	}

	// Mutations write through a temp file and rename; nothing should be
	// left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".users-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestStoreFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	store, _ := Open(path)
	if err := store.Create(User{Username: "admin", Password: "pw"}); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading users file: %v", err)
	}
	var uf struct {
		Users []User `json:"users"`
	}
	if err := json.Unmarshal(raw, &uf); err != nil {
		t.Fatalf("users file is not valid JSON: %v", err)
	}
	if len(uf.Users) != 1 || uf.Users[0].Username != "admin" {
		t.Fatalf("unexpected users file contents: %s", raw)
	}
	if uf.Users[0].Permissions == nil {
		t.Error("permissions serialized as null, want empty array")
	}
}

func TestStoreIsAdmin(t *testing.T) {
	store := testStore(t)

	users := []User{
		{Username: "admin", Password: "pw", Permissions: []Permission{
			{Repository: "*", Tag: "*", Actions: []string{ActionPull, ActionPush, ActionDelete}},
		}},
		{Username: "scoped", Password: "pw", Permissions: []Permission{
			{Repository: "myorg/*", Tag: "*", Actions: []string{ActionDelete}},
		}},
		{Username: "reader", Password: "pw", Permissions: []Permission{
			{Repository: "*", Tag: "*", Actions: []string{ActionPull}},
		}},
	}
	for _, u := range users {
		if err := store.Create(u); err != nil {
			t.Fatalf("creating %s: %v", u.Username, err)
		}
	}

	tests := []struct {
		username string
		admin    bool
	}{
		{"admin", true},
		{"scoped", false},
		{"reader", false},
		{"ghost", false},
	}
	for _, tc := range tests {
		if got := store.IsAdmin(tc.username); got != tc.admin {
			t.Errorf("IsAdmin(%q) = %v, want %v", tc.username, got, tc.admin)
		}
	}
}
