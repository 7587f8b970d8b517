// Package userfile provides authentication and authorization backed by a
// single JSON file of users, their passwords, and their permission grants.
// Credentials are verified with HTTP basic auth; authorization is evaluated
// per request against glob patterns over repositories and tags.
//
// This authentication method MUST be used under TLS, as a simple
// token-replay attack is possible.
package userfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrUserExists is returned by Create when the username is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned by mutations naming an unknown user.
	ErrUserNotFound = errors.New("user not found")
)

// Permission grants actions on the repositories and tags matched by its
// patterns. Pattern syntax is described at Glob.
type Permission struct {
	Repository string   `json:"repository"`
	Tag        string   `json:"tag"`
	Actions    []string `json:"actions"`
}

// User is a single entry of the users file. Permissions are evaluated in
// insertion order; a user with none can authenticate but perform no
// repository action.
type User struct {
	Username    string       `json:"username"`
	Password    string       `json:"password"`
	Permissions []Permission `json:"permissions"`
}

// usersFile is the on-disk shape of the store.
type usersFile struct {
	Users []User `json:"users"`
}

// Store holds the user set backed by a JSON file. Every mutation rewrites
// the whole file through a temporary file and a rename.
type Store struct {
	path string

	mu    sync.RWMutex
	users []User
}

// Open reads the user set persisted at path. A missing or unparseable
// file yields an empty store and a non-nil error; the store remains
// usable and the file is recreated on the next mutation.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	return s, s.Load()
}

// Load replaces the in-memory user set with the contents of the backing
// file.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var uf usersFile
	if err := json.Unmarshal(raw, &uf); err != nil {
		return fmt.Errorf("parsing users file %s: %w", s.path, err)
	}
	for i := range uf.Users {
		if uf.Users[i].Permissions == nil {
			uf.Users[i].Permissions = []Permission{}
		}
	}

	s.mu.Lock()
	s.users = uf.Users
	s.mu.Unlock()
	return nil
}

// Path returns the location of the backing file.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of users currently loaded.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Users returns a snapshot of the user set in insertion order.
func (s *Store) Users() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, len(s.users))
	copy(users, s.users)
	return users
}

// Lookup returns the user matching both username and password.
func (s *Store) Lookup(username, password string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username && u.Password == password {
			return u, true
		}
	}
	return User{}, false
}

// IsAdmin reports whether the named user holds delete on every repository
// and tag, the capability gating the admin API.
func (s *Store) IsAdmin(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return Allowed(u, "*", "*", ActionDelete)
		}
	}
	return false
}

// Create adds a new user and persists the set. Usernames are unique.
func (s *Store) Create(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return ErrUserExists
		}
	}
	if user.Permissions == nil {
		user.Permissions = []Permission{}
	}
	s.users = append(s.users, user)
	return s.save()
}

// Delete removes the named user and persists the set.
func (s *Store) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.users {
		if u.Username == username {
			s.users = append(s.users[:i], s.users[i+1:]...)
			return s.save()
		}
	}
	return ErrUserNotFound
}

// AddPermission appends a permission to the named user and persists the
// set.
func (s *Store) AddPermission(username string, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.users {
		if s.users[i].Username == username {
			perms := append([]Permission{}, s.users[i].Permissions...)
			s.users[i].Permissions = append(perms, p)
			return s.save()
		}
	}
	return ErrUserNotFound
}

// save rewrites the backing file. Callers must hold the write lock. The
// file carries credentials, so it is written without group or world
// access.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(usersFile{Users: s.users}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".users-")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
