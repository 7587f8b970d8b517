package userfile

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/auth"
)

const testUsersContent = `{
  "users": [
    {
      "username": "bilbo",
      "password": "baggins",
      "permissions": [
        {"repository": "shire/*", "tag": "*", "actions": ["pull", "push"]}
      ]
    }
  ]
}`

func TestUserfileAccessController(t *testing.T) {
	testRealm := "registry.test"
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(testUsersContent), 0o600); err != nil {
		t.Fatalf("writing users file: %v", err)
	}

	ac, err := newAccessController(map[string]interface{}{
		"realm": testRealm,
		"path":  path,
	})
	if err != nil {
		t.Fatalf("creating access controller: %v", err)
	}

	resource := auth.Resource{Type: "repository", Name: "shire/bag-end"}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := dcontext.WithRequest(dcontext.Background(), r)
		authCtx, err := ac.Authorized(ctx, resource, ActionPull)
		if err != nil {
			var authErr auth.AuthenticationError
			switch {
			case errors.As(err, &authErr):
				authErr.SetChallengeHeaders(w.Header())
				w.WriteHeader(http.StatusUnauthorized)
			case errors.Is(err, auth.ErrAccessDenied):
				w.WriteHeader(http.StatusForbidden)
			default:
				t.Errorf("unexpected error authorizing request: %v", err)
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}

		userInfo, ok := authCtx.Value("auth.user").(auth.UserInfo)
		if !ok {
			t.Error("access controller did not set auth.user context")
		} else if userInfo.Name != "bilbo" {
			t.Errorf("expected user name %q, got %q", "bilbo", userInfo.Name)
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{}

	// No credentials: challenged.
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error during GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous request: got status %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if want := `Basic realm="registry.test", charset="UTF-8"`; challenge != want {
		t.Fatalf("challenge header %q, want %q", challenge, want)
	}

	// Wrong password: challenged again.
	req, _ = http.NewRequest(http.MethodGet, server.URL, nil)
	req.SetBasicAuth("bilbo", "took")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error during GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad credentials: got status %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	// Valid credentials with a matching grant.
	req, _ = http.NewRequest(http.MethodGet, server.URL, nil)
	req.SetBasicAuth("bilbo", "baggins")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("unexpected error during GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("authorized request: got status %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestUserfileAccessDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(testUsersContent), 0o600); err != nil {
		t.Fatalf("writing users file: %v", err)
	}

	ac, err := newAccessController(map[string]interface{}{
		"realm": "registry.test",
		"path":  path,
	})
	if err != nil {
		t.Fatalf("creating access controller: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/v2/mordor/barad-dur/manifests/latest", nil)
	req.SetBasicAuth("bilbo", "baggins")
	ctx := dcontext.WithRequest(dcontext.Background(), req)

	resource := auth.Resource{Type: "repository", Name: "mordor/barad-dur", Tag: "latest"}
	if _, err := ac.Authorized(ctx, resource, ActionDelete); !errors.Is(err, auth.ErrAccessDenied) {
		t.Fatalf("got %v, want ErrAccessDenied", err)
	}
}

func TestUserfileMissingOptions(t *testing.T) {
	if _, err := newAccessController(map[string]interface{}{"path": "users.json"}); err == nil {
		t.Error("expected error when realm is missing")
	}
	if _, err := newAccessController(map[string]interface{}{"realm": "registry.test"}); err == nil {
		t.Error("expected error when path is missing")
	}
}

func TestUserfileMissingFileNonFatal(t *testing.T) {
	ac, err := newAccessController(map[string]interface{}{
		"realm": "registry.test",
		"path":  filepath.Join(t.TempDir(), "users.json"),
	})
	if err != nil {
		t.Fatalf("missing users file should not fail controller construction: %v", err)
	}

	provider, ok := ac.(StoreProvider)
	if !ok {
		t.Fatal("access controller does not expose its store")
	}
	if provider.Store().Len() != 0 {
		t.Errorf("expected empty store, got %d users", provider.Store().Len())
	}
}
