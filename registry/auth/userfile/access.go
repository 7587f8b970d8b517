package userfile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/auth"
)

var (
	// ErrAuthenticationRequired is returned when a request carries no
	// basic auth credentials at all.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidCredentials is returned when the supplied credentials
	// match no user.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type accessController struct {
	realm string
	store *Store
}

var _ auth.AccessController = &accessController{}

// StoreProvider is implemented by access controllers exposing their
// backing user store, letting the registry share a single store between
// request authorization and the admin API.
type StoreProvider interface {
	Store() *Store
}

func newAccessController(options map[string]interface{}) (auth.AccessController, error) {
	realm, present := options["realm"]
	if _, ok := realm.(string); !present || !ok {
		return nil, fmt.Errorf(`"realm" must be set for userfile access controller`)
	}

	pathOpt, present := options["path"]
	path, ok := pathOpt.(string)
	if !present || !ok {
		return nil, fmt.Errorf(`"path" must be set for userfile access controller`)
	}

	store, err := Open(path)
	if err != nil {
		dcontext.GetLogger(dcontext.Background()).Warnf("could not load users from %s, starting empty: %v", path, err)
	}

	return &accessController{realm: realm.(string), store: store}, nil
}

// Store returns the backing user store.
func (ac *accessController) Store() *Store {
	return ac.store
}

func (ac *accessController) Authorized(ctx context.Context, resource auth.Resource, actions ...string) (context.Context, error) {
	req, err := dcontext.GetRequest(ctx)
	if err != nil {
		return nil, err
	}

	username, password, ok := req.BasicAuth()
	if !ok {
		return nil, &authenticationError{realm: ac.realm, err: ErrAuthenticationRequired}
	}

	user, ok := ac.store.Lookup(username, password)
	if !ok {
		dcontext.GetLogger(ctx).Warnf("authentication failed for user %q", username)
		return nil, &authenticationError{realm: ac.realm, err: ErrInvalidCredentials}
	}

	for _, action := range actions {
		if !Allowed(user, resource.Name, resource.Tag, action) {
			dcontext.GetLogger(ctx).Warnf("user %q denied %s access to %s", username, action, resource.Name)
			return nil, auth.ErrAccessDenied
		}
	}

	return auth.WithUser(ctx, auth.UserInfo{Name: username}), nil
}

// authenticationError carries the realm needed to build the basic auth
// challenge on 401 responses.
type authenticationError struct {
	realm string
	err   error
}

var _ auth.AuthenticationError = &authenticationError{}

func (e *authenticationError) Error() string {
	return fmt.Sprintf("basic authentication challenge for realm %q: %s", e.realm, e.err)
}

func (e *authenticationError) Unwrap() error { return e.err }

// SetChallengeHeaders sets the basic auth challenge on a 401 response.
func (e *authenticationError) SetChallengeHeaders(h http.Header) {
	h.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=%q", e.realm, "UTF-8"))
}

func init() {
	auth.Register("userfile", auth.InitFunc(newAccessController))
}
