// Package auth defines a standard interface for request access controllers.
//
// An access controller has a simple interface with a single `Authorized`
// method which checks that a given context is authorized to perform one or
// more actions on a resource. This method should return a non-nil
// error if the context is not authorized.
//
// An implementation registers its access controller by name with a constructor
// which accepts an options map for configuring the access controller.
//
//	options := map[string]interface{}{"path": "./tmp/users.json"}
//	accessController, _ := auth.GetAccessController("userfile", options)
//
// This `accessController` can then be used in a request handler like so:
//
//	func updateOrder(w http.ResponseWriter, r *http.Request) {
//		orderNumber := r.FormValue("orderNumber")
//		order := auth.Resource{Type: "customerOrder", Name: orderNumber}
//
//		// Is the client authorized to update the order?
//		if ctx, err := accessController.Authorized(ctx, order, "update"); err != nil {
//			switch err := err.(type) {
//			case auth.AuthenticationError:
//				// Let the error set a challenge header.
//				err.SetChallengeHeaders(w.Header())
//				w.WriteHeader(http.StatusUnauthorized)
//				return
//			default:
//				if errors.Is(err, auth.ErrAccessDenied) {
//					w.WriteHeader(http.StatusForbidden)
//					return
//				}
//				// Some other error.
//			}
//		}
//	}
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrAccessDenied is returned when an authenticated client does not hold
// one of the actions a request requires. Note: HTTP status code "401
// Unauthorized" is used semantically to indicate that a client is
// unauthenticated; access controllers signal that case with an
// AuthenticationError instead.
var ErrAccessDenied = errors.New("access denied")

// UserInfo carries information about
// an autenticated/authorized client.
type UserInfo struct {
	Name string
}

// Resource describes a resource by type and name.
type Resource struct {
	Type string
	Name string

	// Tag scopes a repository resource to a single reference. Access
	// controllers that evaluate tag-level grants match their tag patterns
	// against it; empty means the operation is not tag-scoped.
	Tag string
}

// AuthenticationError is a special error type which is used to indicate that a
// client either has invalid authentication credentials or, if the client is
// not authenticated, should attempt to authenticate in order to access the
// requested resource. A type which implements this interface is able to set
// HTTP WWW-Authenticate challenge response header values based on the error.
type AuthenticationError interface {
	error

	// SetChallengeHeaders prepares an authentication challenge response by
	// setting one or more HTTP WWW-Authenticate challenge headers.
	// Callers are expected to set the appropriate HTTP status code (i.e.,
	// 401) themselves.
	SetChallengeHeaders(h http.Header)
}

// AccessController controls access to a registry resource based on a request
// context and the attempted actions being performed on that resource.
// Implementations must validate complete authorization or indicate
// authentication errors through the AuthenticationError interface and
// authorization errors with ErrAccessDenied.
type AccessController interface {
	// Authorized returns a nil error if the context is granted access and
	// returns a new authorized context. If one or more action strings are
	// provided, the requested access will be compared with what is
	// available to the context. The given context will contain a
	// "http.request" key with a `*http.Request` value. If the error is
	// non-nil, access should always be denied. The returned context object
	// should have a "auth.user" value set to a UserInfo struct.
	Authorized(ctx context.Context, resource Resource, actions ...string) (context.Context, error)
}

// WithUser returns a context with the authorized user info.
func WithUser(ctx context.Context, user UserInfo) context.Context {
	return userInfoContext{
		Context: ctx,
		user:    user,
	}
}

type userInfoContext struct {
	context.Context
	user UserInfo
}

func (uic userInfoContext) Value(key interface{}) interface{} {
	switch key {
	case "auth.user":
		return uic.user
	case "auth.user.name":
		return uic.user.Name
	}

	return uic.Context.Value(key)
}

// InitFunc is the type of an AccessController factory function and is used
// to register the constructor for different AccesController backends.
type InitFunc func(options map[string]interface{}) (AccessController, error)

var accessControllers map[string]InitFunc

func init() {
	accessControllers = make(map[string]InitFunc)
}

// Register is used to register an InitFunc for
// an AccessController backend with the given name.
func Register(name string, initFunc InitFunc) error {
	if _, exists := accessControllers[name]; exists {
		return fmt.Errorf("name already registered: %s", name)
	}

	accessControllers[name] = initFunc

	return nil
}

// GetAccessController constructs an AccessController
// with the given options using the named backend.
func GetAccessController(name string, options map[string]interface{}) (AccessController, error) {
	if initFunc, exists := accessControllers[name]; exists {
		return initFunc(options)
	}

	return nil, fmt.Errorf("no access controller registered with name: %s", name)
}
