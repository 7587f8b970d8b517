package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/opencontainers/go-digest"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/api/errcode"
	v2 "github.com/pierrelefevre/grain/registry/api/v2"
	"github.com/pierrelefevre/grain/registry/storage"
)

// Context should contain the request specific context for use across
// handlers. Resources that don't need to be shared across handlers should
// not be on this object.
type Context struct {
	// App points to the application structure that created this context.
	*App
	context.Context

	// Repository is the repository for the current request. All requests
	// should be scoped to a single repository. This field may be nil.
	Repository *storage.Repository

	// Errors is a collection of errors encountered during the request to
	// be returned to the client API. If errors are added to the
	// collection, the handler *must not* start the response via
	// http.ResponseWriter.
	Errors errcode.Errors

	urlBuilder *v2.URLBuilder
}

// Value overrides context.Context.Value to ensure that calls are routed
// to the correct context.
func (ctx *Context) Value(key interface{}) interface{} {
	return ctx.Context.Value(key)
}

func getOrg(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.org")
}

func getRepo(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.repo")
}

// getName returns the canonical org/repo name addressed by the request.
func getName(ctx context.Context) string {
	return getOrg(ctx) + "/" + getRepo(ctx)
}

func getReference(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.reference")
}

var errDigestNotAvailable = errors.New("digest not available in context")

func getDigest(ctx context.Context) (digest.Digest, error) {
	dgstStr := dcontext.GetStringValue(ctx, "vars.digest")

	if dgstStr == "" {
		dcontext.GetLogger(ctx).Errorf("digest not available")
		return "", errDigestNotAvailable
	}

	d, err := digest.Parse(dgstStr)
	if err != nil {
		dcontext.GetLogger(ctx).Errorf("error parsing digest=%q: %v", dgstStr, err)
		return "", err
	}

	return d, nil
}

func getUploadUUID(ctx context.Context) string {
	return dcontext.GetStringValue(ctx, "vars.uuid")
}

// getUserName attempts to resolve a username from the context, falling
// back to the request's basic auth header.
func getUserName(ctx context.Context, r *http.Request) string {
	username := dcontext.GetStringValue(ctx, "auth.user.name")

	if username == "" {
		username, _, _ = r.BasicAuth()
	}

	return username
}
