package v2

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
)

// URLBuilder creates registry API urls from a single base endpoint. It can be
// used to create urls for use in a registry client or server.
//
// All urls will be created from the given base, including the api version.
// For example, if a root of "/foo/" is provided, urls generated will be fall
// under "/foo/v2/...". Most application will only provide a schema, host and
// port, such as "https://localhost:8888/". Location headers in responses are
// always absolute, built from this root.
type URLBuilder struct {
	root   *url.URL // url root (ie http://localhost/)
	router *mux.Router
}

// NewURLBuilder creates a URLBuilder with provided root url object.
func NewURLBuilder(root *url.URL) *URLBuilder {
	return &URLBuilder{
		root:   root,
		router: Router(),
	}
}

// NewURLBuilderFromString works identically to NewURLBuilder except it takes
// a string argument for the root, returning an error if it is not a valid
// url. A root without a scheme is given "http".
func NewURLBuilderFromString(root string) (*URLBuilder, error) {
	if !strings.Contains(root, "://") {
		root = "http://" + root
	}

	u, err := url.Parse(root)
	if err != nil {
		return nil, err
	}

	return NewURLBuilder(u), nil
}

// NewURLBuilderFromRequest uses information from an *http.Request to
// construct the root url.
func NewURLBuilderFromRequest(r *http.Request) *URLBuilder {
	var (
		scheme = "http"
		host   = r.Host
	)

	if r.TLS != nil {
		scheme = "https"
	} else if len(r.URL.Scheme) > 0 {
		scheme = r.URL.Scheme
	}

	// Handle forwarded headers. Prefer "Forwarded" header as defined by
	// rfc7239, fall back to the X-Forwarded-* conventions otherwise.
	if forwarded := r.Header.Get("Forwarded"); len(forwarded) > 0 {
		forwardedHeader, _, err := parseForwardedHeader(forwarded)
		if err == nil {
			if fproto := forwardedHeader["proto"]; len(fproto) > 0 {
				scheme = fproto
			}
			if fhost := forwardedHeader["host"]; len(fhost) > 0 {
				host = fhost
			}
		}
	} else {
		if forwardedProto := r.Header.Get("X-Forwarded-Proto"); len(forwardedProto) > 0 {
			scheme = forwardedProto
		}
		if forwardedHost := r.Header.Get("X-Forwarded-Host"); len(forwardedHost) > 0 {
			// X-Forwarded-Host can be a comma-separated list of hosts, to
			// which each proxy appends the requested host. Grab the first.
			hosts := strings.SplitN(forwardedHost, ",", 2)
			host = strings.TrimSpace(hosts[0])
		}
	}

	basePath := routeDescriptorsMap[RouteNameBase].Path

	requestPath := r.URL.Path
	index := strings.Index(requestPath, basePath)

	u := &url.URL{
		Scheme: scheme,
		Host:   host,
	}

	if index > 0 {
		// N.B. index+1 is important because we want to include the trailing /
		u.Path = requestPath[0 : index+1]
	}

	return NewURLBuilder(u)
}

// BuildBaseURL constructs a base url for the API, typically just "/v2/".
func (ub *URLBuilder) BuildBaseURL() (string, error) {
	return ub.buildURL(RouteNameBase)
}

// BuildTagsURL constructs a url to list the tags in the named repository.
func (ub *URLBuilder) BuildTagsURL(org, repo string) (string, error) {
	return ub.buildURL(RouteNameTags, "org", org, "repo", repo)
}

// BuildManifestURL constructs a url for the manifest identified by org, repo
// and reference (a tag or digest).
func (ub *URLBuilder) BuildManifestURL(org, repo, reference string) (string, error) {
	return ub.buildURL(RouteNameManifest, "org", org, "repo", repo, "reference", reference)
}

// BuildBlobURL constructs the url for the blob identified by org, repo and
// digest.
func (ub *URLBuilder) BuildBlobURL(org, repo, dgst string) (string, error) {
	return ub.buildURL(RouteNameBlob, "org", org, "repo", repo, "digest", dgst)
}

// BuildBlobUploadURL constructs a url to begin a blob upload in the
// repository identified by org and repo.
func (ub *URLBuilder) BuildBlobUploadURL(org, repo string, values ...url.Values) (string, error) {
	u, err := ub.buildURL(RouteNameBlobUpload, "org", org, "repo", repo)
	if err != nil {
		return "", err
	}

	return appendValues(u, values...)
}

// BuildBlobUploadChunkURL constructs a url for the upload identified by uuid,
// including any url values. This should generally not be used by clients, as
// this url is provided by server implementations during the blob upload
// process.
func (ub *URLBuilder) BuildBlobUploadChunkURL(org, repo, uuid string, values ...url.Values) (string, error) {
	u, err := ub.buildURL(RouteNameBlobUploadChunk, "org", org, "repo", repo, "uuid", uuid)
	if err != nil {
		return "", err
	}

	return appendValues(u, values...)
}

func (ub *URLBuilder) buildURL(routeName string, pairs ...string) (string, error) {
	route := ub.cloneRoute(routeName)

	routeURL, err := route.URL(pairs...)
	if err != nil {
		return "", err
	}

	routeURL.Scheme = ub.root.Scheme
	routeURL.User = ub.root.User
	routeURL.Host = ub.root.Host

	if ub.root.Path != "" {
		routeURL.Path = strings.TrimSuffix(ub.root.Path, "/") + routeURL.Path
	}

	return routeURL.String(), nil
}

// clonedRoute returns a clone of the named route from the internal router,
// so that building a url does not mutate shared state.
func (ub *URLBuilder) cloneRoute(name string) *mux.Route {
	route := new(mux.Route)
	*route = *ub.router.GetRoute(name) // clone the route

	return route
}

// appendValuesURL appends the parameters to the url.
func appendValuesURL(u *url.URL, values ...url.Values) *url.URL {
	merged := u.Query()

	for _, v := range values {
		for k, vv := range v {
			merged[k] = append(merged[k], vv...)
		}
	}

	u.RawQuery = merged.Encode()
	return u
}

// appendValues appends the parameters to the url string. An error is returned
// if the string is not a valid url.
func appendValues(u string, values ...url.Values) (string, error) {
	up, err := url.Parse(u)
	if err != nil {
		return "", err
	}

	return appendValuesURL(up, values...).String(), nil
}
