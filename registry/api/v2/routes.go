package v2

import "github.com/gorilla/mux"

// The following are definitions of the name under which all V2 routes are
// registered. These symbols can be used to look up a route based on the name.
const (
	RouteNameBase            = "base"
	RouteNameManifest        = "manifest"
	RouteNameTags            = "tags"
	RouteNameBlob            = "blob"
	RouteNameBlobUpload      = "blob-upload"
	RouteNameBlobUploadChunk = "blob-upload-chunk"
)

// RouteDescriptor describes a route declared by the API, with the name under
// which it is registered and its gorilla/mux path template.
type RouteDescriptor struct {
	Name string
	Path string
}

// Repositories are named by exactly two path segments, org and repo. The
// segments carry no grammar beyond "not a slash"; every storage operation
// sanitizes them before they touch the filesystem.
var routeDescriptors = []RouteDescriptor{
	{
		Name: RouteNameBase,
		Path: "/v2/",
	},
	{
		Name: RouteNameManifest,
		Path: "/v2/{org}/{repo}/manifests/{reference}",
	},
	{
		Name: RouteNameTags,
		Path: "/v2/{org}/{repo}/tags/list",
	},
	{
		Name: RouteNameBlobUpload,
		Path: "/v2/{org}/{repo}/blobs/uploads/",
	},
	{
		Name: RouteNameBlobUploadChunk,
		Path: "/v2/{org}/{repo}/blobs/uploads/{uuid}",
	},
	// Registered after the upload routes so that ".../blobs/uploads/..."
	// never binds to the digest variable.
	{
		Name: RouteNameBlob,
		Path: "/v2/{org}/{repo}/blobs/{digest}",
	},
}

var routeDescriptorsMap map[string]RouteDescriptor

func init() {
	routeDescriptorsMap = make(map[string]RouteDescriptor, len(routeDescriptors))

	for _, descriptor := range routeDescriptors {
		routeDescriptorsMap[descriptor.Name] = descriptor
	}
}

// Router builds a gorilla router with named routes for the various API
// methods. This can be used directly by both server implementations and
// clients.
func Router() *mux.Router {
	return RouterWithPrefix("")
}

// RouterWithPrefix builds a gorilla router with a configured prefix
// on all routes.
func RouterWithPrefix(prefix string) *mux.Router {
	rootRouter := mux.NewRouter()
	router := rootRouter
	if prefix != "" {
		router = router.PathPrefix(prefix).Subrouter()
	}

	router.StrictSlash(true)

	for _, descriptor := range routeDescriptors {
		router.Path(descriptor.Path).Name(descriptor.Name)
	}

	return rootRouter
}
