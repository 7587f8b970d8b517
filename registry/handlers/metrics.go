package handlers

import (
	"net/http"
	"strconv"
	"time"

	metrics "github.com/docker/go-metrics"

	prometheus "github.com/pierrelefevre/grain/metrics"
)

// Request metrics are labeled with the named route rather than the raw
// path so cardinality stays bounded no matter what clients probe.
var (
	httpRequests = prometheus.HTTPNamespace.NewLabeledCounter("requests",
		"The number of HTTP requests processed", "method", "endpoint", "status")

	requestDuration = prometheus.RegistryNamespace.NewLabeledTimer("request_duration",
		"The duration of HTTP requests", "method", "endpoint")

	blobUploads = prometheus.RegistryNamespace.NewCounter("blob_uploads",
		"The number of blobs written into storage")

	blobDownloads = prometheus.RegistryNamespace.NewCounter("blob_downloads",
		"The number of blobs served from storage")

	manifestUploads = prometheus.RegistryNamespace.NewCounter("manifest_uploads",
		"The number of manifests written into storage")

	manifestDownloads = prometheus.RegistryNamespace.NewCounter("manifest_downloads",
		"The number of manifests served from storage")

	authFailures = prometheus.RegistryNamespace.NewCounter("auth_failures",
		"The number of requests with missing or invalid credentials")

	permissionDenials = prometheus.RegistryNamespace.NewCounter("permission_denials",
		"The number of requests denied by the permission check")
)

func init() {
	metrics.Register(prometheus.HTTPNamespace)
	metrics.Register(prometheus.RegistryNamespace)
}

// instrumented wraps a route handler with the request counter and
// duration timer. The response status is read back from the instrumented
// response writer installed by ServeHTTP.
func (app *App) instrumented(routeName string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		handler.ServeHTTP(w, r)

		status := http.StatusOK
		if v, ok := r.Context().Value("http.response.status").(int); ok && v != 0 {
			status = v
		}

		httpRequests.WithValues(r.Method, routeName, strconv.Itoa(status)).Inc(1)
		requestDuration.WithValues(r.Method, routeName).UpdateSince(start)
	})
}
