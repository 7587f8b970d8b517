package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/docker/go-metrics"

	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/version"
)

// readinessResponse reports whether the registry should receive traffic,
// broken down by check.
type readinessResponse struct {
	Ready  bool            `json:"ready"`
	Checks readinessChecks `json:"checks"`
}

type readinessChecks struct {
	StorageAccessible bool `json:"storage_accessible"`
	UsersLoaded       bool `json:"users_loaded"`
}

// healthResponse is the detailed health report, including a live probe of
// the storage backend.
type healthResponse struct {
	Status        string        `json:"status"`
	Version       string        `json:"version"`
	UptimeSeconds uint64        `json:"uptime_seconds"`
	Storage       storageHealth `json:"storage"`
}

type storageHealth struct {
	Accessible    bool   `json:"accessible"`
	BlobsPath     string `json:"blobs_path"`
	ManifestsPath string `json:"manifests_path"`
	Writable      bool   `json:"writable"`
}

// registerMetaRoutes installs the informational endpoints alongside the
// distribution API: the index, the health probes and, when enabled, the
// prometheus endpoint. These sit at the server root regardless of any
// configured API prefix.
func (app *App) registerMetaRoutes() {
	app.router.Path("/").Methods(http.MethodGet).Handler(
		app.instrumented("index", http.HandlerFunc(app.handleIndex)))
	app.router.Path("/healthz").Methods(http.MethodGet).Handler(
		app.instrumented("healthz", http.HandlerFunc(app.handleHealthz)))
	app.router.Path("/readyz").Methods(http.MethodGet).Handler(
		app.instrumented("readyz", http.HandlerFunc(app.handleReadyz)))
	app.router.Path("/health").Methods(http.MethodGet).Handler(
		app.instrumented("health", http.HandlerFunc(app.handleHealth)))

	if app.Config.HTTP.Debug.Prometheus.Enabled {
		p := app.Config.HTTP.Debug.Prometheus.Path
		if p == "" {
			p = "/metrics"
		}
		dcontext.GetLogger(app).Infof("providing prometheus metrics on %s", p)
		app.router.Path(p).Handler(metrics.Handler())
	}

	app.router.NotFoundHandler = app.instrumented("not-found", http.HandlerFunc(app.handleNotFound))
}

func (app *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, map[string]string{
		"server": fmt.Sprintf("grain %s status %s", version.Version, app.statusString()),
	})
}

// handleHealthz is the liveness probe. It answers as long as the process
// can serve requests at all.
func (app *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, map[string]string{"status": "alive"})
}

// handleReadyz is the readiness probe, backed by the health registry. The
// storage check is updated by a background poller, so this stays cheap
// enough for aggressive probe intervals.
func (app *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failed := app.healthRegistry.CheckStatus()

	_, storageFailed := failed[checkStorageAccessible]
	_, usersFailed := failed[checkUsersLoaded]

	response := readinessResponse{
		Ready: len(failed) == 0,
		Checks: readinessChecks{
			StorageAccessible: !storageFailed,
			UsersLoaded:       !usersFailed,
		},
	}

	status := http.StatusOK
	if !response.Ready {
		status = http.StatusServiceUnavailable
	}
	serveJSONStatus(w, status, response)
}

// handleHealth reports detailed health, probing the storage backend on
// every request rather than trusting the background poller.
func (app *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accessible := app.storageAccessible(ctx) == nil
	writable := app.storageWritable(ctx) == nil

	response := healthResponse{
		Status:        "healthy",
		Version:       version.Version,
		UptimeSeconds: uint64(time.Since(app.startedAt).Seconds()),
		Storage: storageHealth{
			Accessible:    accessible,
			BlobsPath:     path.Join(app.rootDirectory, "blobs"),
			ManifestsPath: path.Join(app.rootDirectory, "manifests"),
			Writable:      writable,
		},
	}

	status := http.StatusOK
	if !accessible || !writable {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	serveJSONStatus(w, status, response)
}

// storageAccessible confirms the partition roots still exist on the
// backend.
func (app *App) storageAccessible(ctx context.Context) error {
	if _, err := app.driver.Stat(ctx, "/blobs"); err != nil {
		return err
	}
	if _, err := app.driver.Stat(ctx, "/manifests"); err != nil {
		return err
	}
	return nil
}

// storageWritable round-trips a sentinel file through the backend.
func (app *App) storageWritable(ctx context.Context) error {
	const sentinel = "/.health_check"
	if err := app.driver.PutContent(ctx, sentinel, []byte("test")); err != nil {
		return err
	}
	return app.driver.Delete(ctx, sentinel)
}

func (app *App) handleNotFound(w http.ResponseWriter, r *http.Request) {
	dcontext.GetLoggerWithField(r.Context(), "http.request.uri", r.RequestURI).
		Warnf("unmatched route")
	http.Error(w, "404 Not Found", http.StatusNotFound)
}
