// Package handlers implements the HTTP surface of the registry: the v2
// distribution API, the admin API and the meta endpoints, dispatched per
// named route over a shared application context.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/pierrelefevre/grain/configuration"
	"github.com/pierrelefevre/grain/health"
	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/api/errcode"
	v2 "github.com/pierrelefevre/grain/registry/api/v2"
	"github.com/pierrelefevre/grain/registry/auth"
	"github.com/pierrelefevre/grain/registry/auth/userfile"
	"github.com/pierrelefevre/grain/registry/storage"
	storagedriver "github.com/pierrelefevre/grain/registry/storage/driver"
	"github.com/pierrelefevre/grain/registry/storage/driver/factory"
)

// defaultCheckInterval is the default period of the background storage
// health check.
const defaultCheckInterval = 10 * time.Second

// Check names surfaced by the readiness endpoint.
const (
	checkStorageAccessible = "storage_accessible"
	checkUsersLoaded       = "users_loaded"
)

var errNoUsersLoaded = errors.New("no users loaded")

// App is a global registry application object. Shared resources can be
// placed on this object that will be accessible from all requests. Any
// writable fields should be protected.
type App struct {
	context.Context

	Config *configuration.Configuration

	router           *mux.Router
	driver           storagedriver.StorageDriver
	registry         *storage.Registry
	accessController auth.AccessController
	store            *userfile.Store
	healthRegistry   *health.Registry

	httpHost      url.URL
	rootDirectory string

	startedAt time.Time
	ready     atomic.Bool
}

// NewApp takes a configuration and returns a configured app, ready to
// serve requests. The app only implements ServeHTTP and can therefore be
// wrapped in other handlers accordingly.
func NewApp(ctx context.Context, config *configuration.Configuration) *App {
	app := &App{
		Context:        ctx,
		Config:         config,
		router:         v2.RouterWithPrefix(config.HTTP.Prefix),
		healthRegistry: health.DefaultRegistry,
		startedAt:      time.Now(),
	}

	// Register the handler dispatchers.
	app.register(v2.RouteNameBase, func(ctx *Context, r *http.Request) http.Handler {
		return http.HandlerFunc(apiBase)
	})
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)

	driver, err := factory.Create(app, config.Storage.Type(), config.Storage.Parameters())
	if err != nil {
		// The registry cannot serve anything without its backend.
		panic(err)
	}
	app.driver = driver
	app.registry = storage.NewRegistry(driver)

	if root, ok := config.Storage.Parameters()["rootdirectory"]; ok {
		app.rootDirectory = fmt.Sprint(root)
	}
	if app.rootDirectory == "" {
		app.rootDirectory = "./tmp"
	}

	if err := app.initStorageLayout(); err != nil {
		dcontext.GetLogger(app).Warnf("unable to initialize storage layout: %v", err)
	}

	if config.HTTP.Host != "" {
		host := config.HTTP.Host
		if !strings.Contains(host, "://") {
			host = "http://" + host
		}
		u, err := url.Parse(host)
		if err != nil {
			panic(fmt.Sprintf(`could not parse http "host" parameter: %v`, err))
		}
		app.httpHost = *u
	}

	app.configureAuth()
	app.registerMetaRoutes()
	app.registerAdminRoutes()

	startUploadPurger(app, app.driver, dcontext.GetLogger(app), config.GC.UploadPurging)

	return app
}

// initStorageLayout creates the three partition roots so that health
// checks observe an accessible store before the first push. The driver
// only materializes directories on write, hence the transient marker.
func (app *App) initStorageLayout() error {
	for _, dir := range []string{"/blobs", "/manifests", "/uploads"} {
		_, err := app.driver.Stat(app, dir)
		switch err.(type) {
		case nil:
			continue
		case storagedriver.PathNotFoundError:
		default:
			return err
		}

		marker := path.Join(dir, ".init")
		if err := app.driver.PutContent(app, marker, []byte{}); err != nil {
			return err
		}
		if err := app.driver.Delete(app, marker); err != nil {
			return err
		}
	}

	return nil
}

// configureAuth builds the access controller named by the auth section,
// defaulting the challenge realm to the configured public host.
func (app *App) configureAuth() {
	authType := app.Config.Auth.Type()
	if authType == "" {
		dcontext.GetLogger(app).Warn("no auth configured, requests are not authenticated")
		return
	}

	options := map[string]interface{}{}
	for k, v := range app.Config.Auth.Parameters() {
		options[k] = v
	}
	if _, ok := options["realm"]; !ok {
		options["realm"] = app.realm()
	}

	accessController, err := auth.GetAccessController(authType, options)
	if err != nil {
		panic(fmt.Sprintf("unable to configure authorization (%s): %v", authType, err))
	}
	app.accessController = accessController
	dcontext.GetLogger(app).Debugf("authorizing requests with %s", authType)

	if provider, ok := accessController.(userfile.StoreProvider); ok {
		app.store = provider.Store()
	}
}

// UserStore returns the store behind the userfile access controller, or
// nil when auth is disabled or backed by another controller. The server
// uses it to watch the backing file for changes.
func (app *App) UserStore() *userfile.Store {
	return app.store
}

// realm is the name presented in basic auth challenges.
func (app *App) realm() string {
	if app.Config.HTTP.Host != "" {
		return app.Config.HTTP.Host
	}
	return app.Config.HTTP.Addr
}

// RegisterHealthChecks installs the checks behind the readiness endpoint.
// The storage check is polled in the background so a broken backend flips
// readiness without waiting for a probe. When no health registry is
// provided, the checks land on health.DefaultRegistry, which also backs
// the debug server's /debug/health. This should be called once per
// process when using the default registry.
func (app *App) RegisterHealthChecks(healthRegistries ...*health.Registry) {
	if len(healthRegistries) > 1 {
		panic("RegisterHealthChecks called with more than one registry")
	}
	if len(healthRegistries) == 1 {
		app.healthRegistry = healthRegistries[0]
	}

	storageUpdater := health.NewStatusUpdater()
	app.healthRegistry.Register(checkStorageAccessible, storageUpdater)
	go health.Poll(app, storageUpdater, health.CheckFunc(app.storageAccessible), defaultCheckInterval)

	// Only meaningful with auth enabled; an authless registry is ready as
	// soon as storage is.
	if app.store != nil {
		app.healthRegistry.RegisterFunc(checkUsersLoaded, func(context.Context) error {
			if app.store.Len() == 0 {
				return errNoUsersLoaded
			}
			return nil
		})
	}
}

// MarkReady flips the reported server status from Starting to Ready. The
// server calls it once the listener is accepting connections.
func (app *App) MarkReady() {
	app.ready.Store(true)
}

func (app *App) statusString() string {
	if app.ready.Load() {
		return "Ready"
	}
	return "Starting"
}

func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() // ensure that request body is always closed.

	// Prepare the context with our own little decorations.
	ctx := r.Context()
	ctx = dcontext.WithRequest(ctx, r)
	ctx, w = dcontext.WithResponseWriter(ctx, w)
	ctx = dcontext.WithLogger(ctx, dcontext.GetRequestLogger(ctx))
	r = r.WithContext(ctx)

	if !app.Config.Log.AccessLog.Disabled {
		defer func() {
			status, ok := ctx.Value("http.response.status").(int)
			if ok && status >= 200 && status <= 399 {
				dcontext.GetResponseLogger(r.Context()).Infof("response completed")
			}
		}()
	}

	app.router.ServeHTTP(w, r)
}

// register a handler with the application, by route name. The handler
// will be passed through the application filters and context will be
// constructed at request time.
func (app *App) register(routeName string, dispatch dispatchFunc) {
	app.router.GetRoute(routeName).Handler(app.instrumented(routeName, app.dispatcher(dispatch)))
}

// dispatchFunc takes a context and request and returns a constructed
// handler for the route. The dispatcher will use this to dynamically
// create request specific handlers for each endpoint without creating a
// new router for each request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// dispatcher returns a handler that constructs a request specific context
// and handler, using the dispatch factory function.
func (app *App) dispatcher(dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		context := app.context(w, r)

		if err := app.authorized(w, r, context); err != nil {
			dcontext.GetLogger(context).Warnf("error authorizing context: %v", err)
			return
		}

		// Add username to request logging.
		context.Context = dcontext.WithLogger(context.Context,
			dcontext.GetLogger(context.Context, "auth.user.name"))

		// Sync up context on the request.
		r = r.WithContext(context)

		if app.nameRequired(r) {
			context.Repository = app.registry.Repository(getOrg(context), getRepo(context))
		}

		dispatch(context, r).ServeHTTP(w, r)

		// Automated error response handling here. Handlers may return
		// their own errors if they need different behavior (such as
		// range errors for upload resume).
		if context.Errors.Len() > 0 {
			if err := errcode.ServeJSON(w, context.Errors); err != nil {
				dcontext.GetLogger(context).Errorf("error serving error json: %v (from %v)", err, context.Errors)
			}
			app.logError(context, context.Errors)
		}
	})
}

// context constructs the context object for the application. This only
// handles the request specific portions; app-level state is reached
// through the embedded App.
func (app *App) context(w http.ResponseWriter, r *http.Request) *Context {
	ctx := r.Context()
	ctx = dcontext.WithVars(ctx, r)
	ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx,
		"vars.org",
		"vars.repo",
		"vars.reference",
		"vars.digest",
		"vars.uuid"))

	context := &Context{
		App:     app,
		Context: ctx,
	}

	if app.httpHost.Scheme != "" && app.httpHost.Host != "" {
		// A "host" item in the configuration takes precedence over
		// whatever the request reports about itself.
		context.urlBuilder = v2.NewURLBuilder(&app.httpHost)
	} else {
		context.urlBuilder = v2.NewURLBuilderFromRequest(r)
	}

	return context
}

// authorized checks the request against the configured access controller,
// answering the basic challenge itself on failure. A nil return means the
// request may proceed.
func (app *App) authorized(w http.ResponseWriter, r *http.Request, context *Context) error {
	dcontext.GetLogger(context).Debug("authorizing request")

	if app.accessController == nil {
		return nil // access controller is not enabled.
	}

	resource, actions := app.requestedAccess(r, context)

	ctx, err := app.accessController.Authorized(context.Context, resource, actions...)
	if err != nil {
		switch err := err.(type) {
		case auth.AuthenticationError:
			// The request lacks valid credentials. Add the
			// appropriate WWW-Auth header and answer the challenge.
			err.SetChallengeHeaders(w.Header())
			authFailures.Inc(1)

			if err := errcode.ServeJSON(w, errcode.ErrorCodeUnauthorized.WithDetail(resource)); err != nil {
				dcontext.GetLogger(context).Errorf("error serving error json: %v", err)
			}
		default:
			if errors.Is(err, auth.ErrAccessDenied) {
				permissionDenials.Inc(1)

				if err := errcode.ServeJSON(w, errcode.ErrorCodeDenied.WithDetail(resource)); err != nil {
					dcontext.GetLogger(context).Errorf("error serving error json: %v", err)
				}
				break
			}

			// This condition is a potential security problem either in
			// the configuration or whatever is backing the access
			// controller. Just return a bad request with no information
			// to avoid exposure. The request should not proceed.
			dcontext.GetLogger(context).Errorf("error checking authorization: %v", err)
			w.WriteHeader(http.StatusBadRequest)
		}

		return err
	}

	context.Context = ctx
	return nil
}

// requestedAccess maps the request onto the single resource and action
// set evaluated by the access controller. Manifest requests are tag
// scoped: the reference, with any digest algorithm prefix stripped, is
// matched against the grant's tag patterns.
func (app *App) requestedAccess(r *http.Request, context *Context) (auth.Resource, []string) {
	if !app.nameRequired(r) {
		// The base route is accessible to any recognized user; no
		// action beyond authentication is required.
		return auth.Resource{Type: "registry", Name: "base"}, nil
	}

	resource := auth.Resource{
		Type: "repository",
		Name: getName(context),
	}

	if route := mux.CurrentRoute(r); route != nil && route.GetName() == v2.RouteNameManifest {
		resource.Tag = strings.TrimPrefix(getReference(context), "sha256:")
	}

	var actions []string
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		actions = []string{"pull"}
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		actions = []string{"push"}
	case http.MethodDelete:
		actions = []string{"delete"}
	}

	return resource, actions
}

// nameRequired returns true if the route requires a repository name.
func (app *App) nameRequired(r *http.Request) bool {
	route := mux.CurrentRoute(r)
	return route == nil || route.GetName() != v2.RouteNameBase
}

// apiBase implements a simple yes-man for doing overall checks against
// the api. This can support auth roundtrips to support docker login.
func apiBase(w http.ResponseWriter, r *http.Request) {
	const emptyJSON = "{}"
	// Provide a simple /v2/ 200 OK response with empty json response.
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprint(len(emptyJSON)))

	fmt.Fprint(w, emptyJSON)
}

func (app *App) logError(ctx context.Context, errs errcode.Errors) {
	for _, e1 := range errs {
		var c context.Context

		switch e := e1.(type) {
		case errcode.Error:
			c = context.WithValue(ctx, errCodeKey{}, e.Code)
			c = context.WithValue(c, errMessageKey{}, e.Message)
			c = context.WithValue(c, errDetailKey{}, e.Detail)
		case errcode.ErrorCode:
			c = context.WithValue(ctx, errCodeKey{}, e)
			c = context.WithValue(c, errMessageKey{}, e.Message())
		default:
			// just normal go 'error'
			c = context.WithValue(ctx, errCodeKey{}, errcode.ErrorCodeUnknown)
			c = context.WithValue(c, errMessageKey{}, e.Error())
		}

		c = dcontext.WithLogger(c, dcontext.GetLogger(c,
			errCodeKey{},
			errMessageKey{},
			errDetailKey{}))
		dcontext.GetResponseLogger(c).Errorf("response completed with error")
	}
}

type errCodeKey struct{}

func (errCodeKey) String() string { return "err.code" }

type errMessageKey struct{}

func (errMessageKey) String() string { return "err.message" }

type errDetailKey struct{}

func (errDetailKey) String() string { return "err.detail" }

// startUploadPurger schedules a goroutine which will periodically check
// upload directories for old files and delete them.
func startUploadPurger(ctx context.Context, storageDriver storagedriver.StorageDriver, log dcontext.Logger, config configuration.UploadPurging) {
	if !config.Enabled {
		return
	}

	age := config.Age
	if age == 0 {
		age = 168 * time.Hour
	}
	interval := config.Interval
	if interval == 0 {
		interval = 24 * time.Hour
	}

	go func() {
		jitter := time.Duration(rand.Int()%60) * time.Minute
		log.Infof("Starting upload purge in %s", jitter)
		time.Sleep(jitter)

		for {
			storage.PurgeUploads(ctx, storageDriver, time.Now().Add(-age), !config.DryRun)
			log.Infof("Starting upload purge in %s", interval)
			time.Sleep(interval)
		}
	}()
}
