package registry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorhandlers "github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pierrelefevre/grain/configuration"
	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/handlers"
	"github.com/pierrelefevre/grain/version"
)

// ServeCmd is a cobra command for running the registry.
var ServeCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "`serve` stores and distributes container images",
	Long:  "`serve` stores and distributes container images.",
	Run: func(cmd *cobra.Command, args []string) {
		// setup context
		ctx := dcontext.WithVersion(dcontext.Background(), version.Version)

		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}
		applyOverrides(config)

		registry, err := NewRegistry(ctx, config)
		if err != nil {
			logrus.Fatalln(err)
		}

		if err = registry.ListenAndServe(); err != nil {
			logrus.Fatalln(err)
		}
	},
}

var (
	serveHost      string
	serveUsersFile string
)

// applyOverrides folds the serve flags and their environment fallbacks
// into the configuration. Flags win over environment, environment over
// file.
func applyOverrides(config *configuration.Configuration) {
	host := serveHost
	if host == "" {
		host = os.Getenv("HOST")
	}
	if host != "" {
		config.HTTP.Addr = host
	}

	usersFile := serveUsersFile
	if usersFile == "" {
		usersFile = os.Getenv("USERS_FILE")
	}
	if usersFile != "" {
		if params := config.Auth.Parameters(); params != nil {
			params["path"] = usersFile
		} else {
			config.Auth = configuration.Auth{
				"userfile": configuration.Parameters{"path": usersFile},
			}
		}
	}
}

// A Registry represents a complete instance of the registry.
type Registry struct {
	config *configuration.Configuration
	app    *handlers.App
	server *http.Server
	quit   chan os.Signal
}

// NewRegistry creates a new registry from a context and configuration
// struct.
func NewRegistry(ctx context.Context, config *configuration.Configuration) (*Registry, error) {
	var err error
	ctx, err = configureLogging(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error configuring logger: %v", err)
	}

	app := handlers.NewApp(ctx, config)
	app.RegisterHealthChecks()

	var handler http.Handler = app
	handler = gorhandlers.CORS(
		gorhandlers.AllowedOrigins([]string{"*"}),
		gorhandlers.AllowedMethods([]string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		}),
		gorhandlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Accept", "Range"}),
	)(handler)
	handler = panicHandler(handler)
	if !config.Log.AccessLog.Disabled {
		if config.Log.Formatter == "json" {
			handler = JSONLoggingHandler(os.Stdout, handler)
		} else {
			handler = gorhandlers.CombinedLoggingHandler(os.Stdout, handler)
		}
	}

	server := &http.Server{
		Handler: handler,
	}

	return &Registry{
		app:    app,
		config: config,
		server: server,
		quit:   make(chan os.Signal, 1),
	}, nil
}

// ListenAndServe runs the registry's HTTP server. A failure to bind is
// returned immediately; once the listener is up the server reports Ready
// and serves until it fails or a termination signal arrives.
func (registry *Registry) ListenAndServe() error {
	config := registry.config

	ln, err := net.Listen("tcp", config.HTTP.Addr)
	if err != nil {
		return err
	}
	dcontext.GetLogger(registry.app).Infof("listening on %v", ln.Addr())

	if config.HTTP.Debug.Addr != "" {
		go registry.serveDebug(config.HTTP.Debug.Addr)
	}

	// Pick up user and permission edits made behind the server's back,
	// such as a config management run replacing the users file.
	if store := registry.app.UserStore(); store != nil {
		go func() {
			if err := store.Watch(registry.app); err != nil {
				dcontext.GetLogger(registry.app).Errorf("users file watcher stopped: %v", err)
			}
		}()
	}

	registry.app.MarkReady()

	if config.HTTP.DrainTimeout == 0 {
		return registry.server.Serve(ln)
	}

	signal.Notify(registry.quit, os.Interrupt, syscall.SIGTERM)
	serveErr := make(chan error)

	// Start serving in goroutine and listen for stop signal in main
	// thread.
	go func() {
		serveErr <- registry.server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		return err
	case sig := <-registry.quit:
		dcontext.GetLogger(registry.app).Infof("received %s, draining connections for %s", sig, config.HTTP.DrainTimeout)
		c, cancel := context.WithTimeout(context.Background(), config.HTTP.DrainTimeout)
		defer cancel()
		return registry.server.Shutdown(c)
	}
}

// serveDebug runs the debug listener on the default mux, which carries
// /debug/health for the checks registered on the default health registry.
func (registry *Registry) serveDebug(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		dcontext.GetLogger(registry.app).Errorf("error listening on debug interface: %v", err)
		return
	}
	dcontext.GetLogger(registry.app).Infof("debug server listening on %v", ln.Addr())

	if err := http.Serve(ln, nil); err != nil {
		dcontext.GetLogger(registry.app).Errorf("debug server exited: %v", err)
	}
}

// configureLogging prepares the context with a logger using the
// configuration.
func configureLogging(ctx context.Context, config *configuration.Configuration) (context.Context, error) {
	logrus.SetLevel(logLevel(config.Log.Level))

	formatter := config.Log.Formatter
	if formatter == "" {
		formatter = "text" // default formatter
	}

	switch formatter {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	default:
		return ctx, fmt.Errorf("unsupported logging formatter: %q", config.Log.Formatter)
	}

	if config.Log.Formatter != "" {
		logrus.Debugf("using %q logging formatter", config.Log.Formatter)
	}

	if len(config.Log.Fields) > 0 {
		// build up the static fields, if present.
		var fields []any
		for k := range config.Log.Fields {
			fields = append(fields, k)
		}

		ctx = dcontext.WithValues(ctx, config.Log.Fields)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx, fields...))
	}

	return ctx, nil
}

func logLevel(level configuration.Loglevel) logrus.Level {
	l, err := logrus.ParseLevel(string(level))
	if err != nil {
		l = logrus.InfoLevel
		logrus.Warnf("error parsing level %q: %v, using %q", level, err, l)
	}

	return l
}

// panicHandler recovers panics from the wrapped handler, answering 500 so
// one bad request cannot take the process down.
func panicHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logrus.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		handler.ServeHTTP(w, r)
	})
}
