package registry

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pierrelefevre/grain/configuration"
	"github.com/pierrelefevre/grain/internal/dcontext"
	"github.com/pierrelefevre/grain/registry/storage"
	"github.com/pierrelefevre/grain/registry/storage/driver/factory"
	"github.com/pierrelefevre/grain/version"
)

var showVersion bool

func init() {
	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(GCCmd)
	RootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	ServeCmd.Flags().StringVar(&serveHost, "host", "", "address to listen on (overrides config and HOST)")
	ServeCmd.Flags().StringVar(&serveUsersFile, "users-file", "", "path to the users file (overrides config and USERS_FILE)")

	GCCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "do everything except remove the blobs")
	GCCmd.Flags().IntVar(&gracePeriodHours, "grace-period-hours", 24, "minimum blob age in hours before it may be deleted")
}

// RootCmd is the main command for the 'grain' binary.
var RootCmd = &cobra.Command{
	Use:   "grain",
	Short: "`grain`",
	Long:  "`grain` is a minimal container registry speaking the OCI distribution API.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

var (
	dryRun           bool
	gracePeriodHours int
)

// GCCmd is the cobra command that corresponds to the garbage-collect
// subcommand. It runs against the storage backend directly and must not
// overlap pushes younger than the grace period.
var GCCmd = &cobra.Command{
	Use:   "garbage-collect [config]",
	Short: "`garbage-collect` deletes blobs not referenced by any manifest",
	Long:  "`garbage-collect` deletes blobs not referenced by any manifest.",
	Run: func(cmd *cobra.Command, args []string) {
		config, err := resolveConfiguration(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			// nolint:errcheck
			cmd.Usage()
			os.Exit(1)
		}

		ctx := dcontext.WithVersion(dcontext.Background(), version.Version)
		ctx, err = configureLogging(ctx, config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to configure logging with config: %s\n", err)
			os.Exit(1)
		}

		driver, err := factory.Create(ctx, config.Storage.Type(), config.Storage.Parameters())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to construct %s driver: %v\n", config.Storage.Type(), err)
			os.Exit(1)
		}

		gracePeriod := config.GC.GracePeriod
		if cmd.Flags().Changed("grace-period-hours") || gracePeriod == 0 {
			gracePeriod = time.Duration(gracePeriodHours) * time.Hour
		}

		stats, err := storage.MarkAndSweep(ctx, driver, storage.GCOpts{
			DryRun:      dryRun,
			GracePeriod: gracePeriod,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to garbage collect: %v\n", err)
			os.Exit(1)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		// nolint:errcheck
		encoder.Encode(stats)
	},
}

// resolveConfiguration loads the configuration from the file named by the
// argument or the GRAIN_CONFIGURATION_PATH environment variable. Without
// either, the built-in defaults are used.
func resolveConfiguration(args []string) (*configuration.Configuration, error) {
	var configurationPath string

	if len(args) > 0 {
		configurationPath = args[0]
	} else if os.Getenv("GRAIN_CONFIGURATION_PATH") != "" {
		configurationPath = os.Getenv("GRAIN_CONFIGURATION_PATH")
	}

	if configurationPath == "" {
		return defaultConfiguration(), nil
	}

	fp, err := os.Open(configurationPath)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	config, err := configuration.Parse(fp)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %v", configurationPath, err)
	}

	return config, nil
}

// defaultConfiguration is what a bare `grain serve` runs: a filesystem
// store and users file under ./tmp, listening on 0.0.0.0:8888 with
// prometheus metrics enabled.
func defaultConfiguration() *configuration.Configuration {
	config := &configuration.Configuration{
		Version: configuration.CurrentVersion,
		Storage: configuration.Storage{
			"filesystem": configuration.Parameters{"rootdirectory": "./tmp"},
		},
		Auth: configuration.Auth{
			"userfile": configuration.Parameters{"path": "./tmp/users.json"},
		},
	}
	config.Log.Level = "info"
	config.HTTP.Addr = "0.0.0.0:8888"
	config.HTTP.DrainTimeout = 10 * time.Second
	config.HTTP.Debug.Prometheus.Enabled = true
	config.HTTP.Debug.Prometheus.Path = "/metrics"
	return config
}
