// grainctl is a command line client for the grain admin API. It manages
// users and their permission grants and triggers garbage collection on a
// running registry.
//
// The registry location and credentials come from the GRAIN_URL,
// GRAIN_ADMIN_USER and GRAIN_ADMIN_PASSWORD environment variables; the
// --url, --user and --password flags override them.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pierrelefevre/grain/version"
)

var (
	serverURL     string
	adminUser     string
	adminPassword string

	showVersion bool
)

func init() {
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", envOr("GRAIN_URL", "http://localhost:8888"), "base URL of the registry")
	rootCmd.PersistentFlags().StringVar(&adminUser, "user", os.Getenv("GRAIN_ADMIN_USER"), "admin username")
	rootCmd.PersistentFlags().StringVar(&adminPassword, "password", os.Getenv("GRAIN_ADMIN_PASSWORD"), "admin password")
}

var rootCmd = &cobra.Command{
	Use:   "grainctl",
	Short: "`grainctl`",
	Long:  "`grainctl` administers a running grain registry over its admin API.",
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			version.PrintVersion()
			return
		}
		// nolint:errcheck
		cmd.Usage()
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// nolint:errcheck
	rootCmd.Execute()
}
