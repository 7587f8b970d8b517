package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	gcDryRun           bool
	gcGracePeriodHours uint
)

func init() {
	gcCmd.Flags().BoolVarP(&gcDryRun, "dry-run", "d", false, "report what would be deleted without deleting")
	gcCmd.Flags().UintVar(&gcGracePeriodHours, "grace-period-hours", 0, "minimum blob age in hours before it may be deleted (server default when omitted)")
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "`gc` runs garbage collection on the registry",
	Long:  "`gc` asks the registry to delete blobs not referenced by any manifest and prints the run's statistics.",
	Run: func(cmd *cobra.Command, args []string) {
		path := fmt.Sprintf("/admin/gc?dry_run=%t", gcDryRun)
		if cmd.Flags().Changed("grace-period-hours") {
			path += fmt.Sprintf("&grace_period_hours=%d", gcGracePeriodHours)
		}

		var stats json.RawMessage
		if err := newClient().do(http.MethodPost, path, nil, &stats); err != nil {
			fmt.Fprintf(os.Stderr, "garbage collection: %v\n", err)
			os.Exit(1)
		}

		var buf bytes.Buffer
		if err := json.Indent(&buf, stats, "", "  "); err != nil {
			fmt.Println(string(stats))
			return
		}
		fmt.Println(buf.String())
	},
}
