// Package cli provides the kpictl command-line interface.
package cli

import (
	"github.com/godilite/kpi-dashboard/internal/config"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd creates the kpictl root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kpictl",
		Short: "Inspect and normalize sales-call KPI data",
		Long: `kpictl works with the same data the KPI dashboard server serves.

It can normalize a local rows file, run one fetch against the configured
source, ask a running server for its refresh status, and list the
snapshots persisted in the SQLite store.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cfg := config.LoadFromEnv()
	root.AddCommand(
		newSummarizeCommand(cfg),
		newFetchCommand(cfg),
		newStatusCommand(cfg),
		newSnapshotsCommand(cfg),
	)
	return root
}
