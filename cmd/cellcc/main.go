package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalFlags carries every flag shared across subcommands, per spec §6's
// "--config FILE" and "-x KEY=VAL" / "-x json:KEY=VAL" override directives.
type globalFlags struct {
	configPath string
	overrides  []string
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "cellcc",
		Short: "CellCC — cross-cell AFS volume sync",
		Long:  "CellCC drives the dump/transfer/restore/release job lifecycle that replicates AFS volumes between cells.",
	}

	cmd.PersistentFlags().StringVar(&gf.configPath, "config", "/etc/cellcc/cellcc.yaml", "path to cellcc config file")
	cmd.PersistentFlags().StringArrayVarP(&gf.overrides, "override", "x", nil, `config override "key/path=value" or "json:key/path=value"`)

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStartSyncCmd(gf))
	cmd.AddCommand(newDumpServerCmd(gf))
	cmd.AddCommand(newRestoreServerCmd(gf))
	cmd.AddCommand(newCheckServerCmd(gf))
	cmd.AddCommand(newJobsCmd(gf))
	cmd.AddCommand(newConfigCmd(gf))
	cmd.AddCommand(newRetryJobCmd(gf))
	cmd.AddCommand(newDashboardCmd(gf))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cellcc %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
