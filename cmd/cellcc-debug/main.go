// Command cellcc-debug bundles the small, rarely-used operator tools that
// don't belong on the main cellcc binary: killing a stuck job row outright,
// firing a synthetic alert through the configured sinks, and pinging a
// remctl dump server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	overrides  []string
}

func newRootCmd() *cobra.Command {
	gf := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "cellcc-debug",
		Short: "CellCC operator debug tools",
	}

	cmd.PersistentFlags().StringVar(&gf.configPath, "config", "/etc/cellcc/cellcc.yaml", "path to cellcc config file")
	cmd.PersistentFlags().StringArrayVarP(&gf.overrides, "override", "x", nil, `config override "key/path=value" or "json:key/path=value"`)

	cmd.AddCommand(newKillJobCmd(gf))
	cmd.AddCommand(newTestAlertCmd(gf))
	cmd.AddCommand(newPingRemctlCmd(gf))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
