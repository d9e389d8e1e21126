package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/dashboard"
)

func newDashboardCmd(gf *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the read-only job monitoring dashboard",
		Long:  "Launches a local HTTP dashboard for watching job states and errors in real-time.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, gf, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on")
	return cmd
}

func runDashboard(cmd *cobra.Command, gf *globalFlags, port int) error {
	mgr, err := loadConfigManager(gf)
	if err != nil {
		return err
	}
	store, err := openStore(mgr.Current())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nreceived %s, shutting down...\n", sig)
		cancel()
	}()

	return dashboard.Start(ctx, dashboard.StartOpts{
		Store: store,
		Port:  port,
		Out:   cmd.OutOrStdout(),
	})
}
