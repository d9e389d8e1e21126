package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/checkserver"
)

func newCheckServerCmd(gf *globalFlags) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "check-server",
		Short: "Run the check-server daemon: sweep every job for resets, timeouts, staleness, and age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckServer(cmd, gf, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit instead of looping")
	return cmd
}

func runCheckServer(cmd *cobra.Command, gf *globalFlags, once bool) error {
	mgr, err := loadConfigManager(gf)
	if err != nil {
		return err
	}
	cfg := mgr.Current()

	store, err := openStoreAutoMigrate(cfg)
	if err != nil {
		return err
	}

	logger := store.Logger
	srv := checkserver.NewServer(store, mgr, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchReloadCheckServer(ctx, mgr, srv, logger)

	return srv.Run(ctx, once)
}
