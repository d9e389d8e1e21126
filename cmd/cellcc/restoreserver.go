package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/restoreserver"
)

func newRestoreServerCmd(gf *globalFlags) *cobra.Command {
	var (
		once   bool
		vosBin string
	)

	cmd := &cobra.Command{
		Use:   "restore-server DST_CELL",
		Short: "Run the restore-server daemon: transfer, restore, release, and delete jobs for one destination cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestoreServer(cmd, gf, args[0], once, vosBin)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single scan and exit instead of looping")
	cmd.Flags().StringVar(&vosBin, "vos-bin", "vos", "path to the vos binary")
	return cmd
}

func runRestoreServer(cmd *cobra.Command, gf *globalFlags, dstCell string, once bool, vosBin string) error {
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
	srv := restoreserver.NewServer(store, mgr, vosBin, dstCell, cfg.Remctl, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchReload(ctx, mgr, logger)

	return srv.Run(ctx, once)
}
