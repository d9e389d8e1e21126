package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/dumpserver"
)

func newDumpServerCmd(gf *globalFlags) *cobra.Command {
	var (
		once    bool
		vosBin  string
		srcCell string
	)

	cmd := &cobra.Command{
		Use:   "dump-server DST_CELL...",
		Short: "Run the dump-server daemon: pick up NEW jobs and produce dump blobs",
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDumpServer(cmd, gf, srcCell, args, once, vosBin)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single scan and exit instead of looping")
	cmd.Flags().StringVar(&vosBin, "vos-bin", "vos", "path to the vos binary")
	cmd.Flags().StringVar(&srcCell, "src-cell", "", "source cell this server dumps volumes from (required)")
	cmd.MarkFlagRequired("src-cell")
	return cmd
}

func runDumpServer(cmd *cobra.Command, gf *globalFlags, srcCell string, dstCells []string, once bool, vosBin string) error {
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
	srv := dumpserver.NewServer(store, mgr, vosBin, srcCell, dstCells, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchReload(ctx, mgr, logger)

	return srv.Run(ctx, once)
}
