package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/hooks"
	"github.com/sinenomine/cellcc/internal/jobstore"
)

func newStartSyncCmd(gf *globalFlags) *cobra.Command {
	var (
		queue  string
		delete bool
	)

	cmd := &cobra.Command{
		Use:   "start-sync SRC_CELL VOLUME",
		Short: "Create a job syncing VOLUME from SRC_CELL to its configured destination cells",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStartSync(cmd, gf, args[0], args[1], queue, delete)
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "restore queue name (defaults to \"default\")")
	cmd.Flags().BoolVar(&delete, "delete", false, "create a deletion job instead of a sync job")
	return cmd
}

func runStartSync(cmd *cobra.Command, gf *globalFlags, srcCell, volume, queue string, deleteJob bool) error {
	mgr, err := loadConfigManager(gf)
	if err != nil {
		return err
	}
	cfg := mgr.Current()

	dstCells := cfg.DstCellsFor(srcCell)
	if len(dstCells) == 0 {
		return fmt.Errorf("no destination cells configured for source cell %q", srcCell)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	op := hooks.OperationSync
	if deleteJob {
		op = hooks.OperationDelete
	}

	for _, dstCell := range dstCells {
		if cfg.Hooks.VolumeFilter != "" {
			decision, err := hooks.RunVolumeFilter(context.Background(), cfg.Hooks.VolumeFilter, hooks.FilterRequest{
				Volume: volume, SrcCell: srcCell, DstCell: dstCell, Qname: queue, Operation: op,
			})
			if err != nil {
				return fmt.Errorf("volume filter for %s -> %s: %w", srcCell, dstCell, err)
			}
			if decision == hooks.Exclude {
				fmt.Fprintf(out, "%s -> %s: excluded by volume filter\n", srcCell, dstCell)
				continue
			}
		}

		job, err := store.CreateJob(jobstore.CreateOpts{
			SrcCell: srcCell, DstCell: dstCell, Volname: volume, Qname: queue, Delete: deleteJob,
		})
		if err != nil {
			return fmt.Errorf("create job %s -> %s: %w", srcCell, dstCell, err)
		}
		fmt.Fprintf(out, "job %d: %s -> %s, %s, state=%s\n", job.ID, srcCell, dstCell, volume, job.State)
	}
	return nil
}
