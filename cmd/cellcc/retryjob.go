package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRetryJobCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-job JOBID",
		Short: "Reset a job in the ERROR state back to its retry start state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetryJob(cmd, gf, args[0])
		},
	}
}

func runRetryJob(cmd *cobra.Command, gf *globalFlags, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", rawID, err)
	}

	mgr, err := loadConfigManager(gf)
	if err != nil {
		return err
	}
	store, err := openStore(mgr.Current())
	if err != nil {
		return err
	}

	if err := store.JobReset(uint(id)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %d reset\n", id)
	return nil
}
