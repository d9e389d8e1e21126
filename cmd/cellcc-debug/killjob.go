package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newKillJobCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-job JOBID",
		Short: "Delete a job row outright, bypassing the normal state machine",
		Long:  "Removes a job row regardless of its current state. Use when a job is stuck in a way retry-job can't fix; this leaves no history row behind.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKillJob(cmd, gf, args[0])
		},
	}
}

func runKillJob(cmd *cobra.Command, gf *globalFlags, rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", rawID, err)
	}

	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	if err := store.KillJob(uint(id)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %d deleted\n", id)
	return nil
}
