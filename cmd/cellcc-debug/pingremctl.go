package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sinenomine/cellcc/internal/remctl"
)

func newPingRemctlCmd(gf *globalFlags) *cobra.Command {
	var (
		getDump    string
		removeDump string
	)

	cmd := &cobra.Command{
		Use:   "ping-remctl HOST",
		Short: "Exercise the remctl transport against a dump server",
		Long:  "Pings HOST's remctl listener, or, with --get-dump/--remove-dump, exercises the dump-fetch and dump-removal subcommands directly.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPingRemctl(cmd, gf, args[0], getDump, removeDump)
		},
	}

	cmd.Flags().StringVar(&getDump, "get-dump", "", "fetch FILENAME's dump blob and write it to stdout")
	cmd.Flags().StringVar(&removeDump, "remove-dump", "", "remove FILENAME's dump blob on the remote host")
	return cmd
}

func runPingRemctl(cmd *cobra.Command, gf *globalFlags, host, getDump, removeDump string) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}

	client, err := remctl.NewClient(remctl.ClientConfig{
		Addr:       host + ":4373",
		CertFile:   cfg.Remctl.TLSCert,
		KeyFile:    cfg.Remctl.TLSKey,
		CAFile:     cfg.Remctl.TLSCAFile,
		ServerName: host,
	})
	if err != nil {
		return err
	}

	switch {
	case getDump != "":
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("ping-remctl: refusing to write dump data to a terminal; redirect stdout")
		}
		return client.GetDump(getDump, cmd.OutOrStdout())
	case removeDump != "":
		if err := client.RemoveDump(removeDump); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s on %s\n", removeDump, host)
		return nil
	default:
		if err := client.Ping(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", host)
		return nil
	}
}
