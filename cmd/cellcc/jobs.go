package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/jobstore"
)

func newJobsCmd(gf *globalFlags) *cobra.Command {
	var (
		format  string
		errors  bool
		srcCell string
		qname   string
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List live jobs and their computed staleness/age/deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd, gf, format, errors, srcCell, qname)
		},
	}

	cmd.Flags().StringVar(&format, "format", "txt", "output format: txt or json")
	cmd.Flags().BoolVar(&errors, "errors", false, "restrict to jobs in the ERROR state")
	cmd.Flags().StringVar(&srcCell, "src-cell", "", "restrict to one source cell")
	cmd.Flags().StringVar(&qname, "queue", "", "restrict to one queue")
	return cmd
}

func runJobs(cmd *cobra.Command, gf *globalFlags, format string, errorsOnly bool, srcCell, qname string) error {
	mgr, err := loadConfigManager(gf)
	if err != nil {
		return err
	}
	store, err := openStore(mgr.Current())
	if err != nil {
		return err
	}

	jobs, err := store.DescribeJobs(jobstore.Filters{SrcCell: srcCell, Qname: qname, Errors: errorsOnly})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	case "txt", "":
		tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSRC\tDST\tVOLUME\tQUEUE\tSTATE\tERRORS\tAGE(s)\tSTALE(s)\tEXPIRED")
		for _, j := range jobs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%v\n",
				j.ID, j.SrcCell, j.DstCell, j.Volname, j.Qname, j.State, j.Errors, j.AgeSeconds, j.StaleSeconds, j.Expired)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown --format %q: want txt or json", format)
	}
}
