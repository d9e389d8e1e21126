package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/sinenomine/cellcc/internal/checkengine"
	"github.com/sinenomine/cellcc/internal/models"
)

func newTestAlertCmd(gf *globalFlags) *cobra.Command {
	var (
		kind    string
		jobID   uint
		message string
	)

	cmd := &cobra.Command{
		Use:   "test-alert",
		Short: "Fire a synthetic alert through the configured alert sinks",
		Long:  "Builds one alert by hand and dispatches it exactly like a real check-server tick, for verifying sink configuration without waiting for a real job to misbehave.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestAlert(cmd, gf, kind, jobID, message)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "ALERT_STALE", "alert kind: ALERT_RETRY, ALERT_ERRORLIMIT, ALERT_EXPIRED, ALERT_STALE, or ALERT_OLD")
	cmd.Flags().UintVar(&jobID, "job-id", 0, "synthetic job id to report in the alert")
	cmd.Flags().StringVar(&message, "message", "synthetic alert from cellcc-debug test-alert", "alert message text")
	return cmd
}

func runTestAlert(cmd *cobra.Command, gf *globalFlags, kind string, jobID uint, message string) error {
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}

	logger := log.New(cmd.OutOrStdout(), "", log.LstdFlags)
	engine := &checkengine.Engine{
		Sinks: checkengine.Sinks{
			TextCommand:     cfg.Alerts.TextCommand,
			JSONCommand:     cfg.Alerts.JSONCommand,
			Log:             cfg.Alerts.Log,
			SlackWebhookURL: cfg.Alerts.Slack.WebhookURL,
			Logger:          logger,
		},
	}

	job := models.Job{
		ID:      jobID,
		SrcCell: "debug.example.org",
		DstCell: "debug.example.org",
		Volname: "debug.synthetic",
		State:   models.StateDumpWork,
	}

	alert := engine.NewAlert(checkengine.AlertKind(kind), job, message)
	engine.DispatchAlerts([]checkengine.Alert{alert})
	fmt.Fprintf(cmd.OutOrStdout(), "dispatched %s for job %d\n", kind, jobID)
	return nil
}
