// Package checkserver implements the check-server daemon shell of spec
// §4.5: a periodic sweep that runs internal/checkengine's five ordered
// rules against every live job and dispatches whatever alerts fire.
package checkserver

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sinenomine/cellcc/internal/checkengine"
	"github.com/sinenomine/cellcc/internal/config"
	"github.com/sinenomine/cellcc/internal/jobstore"
)

const defaultPollInterval = 60 * time.Second

// Server is one check-server process.
type Server struct {
	Engine    *checkengine.Engine
	ConfigMgr *config.Manager
	Logger    *log.Logger
}

// NewServer builds a Server from the currently active config.
func NewServer(store *jobstore.Store, mgr *config.Manager, logger *log.Logger) *Server {
	cfg := mgr.Current()
	return &Server{
		Engine: &checkengine.Engine{
			Store:  store,
			Policy: policyFromConfig(cfg),
			Sinks:  sinksFromConfig(cfg, logger),
		},
		ConfigMgr: mgr,
		Logger:    logger,
	}
}

func policyFromConfig(cfg *config.Config) checkengine.Policy {
	return checkengine.Policy{
		ErrorLimit:             cfg.Check.ErrorLimit,
		ErrorLimitRateLimitSec: cfg.Check.ErrorLimitRateLimitSec,
		StaleThresholdSec:      cfg.Check.StaleThresholdSec,
		OldThresholdSec:        cfg.Check.OldThresholdSec,
		Archive:                cfg.Check.Archive,
	}
}

func sinksFromConfig(cfg *config.Config, logger *log.Logger) checkengine.Sinks {
	return checkengine.Sinks{
		TextCommand:     cfg.Alerts.TextCommand,
		JSONCommand:     cfg.Alerts.JSONCommand,
		Log:             cfg.Alerts.Log,
		SlackWebhookURL: cfg.Alerts.Slack.WebhookURL,
		Logger:          logger,
	}
}

// Run drives the daemon loop. once runs a single sweep and returns its
// error directly; otherwise ticks are scheduled via a cron expression built
// from check/poll-interval-sec and a failed tick is logged, not fatal.
func (s *Server) Run(ctx context.Context, once bool) error {
	if once {
		return s.Engine.RunOnce(ctx)
	}

	cfg := s.ConfigMgr.Current()
	interval := time.Duration(cfg.Check.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	spec := fmt.Sprintf("@every %s", interval)
	done := make(chan error, 1)

	_, err := c.AddFunc(spec, func() {
		if err := s.Engine.RunOnce(ctx); err != nil {
			s.logf("check-server: tick error: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("checkserver: schedule: %w", err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		done <- nil
	}()
	return <-done
}

// Reconfigure rebuilds the engine's policy and sinks from cfg, used by the
// config manager's Reload callback so a SIGHUP takes effect without
// restarting the sweep.
func (s *Server) Reconfigure(cfg *config.Config) error {
	s.Engine.Policy = policyFromConfig(cfg)
	s.Engine.Sinks = sinksFromConfig(cfg, s.Logger)
	return nil
}

func (s *Server) logf(format string, args ...interface{}) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}
