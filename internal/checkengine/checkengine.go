// Package checkengine implements the periodic check/alert sweep of spec
// §4.5: five ordered rules applied to every non-terminal job, with alerts
// from one tick batched and dispatched once across the configured sinks.
package checkengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	slackapi "github.com/slack-go/slack"
)

// AlertKind names the five alert classes of spec §4.5.
type AlertKind string

const (
	AlertRetry      AlertKind = "ALERT_RETRY"
	AlertErrorLimit AlertKind = "ALERT_ERRORLIMIT"
	AlertExpired    AlertKind = "ALERT_EXPIRED"
	AlertStale      AlertKind = "ALERT_STALE"
	AlertOld        AlertKind = "ALERT_OLD"
)

// Alert is one rule firing against one job, accumulated over a tick.
type Alert struct {
	Kind      AlertKind `json:"kind"`
	JobID     uint      `json:"job_id"`
	SrcCell   string    `json:"src_cell"`
	DstCell   string    `json:"dst_cell"`
	Volname   string    `json:"volname"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (a Alert) text() string {
	return fmt.Sprintf("[%s] job %d (%s -> %s, %s) state=%s: %s",
		a.Kind, a.JobID, a.SrcCell, a.DstCell, a.Volname, a.State, a.Message)
}

// Policy configures the five rules' thresholds, per spec §6's check
// directives.
type Policy struct {
	ErrorLimit             uint
	ErrorLimitRateLimitSec uint
	StaleThresholdSec      uint
	OldThresholdSec        uint
	Archive                bool
}

// Sinks configures the three independently switchable alert dispatch
// channels of spec §4.5, plus the Slack webhook sink added in
// SPEC_FULL.md.
type Sinks struct {
	TextCommand     string
	JSONCommand     string
	Log             bool
	SlackWebhookURL string
	Logger          *log.Logger
}

// Engine runs one check sweep at a time; RunOnce is safe to call
// repeatedly from a scheduled tick.
type Engine struct {
	Store  *jobstore.Store
	Policy Policy
	Sinks  Sinks
}

// RunOnce applies the five ordered rules of spec §4.5 to every live job, in
// mtime-ascending order per spec §5's ordering guarantee, then dispatches
// whatever alerts accumulated.
func (e *Engine) RunOnce(ctx context.Context) error {
	jobs, err := e.Store.FindJobs(jobstore.Filters{})
	if err != nil {
		return fmt.Errorf("checkengine: list jobs: %w", err)
	}

	now := time.Now()
	var alerts []Alert
	for _, j := range jobs {
		a, err := e.applyRules(j, now)
		if err != nil {
			e.logf("job %d: %v", j.ID, err)
			continue
		}
		alerts = append(alerts, a...)
	}

	if len(alerts) > 0 {
		e.dispatch(alerts)
	}
	return nil
}

// applyRules evaluates the five rules in order against one job; at most
// one fires.
func (e *Engine) applyRules(j models.Job, now time.Time) ([]Alert, error) {
	if models.IsTerminal(j.State) {
		return e.applyDoneRule(j)
	}

	if j.State == models.StateError {
		return e.applyResetRule(j, now)
	}

	if j.Timeout != nil {
		deadline := j.MTime.Add(time.Duration(*j.Timeout) * time.Second)
		if now.After(deadline) {
			return e.applyExpiredRule(j)
		}
	}

	if e.Policy.StaleThresholdSec > 0 && uint(now.Sub(j.MTime).Seconds()) > e.Policy.StaleThresholdSec {
		return []Alert{e.newAlert(AlertStale, j, fmt.Sprintf("no update in %s", now.Sub(j.MTime).Round(time.Second)))}, nil
	}

	if e.Policy.OldThresholdSec > 0 && uint(now.Sub(j.CTime).Seconds()) > e.Policy.OldThresholdSec {
		return []Alert{e.newAlert(AlertOld, j, fmt.Sprintf("created %s ago", now.Sub(j.CTime).Round(time.Second)))}, nil
	}

	return nil, nil
}

// applyResetRule implements spec §4.5 rule 1.
func (e *Engine) applyResetRule(j models.Job, now time.Time) ([]Alert, error) {
	if j.Errors < e.Policy.ErrorLimit {
		retryState := models.RetryOf(j.LastGoodState)
		if retryState == "" {
			return nil, fmt.Errorf("no retry target for last_good_state %q", j.LastGoodState)
		}
		ctx := &jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
		mutations := map[string]interface{}{
			"state":       retryState,
			"description": "reset by check engine",
		}
		if err := e.Store.UpdateJob(ctx, mutations, models.StateError); err != nil {
			if err == jobstore.ErrConflict {
				return nil, nil
			}
			return nil, err
		}
		return []Alert{e.newAlert(AlertRetry, j, fmt.Sprintf("reset to %s (errors=%d)", retryState, j.Errors))}, nil
	}

	if j.ErrorLimitMtime != nil && now.Sub(*j.ErrorLimitMtime) < time.Duration(e.Policy.ErrorLimitRateLimitSec)*time.Second {
		return nil, nil
	}

	ctx := &jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	if err := e.Store.UpdateJob(ctx, map[string]interface{}{"errorlimit_mtime": now}, models.StateError); err != nil {
		if err != jobstore.ErrConflict {
			return nil, err
		}
	}
	return []Alert{e.newAlert(AlertErrorLimit, j, fmt.Sprintf("errors=%d reached limit %d", j.Errors, e.Policy.ErrorLimit))}, nil
}

// applyDoneRule implements spec §4.5 rule 2.
func (e *Engine) applyDoneRule(j models.Job) ([]Alert, error) {
	if e.Policy.Archive {
		if err := e.Store.ArchiveJob(j.ID); err != nil && err != jobstore.ErrNotFound {
			return nil, err
		}
		return nil, nil
	}
	if err := e.Store.KillJob(j.ID); err != nil && err != jobstore.ErrNotFound {
		return nil, err
	}
	return nil, nil
}

// applyExpiredRule implements spec §4.5 rule 3.
func (e *Engine) applyExpiredRule(j models.Job) ([]Alert, error) {
	ctx := &jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	mutations := map[string]interface{}{
		"state":           models.StateError,
		"last_good_state": j.State,
		"errors":          j.Errors + 1,
		"timeout":         nil,
		"description":     "deadline exceeded",
	}
	if err := e.Store.UpdateJob(ctx, mutations, j.State); err != nil {
		if err == jobstore.ErrConflict {
			return nil, nil
		}
		return nil, err
	}
	return []Alert{e.newAlert(AlertExpired, j, "timeout deadline exceeded")}, nil
}

func (e *Engine) newAlert(kind AlertKind, j models.Job, message string) Alert {
	return Alert{
		Kind: kind, JobID: j.ID, SrcCell: j.SrcCell, DstCell: j.DstCell,
		Volname: j.Volname, State: j.State, Message: message, Timestamp: time.Now(),
	}
}

// DispatchAlerts fans synthetic alerts out through the same sinks RunOnce
// uses, for the debug tool's test-alert command.
func (e *Engine) DispatchAlerts(alerts []Alert) {
	e.dispatch(alerts)
}

// NewAlert builds an Alert the way RunOnce's rules do, for callers outside
// the package (the debug tool's test-alert command).
func (e *Engine) NewAlert(kind AlertKind, j models.Job, message string) Alert {
	return e.newAlert(kind, j, message)
}

// dispatch fans the tick's accumulated alerts out to every configured sink.
// Per spec §4.5, a sink failure is a logged warning, never fatal.
func (e *Engine) dispatch(alerts []Alert) {
	if e.Sinks.Log {
		for _, a := range alerts {
			e.logf("WARNING: %s", a.text())
		}
	}

	if e.Sinks.TextCommand != "" {
		var b strings.Builder
		for _, a := range alerts {
			b.WriteString(a.text())
			b.WriteString("\n")
		}
		if err := pipeToCommand(e.Sinks.TextCommand, b.String()); err != nil {
			e.logf("checkengine: text alert command: %v", err)
		}
	}

	if e.Sinks.JSONCommand != "" {
		payload, err := json.Marshal(alerts)
		if err != nil {
			e.logf("checkengine: marshal json alerts: %v", err)
		} else if err := pipeToCommand(e.Sinks.JSONCommand, string(payload)); err != nil {
			e.logf("checkengine: json alert command: %v", err)
		}
	}

	if e.Sinks.SlackWebhookURL != "" {
		var b strings.Builder
		for _, a := range alerts {
			b.WriteString(a.text())
			b.WriteString("\n")
		}
		msg := &slackapi.WebhookMessage{Text: b.String()}
		if err := slackapi.PostWebhook(e.Sinks.SlackWebhookURL, msg); err != nil {
			e.logf("checkengine: slack webhook: %v", err)
		}
	}
}

func pipeToCommand(command, input string) error {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", command, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (e *Engine) logf(format string, args ...interface{}) {
	logger := e.Sinks.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}
