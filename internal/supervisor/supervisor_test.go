package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpawn_ExternalCommandSuccess(t *testing.T) {
	sess, err := Spawn(context.Background(), SpawnOpts{Command: []string{"true"}})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := MonitorChild(context.Background(), sess, nil, nil); err != nil {
		t.Fatalf("MonitorChild: %v", err)
	}
}

func TestSpawn_ExternalCommandFailureCapturesStderr(t *testing.T) {
	dir := t.TempDir()
	stderrPath := filepath.Join(dir, "stderr.log")

	sess, err := Spawn(context.Background(), SpawnOpts{
		Command:    []string{"sh", "-c", "echo boom >&2; exit 3"},
		StderrPath: stderrPath,
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	err = MonitorChild(context.Background(), sess, nil, nil)
	var ce *ChildError
	if !errors.As(err, &ce) {
		t.Fatalf("MonitorChild err = %v, want *ChildError", err)
	}
	if ce.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", ce.ExitCode)
	}
	if len(ce.Stderr) != 1 || ce.Stderr[0] != "boom" {
		t.Errorf("Stderr = %v, want [\"boom\"]", ce.Stderr)
	}
}

func TestSpawn_CallbackSuccess(t *testing.T) {
	ran := false
	sess, err := Spawn(context.Background(), SpawnOpts{
		Callback: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := MonitorChild(context.Background(), sess, nil, nil); err != nil {
		t.Fatalf("MonitorChild: %v", err)
	}
	if !ran {
		t.Error("callback did not run")
	}
	if sess.PID() != 0 {
		t.Errorf("PID() = %d, want 0 for in-process callback", sess.PID())
	}
}

func TestSpawn_CallbackFailurePropagates(t *testing.T) {
	wantErr := errors.New("dump failed")
	sess, err := Spawn(context.Background(), SpawnOpts{
		Callback: func(ctx context.Context) error { return wantErr },
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := MonitorChild(context.Background(), sess, nil, nil); !errors.Is(err, wantErr) {
		t.Errorf("MonitorChild err = %v, want %v", err, wantErr)
	}
}

func TestMonitorChild_InvokesProgressSchedule(t *testing.T) {
	sess, err := Spawn(context.Background(), SpawnOpts{
		Callback: func(ctx context.Context) error {
			time.Sleep(120 * time.Millisecond)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	var intervals []time.Duration
	schedule := []time.Duration{30 * time.Millisecond, 40 * time.Millisecond}
	if err := MonitorChild(context.Background(), sess, schedule, func(next time.Duration) {
		intervals = append(intervals, next)
	}); err != nil {
		t.Fatalf("MonitorChild: %v", err)
	}

	if len(intervals) < 2 {
		t.Fatalf("progress called %d times, want at least 2", len(intervals))
	}
	// The first call comes once schedule[0] has elapsed and carries the
	// next interval, schedule[1].
	if intervals[0] != schedule[1] {
		t.Errorf("first progress interval = %v, want %v", intervals[0], schedule[1])
	}
	for _, d := range intervals[1:] {
		if d != schedule[len(schedule)-1] {
			t.Errorf("later progress interval = %v, want last schedule entry %v", d, schedule[len(schedule)-1])
		}
	}
}

func TestMonitorChild_CancelSendsSIGTERMAndWaits(t *testing.T) {
	sess, err := Spawn(context.Background(), SpawnOpts{
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- MonitorChild(ctx, sess, nil, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("MonitorChild err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("MonitorChild did not return after cancellation")
	}

	if _, err := os.FindProcess(sess.PID()); err != nil {
		t.Errorf("FindProcess: %v", err)
	}
}

func TestSpawn_RequiresCommandOrCallback(t *testing.T) {
	if _, err := Spawn(context.Background(), SpawnOpts{}); err == nil {
		t.Fatal("expected error when neither Command nor Callback is set")
	}
}
