package checkengine

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sliceWriter captures each Write as one logged line, letting tests assert
// on how many alerts the log sink emitted.
type sliceWriter struct{ lines *[]string }

func (w sliceWriter) Write(p []byte) (int, error) {
	*w.lines = append(*w.lines, string(p))
	return len(p), nil
}

func testLogger(lines *[]string) *log.Logger {
	return log.New(sliceWriter{lines: lines}, "", 0)
}

func testStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, _ := testStoreDB(t)
	return store
}

// testStoreDB also returns the underlying handle, for seeding columns such
// as mtime that UpdateJob always overwrites.
func testStoreDB(t *testing.T) (*jobstore.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := jobstore.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return jobstore.New(db, "check-host.example.org"), db
}

// backdateMtime sets job id's mtime directly, bypassing UpdateJob.
func backdateMtime(t *testing.T, db *gorm.DB, id uint, mtime time.Time) {
	t.Helper()
	if err := db.Model(&models.Job{}).Where("id = ?", id).Update("mtime", mtime).Error; err != nil {
		t.Fatalf("backdate mtime: %v", err)
	}
}

func loadJob(t *testing.T, store *jobstore.Store, id uint) models.Job {
	t.Helper()
	jobs, err := store.FindJobs(jobstore.Filters{})
	if err != nil {
		t.Fatalf("FindJobs: %v", err)
	}
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}
	t.Fatalf("job %d not found", id)
	return models.Job{}
}

func TestRunOnce_ResetRuleRetriesUnderLimit(t *testing.T) {
	store := testStore(t)
	j, err := store.CreateJob(jobstore.CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	ctx := jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	if err := store.UpdateJob(&ctx, map[string]interface{}{
		"state": models.StateError, "last_good_state": models.StateDumpWork, "errors": 1,
	}, ""); err != nil {
		t.Fatalf("seed error state: %v", err)
	}

	e := &Engine{Store: store, Policy: Policy{ErrorLimit: 5}}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := loadJob(t, store, j.ID)
	if got.State != models.StateDumpStart {
		t.Fatalf("state = %q, want %q", got.State, models.StateDumpStart)
	}
	if got.Errors != 1 {
		t.Errorf("errors = %d, want unchanged 1", got.Errors)
	}
}

func TestRunOnce_ErrorLimitBreachDoesNotReset(t *testing.T) {
	store := testStore(t)
	j, err := store.CreateJob(jobstore.CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	ctx := jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	if err := store.UpdateJob(&ctx, map[string]interface{}{
		"state": models.StateError, "last_good_state": models.StateDumpWork, "errors": 5,
	}, ""); err != nil {
		t.Fatalf("seed error state: %v", err)
	}

	e := &Engine{Store: store, Policy: Policy{ErrorLimit: 5, ErrorLimitRateLimitSec: 3600}}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := loadJob(t, store, j.ID)
	if got.State != models.StateError {
		t.Fatalf("state = %q, want ERROR (no reset past limit)", got.State)
	}
	if got.ErrorLimitMtime == nil {
		t.Fatal("errorlimit_mtime not stamped")
	}

	// A second tick within the rate-limit window should not re-stamp.
	firstStamp := *got.ErrorLimitMtime
	time.Sleep(10 * time.Millisecond)
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
	got2 := loadJob(t, store, j.ID)
	if !got2.ErrorLimitMtime.Equal(firstStamp) {
		t.Errorf("errorlimit_mtime changed within rate-limit window: %v -> %v", firstStamp, *got2.ErrorLimitMtime)
	}
}

func TestRunOnce_DoneRuleArchivesAndDeletes(t *testing.T) {
	store := testStore(t)
	store.Archive = true
	j, err := store.CreateJob(jobstore.CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	ctx := jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	if err := store.UpdateJob(&ctx, map[string]interface{}{"state": models.StateReleaseDone}, ""); err != nil {
		t.Fatalf("seed done state: %v", err)
	}

	e := &Engine{Store: store, Policy: Policy{Archive: true}}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	jobs, err := store.FindJobs(jobstore.Filters{})
	if err != nil {
		t.Fatalf("FindJobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("live jobs = %d, want 0 after done rule", len(jobs))
	}

	// Idempotent: running again must not error on the now-missing row.
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("second RunOnce: %v", err)
	}
}

func TestRunOnce_ExpiredRuleTransitionsToError(t *testing.T) {
	store, db := testStoreDB(t)
	j, err := store.CreateJob(jobstore.CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	ctx := jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	timeout := uint(1)
	if err := store.UpdateJob(&ctx, map[string]interface{}{
		"state": models.StateDumpWork, "timeout": timeout,
	}, ""); err != nil {
		t.Fatalf("seed expired state: %v", err)
	}
	backdateMtime(t, db, j.ID, time.Now().Add(-time.Hour))

	e := &Engine{Store: store, Policy: Policy{ErrorLimit: 5}}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := loadJob(t, store, j.ID)
	if got.State != models.StateError {
		t.Fatalf("state = %q, want ERROR", got.State)
	}
	if got.LastGoodState != models.StateDumpWork {
		t.Errorf("last_good_state = %q, want %q", got.LastGoodState, models.StateDumpWork)
	}
}

func TestRunOnce_StaleRuleEmitsAlertWithoutMutating(t *testing.T) {
	store, db := testStoreDB(t)
	j, err := store.CreateJob(jobstore.CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.alice"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	ctx := jobstore.UpdateCtx{JobID: j.ID, DV: j.DV}
	if err := store.UpdateJob(&ctx, map[string]interface{}{
		"state": models.StateDumpWork,
	}, ""); err != nil {
		t.Fatalf("seed stale state: %v", err)
	}
	backdateMtime(t, db, j.ID, time.Now().Add(-time.Hour))

	var logged []string
	e := &Engine{
		Store:  store,
		Policy: Policy{StaleThresholdSec: 60},
		Sinks:  Sinks{Log: true, Logger: testLogger(&logged)},
	}
	if err := e.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got := loadJob(t, store, j.ID)
	if got.State != models.StateDumpWork {
		t.Errorf("state changed to %q, stale rule should not mutate", got.State)
	}
	if len(logged) != 1 {
		t.Fatalf("logged = %v, want 1 stale alert", logged)
	}
}
