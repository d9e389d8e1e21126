//go:build integration

package jobstore

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// integrationDB connects to a real MySQL/MariaDB server named by
// CELLCC_TEST_MYSQL_DSN, skipping the test if it is unset. Unlike the
// teacher's integration tests, which spawn a throwaway Dolt server per run,
// CellCC's deadlock-retry behavior depends on genuine InnoDB lock
// semantics, so these tests target an operator-provisioned server instead.
func integrationDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("CELLCC_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CELLCC_TEST_MYSQL_DSN not set; skipping MySQL integration test")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM jobs")
		db.Exec("DELETE FROM jobshist")
	})
	return db
}

// TestConcurrentClaim_ExactlyOneWinner drives the "concurrent claim"
// end-to-end scenario of spec §8: two workers racing FindAndAdvance on the
// same NEW job must produce exactly one DUMP_START transition.
func TestConcurrentClaim_ExactlyOneWinner(t *testing.T) {
	db := integrationDB(t)
	s := New(db, "host1")

	job, err := s.CreateJob(CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.race"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	timeout := uint(60)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.FindAndAdvance(job.State, "DUMP_START", Filters{SrcCell: "src"}, &timeout, "claim race"); err != nil {
				t.Errorf("worker %d: FindAndAdvance: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Either worker's result set may include the row the other one
	// advanced, so count transitions by the row's dv instead.
	jobs, err := s.FindJobs(Filters{SrcCell: "src"})
	if err != nil {
		t.Fatalf("FindJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].DV != job.DV+1 {
		t.Fatalf("jobs after race = %+v, want one row with dv %d (exactly one transition)", jobs, job.DV+1)
	}
}

// TestDeadlockRetry_RecoversFromConcurrentUpdates exercises the retry
// path by hammering the same row from many goroutines; none of the
// non-winning updates should surface a bare deadlock error to the caller.
func TestDeadlockRetry_RecoversFromConcurrentUpdates(t *testing.T) {
	db := integrationDB(t)
	s := New(db, "host1")

	job, err := s.CreateJob(CreateOpts{SrcCell: "src", DstCell: "dst", Volname: "u.deadlock"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := &UpdateCtx{JobID: job.ID, DV: job.DV}
			errs[i] = s.UpdateJob(ctx, map[string]interface{}{"description": fmt.Sprintf("writer %d", i)}, "")
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, e := range errs {
		if e == nil {
			continue
		}
		if e == ErrConflict {
			conflicts++
			continue
		}
		t.Errorf("unexpected non-conflict error (deadlock should have been retried): %v", e)
	}
	if conflicts == 0 {
		t.Log("no conflicts observed; all writers may have serialized cleanly")
	}
}
