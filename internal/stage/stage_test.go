package stage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/vosclient"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *jobstore.Store {
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
	return jobstore.New(db, "restore-host.example.org")
}

// claimTo advances job through FindAndAdvance(from, to) and returns the
// resulting job and update context, the shape every stage worker receives
// from its daemon shell's tick.
func claimTo(t *testing.T, store *jobstore.Store, from, to string) (models.Job, jobstore.UpdateCtx) {
	t.Helper()
	results, err := store.FindAndAdvance(from, to, jobstore.Filters{}, nil, "queued")
	if err != nil {
		t.Fatalf("FindAndAdvance(%s, %s): %v", from, to, err)
	}
	if len(results) != 1 {
		t.Fatalf("FindAndAdvance(%s, %s) = %d results, want 1", from, to, len(results))
	}
	return results[0].Job, results[0].Ctx
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

// fakeVos is an in-memory VosOps double driven entirely by test
// expectations; it never shells out.
type fakeVos struct {
	dumpErr   error
	dumpCalls int
	lastSince int64

	restoreErr   error
	restoreCalls int

	releaseErr error

	examineInfo *vosclient.VolumeInfo
	examineErr  error

	createErr       error
	addSiteErr      error
	offlineErr      error
	removeSiteCalls []string
	removeSiteErr   error
}

func (f *fakeVos) Dump(ctx context.Context, volume, destFile string, sinceUpdate int64) error {
	f.dumpCalls++
	f.lastSince = sinceUpdate
	if f.dumpErr != nil {
		return f.dumpErr
	}
	return writeFile(destFile, "dump-payload")
}

func (f *fakeVos) Restore(ctx context.Context, server, partition, volume, dumpFile string, baseline int64) error {
	f.restoreCalls++
	return f.restoreErr
}

func (f *fakeVos) Release(ctx context.Context, volume string, flags map[string]string) error {
	return f.releaseErr
}

func (f *fakeVos) Examine(ctx context.Context, volume string) (*vosclient.VolumeInfo, error) {
	if f.examineErr != nil {
		return nil, f.examineErr
	}
	if f.examineInfo != nil {
		return f.examineInfo, nil
	}
	return &vosclient.VolumeInfo{Name: volume}, nil
}

func (f *fakeVos) CreateVolume(ctx context.Context, server, partition, name string, quotaKB int64) error {
	return f.createErr
}

func (f *fakeVos) AddSite(ctx context.Context, server, partition, volume string) error {
	return f.addSiteErr
}

func (f *fakeVos) SetOffline(ctx context.Context, volume string) error {
	return f.offlineErr
}

func (f *fakeVos) RemoveSite(ctx context.Context, server, partition, volume string) error {
	f.removeSiteCalls = append(f.removeSiteCalls, fmt.Sprintf("%s/%s", server, partition))
	return f.removeSiteErr
}

// fakeFetcher is an in-memory DumpFetcher double for TransferWorker tests.
type fakeFetcher struct {
	payload      []byte
	getErr       error
	removeErr    error
	removeCalled bool
}

func (f *fakeFetcher) GetDump(filename string, w dumpWriter) error {
	if f.getErr != nil {
		return f.getErr
	}
	_, err := w.Write(f.payload)
	return err
}

func (f *fakeFetcher) RemoveDump(filename string) error {
	f.removeCalled = true
	return f.removeErr
}

var testSchedule = []time.Duration{5 * time.Millisecond}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
