package stage

import (
	"context"
	"fmt"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

// ReleaseWorker claims and runs RELEASE_START jobs.
type ReleaseWorker struct {
	Store *jobstore.Store
	Vos   VosOps
	Flags map[string]string
}

// Run claims job into RELEASE_WORK and drives it to RELEASE_DONE or ERROR,
// per spec §4.3 "Release".
func (w *ReleaseWorker) Run(ctx context.Context, job models.Job, updCtx jobstore.UpdateCtx) error {
	if err := w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateReleaseWork,
		"description": "claimed for release",
	}, models.StateReleaseStart); err != nil {
		if err == jobstore.ErrConflict {
			return nil
		}
		return err
	}

	if err := w.Vos.Release(ctx, job.Volname, w.Flags); err != nil {
		w.Store.JobError(&updCtx, models.StateReleaseWork, err.Error())
		return err
	}

	info, err := w.Vos.Examine(ctx, job.Volname)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateReleaseWork, err.Error())
		return err
	}
	if bad := findUnreleasable(info); bad != nil {
		err := fmt.Errorf("stage: release: %s/%s is %s after release", bad.Server, bad.Partition, unreleasableReason(*bad))
		w.Store.JobError(&updCtx, models.StateReleaseWork, err.Error())
		return err
	}

	return w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateReleaseDone,
		"description": "release complete",
	}, models.StateReleaseWork)
}

// findUnreleasable returns the first site left stale or locked by the
// release, per spec §4.3 "Release"'s re-examine step.
func findUnreleasable(info *vosclient.VolumeInfo) *vosclient.Site {
	for i := range info.Sites {
		if info.Sites[i].Stale || info.Sites[i].Locked {
			return &info.Sites[i]
		}
	}
	return nil
}

func unreleasableReason(s vosclient.Site) string {
	switch {
	case s.Stale && s.Locked:
		return "stale and locked"
	case s.Stale:
		return "stale"
	default:
		return "locked"
	}
}
