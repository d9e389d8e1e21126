package stage

import (
	"context"
	"strings"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

// DeleteWorker claims and runs DELETE_DEST_START jobs.
type DeleteWorker struct {
	Store *jobstore.Store
	Vos   VosOps
}

// Run claims job into DELETE_DEST_WORK and drives it to DELETE_DEST_DONE or
// ERROR, per spec §4.3 "Delete": sites are removed RO, then BK, then RW, so
// replica removals precede the authoritative copy. A volume that no longer
// exists is not an error.
func (w *DeleteWorker) Run(ctx context.Context, job models.Job, updCtx jobstore.UpdateCtx) error {
	if err := w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateDeleteDestWork,
		"description": "claimed for delete",
	}, models.StateDeleteDestStart); err != nil {
		if err == jobstore.ErrConflict {
			return nil
		}
		return err
	}

	info, err := w.Vos.Examine(ctx, job.Volname)
	if err != nil {
		if !volumeMissing(err) {
			w.Store.JobError(&updCtx, models.StateDeleteDestWork, err.Error())
			return err
		}
		info = &vosclient.VolumeInfo{Name: job.Volname}
	}

	for _, siteType := range vosclient.DeleteOrder {
		for _, site := range info.Sites {
			if site.Type != siteType {
				continue
			}
			if err := w.Vos.RemoveSite(ctx, site.Server, site.Partition, job.Volname); err != nil {
				w.Store.JobError(&updCtx, models.StateDeleteDestWork, err.Error())
				return err
			}
		}
	}

	return w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateDeleteDestDone,
		"description": "delete complete",
	}, models.StateDeleteDestWork)
}

func volumeMissing(err error) bool {
	return strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "VLDB: no entry")
}
