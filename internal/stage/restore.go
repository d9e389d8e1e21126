package stage

import (
	"context"
	"fmt"
	"os"

	"github.com/sinenomine/cellcc/internal/hooks"
	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

// minimalQuotaKB is the placeholder quota (in kilobytes) a newly created
// destination volume is given before its first restore, per spec §4.3
// "Restore"'s "minimal quota".
const minimalQuotaKB = 1

// RestoreWorker claims and runs RESTORE_START jobs on the destination-cell
// restore host.
type RestoreWorker struct {
	Store         *jobstore.Store
	Vos           VosOps
	ScratchDir    string
	SitePickerCmd string
}

// Run claims job into RESTORE_WORK and drives it to RESTORE_DONE or ERROR,
// per spec §4.3 "Restore".
func (w *RestoreWorker) Run(ctx context.Context, job models.Job, updCtx jobstore.UpdateCtx) error {
	if err := w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateRestoreWork,
		"description": "claimed for restore",
	}, models.StateRestoreStart); err != nil {
		if err == jobstore.ErrConflict {
			return nil
		}
		return err
	}

	info, examineErr := w.Vos.Examine(ctx, job.Volname)
	volumeExists := examineErr == nil

	if !volumeExists {
		sites, err := hooks.RunSitePicker(ctx, w.SitePickerCmd, hooks.SiteRequest{
			Volume:  job.Volname,
			SrcCell: job.SrcCell,
			DstCell: job.DstCell,
		})
		if err != nil {
			w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
			return err
		}

		rw := sites[0]
		if err := w.Vos.CreateVolume(ctx, rw.Server, rw.Partition, job.Volname, minimalQuotaKB); err != nil {
			w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
			return err
		}
		for _, site := range sites {
			if err := w.Vos.AddSite(ctx, site.Server, site.Partition, job.Volname); err != nil {
				w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
				return err
			}
		}
		if err := w.Vos.SetOffline(ctx, job.Volname); err != nil {
			w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
			return err
		}

		info, examineErr = w.Vos.Examine(ctx, job.Volname)
		if examineErr != nil {
			w.Store.JobError(&updCtx, models.StateRestoreWork, examineErr.Error())
			return examineErr
		}
	}

	rwSite, err := rwSiteOf(info)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
		return err
	}

	dumpPath := joinScratch(w.ScratchDir, job.RestoreFilename)
	if err := w.Vos.Restore(ctx, rwSite.Server, rwSite.Partition, job.Volname, dumpPath, job.VolLastupdate); err != nil {
		w.Store.JobError(&updCtx, models.StateRestoreWork, err.Error())
		return err
	}

	os.Remove(dumpPath)

	return w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":            models.StateRestoreDone,
		"restore_filename": "",
		"description":      "restore complete",
	}, models.StateRestoreWork)
}

func rwSiteOf(info *vosclient.VolumeInfo) (vosclient.Site, error) {
	for _, s := range info.Sites {
		if s.Type == vosclient.SiteRW {
			return s, nil
		}
	}
	return vosclient.Site{}, fmt.Errorf("stage: restore: %s has no RW site", info.Name)
}

func joinScratch(dir, filename string) string {
	if dir == "" {
		return filename
	}
	return dir + string(os.PathSeparator) + filename
}
