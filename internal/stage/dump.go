package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/supervisor"
)

// IncrementalPolicy carries the three toggles of spec §4.3 "Dump".
type IncrementalPolicy struct {
	Enabled         bool
	SkipUnchanged   bool
	FulldumpOnError bool
}

// DumpWorker claims and runs DUMP_START jobs on the host where the source
// volume lives.
type DumpWorker struct {
	Store             *jobstore.Store
	Vos               VosOps
	ScratchDir        string
	ScratchSlackBytes int64
	ChecksumAlgorithm string
	Incremental       IncrementalPolicy
	DumpFqdn          string
	DumpMethod        string
	DumpPort          int
	Schedule          []time.Duration
}

// Run claims job (currently in DUMP_START) into DUMP_WORK and drives it to
// DUMP_DONE, ERROR, or — via the skip-unchanged short-circuit — straight to
// RELEASE_DONE, per spec §4.3 "Dump".
func (w *DumpWorker) Run(ctx context.Context, job models.Job, updCtx jobstore.UpdateCtx) error {
	if err := w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateDumpWork,
		"description": "claimed for dump",
	}, models.StateDumpStart); err != nil {
		if err == jobstore.ErrConflict {
			return nil // lost the race to another dump-server; spec §4.3 tie-break.
		}
		return err
	}

	shortCircuit, remoteUpdate, err := w.evaluateIncremental(ctx, job)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}
	if shortCircuit {
		return w.Store.UpdateJob(&updCtx, map[string]interface{}{
			"state":       models.StateReleaseDone,
			"description": "destination already current, dump skipped",
		}, models.StateDumpWork)
	}

	slack := w.ScratchSlackBytes
	if slack == 0 {
		slack = defaultScratchSlack
	}
	estimatedSize := int64(0) // unknown before the dump runs; room check below uses slack alone.
	ok, err := checkScratchRoom(w.ScratchDir, estimatedSize, slack)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}
	if !ok {
		return rollbackToPreWork(w.Store, &updCtx, models.StateDumpStart, "waiting for scratch space")
	}

	destPath := uniqueScratchPath(w.ScratchDir, job.Volname, "dump")
	sess, err := supervisor.Spawn(ctx, supervisor.SpawnOpts{
		Callback: func(ctx context.Context) error {
			return w.Vos.Dump(ctx, job.Volname, destPath, remoteUpdate)
		},
	})
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}

	err = supervisor.MonitorChild(ctx, sess, w.Schedule, func(next time.Duration) {
		timeout := progressDeadline(next)
		w.Store.UpdateJob(&updCtx, map[string]interface{}{
			"timeout":     timeout,
			"description": fmt.Sprintf("dumping %s", job.Volname),
		}, models.StateDumpWork)
	})
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}

	checksum, err := checksumFile(destPath, w.ChecksumAlgorithm)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}
	size, err := fileSize(destPath)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateDumpWork, err.Error())
		return err
	}

	mutations := map[string]interface{}{
		"state":          models.StateDumpDone,
		"dump_fqdn":      w.DumpFqdn,
		"dump_method":    w.DumpMethod,
		"dump_port":      w.DumpPort,
		"dump_filename":  baseName(destPath),
		"dump_checksum":  checksum,
		"dump_filesize":  size,
		"vol_lastupdate": remoteUpdate,
		"description":    "dump complete",
	}
	return w.Store.UpdateJob(&updCtx, mutations, models.StateDumpWork)
}

// evaluateIncremental computes the incremental baseline per the three
// incremental.* toggles, reporting whether the job should short-circuit to
// RELEASE_DONE without producing a blob, and the baseline ("remote_update",
// the destination's already-applied timestamp) to pass to Dump. job.VolLastupdate
// is the prior job's vol_lastupdate for this (dst_cell, volname), carried
// forward from jobshist by jobstore.CreateJob; a volume synced for the first
// time has no history row and starts at 0, the model default.
func (w *DumpWorker) evaluateIncremental(ctx context.Context, job models.Job) (shortCircuit bool, remoteUpdate int64, err error) {
	if !w.Incremental.Enabled {
		return false, 0, nil
	}

	info, err := w.Vos.Examine(ctx, job.Volname)
	if err != nil {
		if w.Incremental.FulldumpOnError {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("stage: dump: examine %s for incremental baseline: %w", job.Volname, err)
	}
	localUpdate := info.LastUpdate
	remoteUpdate = job.VolLastupdate

	if remoteUpdate > localUpdate {
		return false, 0, fmt.Errorf("stage: dump: destination update %d is ahead of source update %d for %s", remoteUpdate, localUpdate, job.Volname)
	}
	if w.Incremental.SkipUnchanged && remoteUpdate == localUpdate && remoteUpdate != 0 {
		return true, remoteUpdate, nil
	}
	return false, remoteUpdate, nil
}
