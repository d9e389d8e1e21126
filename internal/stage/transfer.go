package stage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
)

// DumpFetcher abstracts pulling a dump blob from its origin host and
// removing it there once fetched, so TransferWorker can be tested without a
// real remctl server. *remctl.Client satisfies this interface.
type DumpFetcher interface {
	GetDump(filename string, w dumpWriter) error
	RemoveDump(filename string) error
}

// dumpWriter is an alias for io.Writer, kept distinct so DumpFetcher's
// signature reads self-documented.
type dumpWriter = io.Writer

// RemctlDialer resolves the dump host named by fqdn to a DumpFetcher. The
// restore-server wires this to remctl.NewClient using the host's
// configured cert material.
type RemctlDialer func(fqdn string) (DumpFetcher, error)

// TransferWorker claims and runs XFER_START jobs on the destination-cell
// restore host, pulling the dump blob over the remote-command transport.
type TransferWorker struct {
	Store             *jobstore.Store
	Dial              RemctlDialer
	ScratchDir        string
	ScratchSlackBytes int64
}

// Run claims job into XFER_WORK and drives it to XFER_DONE or ERROR, per
// spec §4.3 "Transfer".
func (w *TransferWorker) Run(ctx context.Context, job models.Job, updCtx jobstore.UpdateCtx) error {
	if err := w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":       models.StateXferWork,
		"description": "claimed for transfer",
	}, models.StateXferStart); err != nil {
		if err == jobstore.ErrConflict {
			return nil
		}
		return err
	}

	needed := int64(0)
	if job.DumpFilesize != nil {
		needed = *job.DumpFilesize
	}
	slack := w.ScratchSlackBytes
	if slack == 0 {
		slack = defaultScratchSlack
	}
	ok, err := checkScratchRoom(w.ScratchDir, needed, slack)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateXferWork, err.Error())
		return err
	}
	if !ok {
		return rollbackToPreWork(w.Store, &updCtx, models.StateXferStart, "waiting for scratch space")
	}

	fetcher, err := w.Dial(job.DumpFqdn)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateXferWork, err.Error())
		return err
	}

	destPath := uniqueScratchPath(w.ScratchDir, job.Volname, "xfer")
	f, err := os.Create(destPath)
	if err != nil {
		w.Store.JobError(&updCtx, models.StateXferWork, err.Error())
		return err
	}

	fetchErr := fetcher.GetDump(job.DumpFilename, f)
	f.Close()
	if fetchErr != nil {
		os.Remove(destPath)
		w.Store.JobError(&updCtx, models.StateXferWork, fetchErr.Error())
		return fetchErr
	}

	if err := w.verify(destPath, job); err != nil {
		os.Remove(destPath)
		w.Store.UpdateJob(&updCtx, map[string]interface{}{"restore_filename": ""}, "")
		w.Store.JobError(&updCtx, models.StateXferWork, err.Error())
		return err
	}

	if err := fetcher.RemoveDump(job.DumpFilename); err != nil {
		w.Store.JobError(&updCtx, models.StateXferWork, err.Error())
		return err
	}

	return w.Store.UpdateJob(&updCtx, map[string]interface{}{
		"state":            models.StateXferDone,
		"restore_filename": baseName(destPath),
		"dump_filename":    "",
		"description":      "transfer complete",
	}, models.StateXferWork)
}

// verify checks path's size and checksum against job's recorded dump
// metadata, per spec §4.3 "Transfer"'s mismatch handling.
func (w *TransferWorker) verify(path string, job models.Job) error {
	if job.DumpFilesize != nil {
		size, err := fileSize(path)
		if err != nil {
			return err
		}
		if size != *job.DumpFilesize {
			return fmt.Errorf("stage: transfer: size mismatch for %s: got %d, want %d", job.Volname, size, *job.DumpFilesize)
		}
	}
	if job.DumpChecksum != "" {
		match, err := verifyChecksum(path, job.DumpChecksum)
		if err != nil {
			return err
		}
		if !match {
			return fmt.Errorf("stage: transfer: checksum mismatch for %s", job.Volname)
		}
	}
	return nil
}
