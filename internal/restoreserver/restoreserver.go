// Package restoreserver implements the restore-server daemon shell of spec
// §4.4: for one destination cell, it drives transfer, restore, release, and
// delete jobs through internal/stage, with concurrency bounded per queue by
// restore/queues/*/max-parallel.
package restoreserver

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sinenomine/cellcc/internal/config"
	"github.com/sinenomine/cellcc/internal/daemon"
	"github.com/sinenomine/cellcc/internal/jobstore"
	"github.com/sinenomine/cellcc/internal/models"
	"github.com/sinenomine/cellcc/internal/remctl"
	"github.com/sinenomine/cellcc/internal/stage"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

const defaultPollInterval = 30 * time.Second

// Server is one restore-server process, responsible for every queue at one
// destination cell.
type Server struct {
	Store      *jobstore.Store
	ConfigMgr  *config.Manager
	Vos        stage.VosOps
	DstCell    string
	RemctlDial stage.RemctlDialer
	Logger     *log.Logger
}

// NewServer builds a Server wired against a real vos binary and dials
// dump-hosts over the remctl transport, authenticating with the given
// client TLS material.
func NewServer(store *jobstore.Store, mgr *config.Manager, vosBin, dstCell string, remctlClient config.RemctlConfig, logger *log.Logger) *Server {
	dial := func(fqdn string) (stage.DumpFetcher, error) {
		c, err := remctl.NewClient(remctl.ClientConfig{
			Addr:       fmt.Sprintf("%s:4373", fqdn),
			CertFile:   remctlClient.TLSCert,
			KeyFile:    remctlClient.TLSKey,
			CAFile:     remctlClient.TLSCAFile,
			ServerName: fqdn,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return &Server{
		Store:      store,
		ConfigMgr:  mgr,
		Vos:        vosclient.New(vosBin),
		DstCell:    dstCell,
		RemctlDial: dial,
		Logger:     logger,
	}
}

// Run drives the daemon loop.
func (s *Server) Run(ctx context.Context, once bool) error {
	cfg := s.ConfigMgr.Current()
	interval := time.Duration(cfg.Check.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return daemon.Run(ctx, "restore-server", interval, once, s.Logger, s.tick)
}

// tick runs every configured queue's four stage scans concurrently, one
// goroutine per queue, so a queue with a large backlog (bounded as it is by
// its own max-parallel semaphore) never blocks another queue's transfer,
// restore, release, or delete processing for the rest of the tick.
func (s *Server) tick(ctx context.Context) error {
	cfg := s.ConfigMgr.Current()

	var wg sync.WaitGroup
	errs := make([]error, 0, len(cfg.Restore.Queues))
	var mu sync.Mutex

	for qname, qcfg := range cfg.Restore.Queues {
		wg.Add(1)
		go func(qname string, qcfg config.QueueConfig) {
			defer wg.Done()
			if err := s.tickQueue(ctx, qname, qcfg, cfg); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(qname, qcfg)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("restoreserver: %d of %d queues failed: %w", len(errs), len(cfg.Restore.Queues), errs[0])
	}
	return nil
}

// tickQueue runs one queue's four stage scans in order (a job only reaches
// each stage's candidate state once the previous one completes), with
// per-job dispatch bounded by the queue's own max-parallel semaphore.
func (s *Server) tickQueue(ctx context.Context, qname string, qcfg config.QueueConfig, cfg *config.Config) error {
	filter := jobstore.Filters{DstCells: []string{s.DstCell}, Qname: qname}
	sem := daemon.NewSemaphore(qcfg.MaxParallel)

	if err := s.dispatchStage(ctx, sem, models.StateDumpDone, models.StateXferStart, filter,
		func(job models.Job, updCtx jobstore.UpdateCtx) error {
			w := &stage.TransferWorker{
				Store:             s.Store,
				Dial:              s.RemctlDial,
				ScratchDir:        cfg.Restore.ScratchDir,
				ScratchSlackBytes: cfg.Restore.ScratchSlackBytes,
			}
			return w.Run(ctx, job, updCtx)
		}); err != nil {
		return fmt.Errorf("queue %s transfer scan: %w", qname, err)
	}

	if err := s.dispatchStage(ctx, sem, models.StateXferDone, models.StateRestoreStart, filter,
		func(job models.Job, updCtx jobstore.UpdateCtx) error {
			w := &stage.RestoreWorker{
				Store:         s.Store,
				Vos:           s.Vos,
				ScratchDir:    cfg.Restore.ScratchDir,
				SitePickerCmd: cfg.Hooks.SitePicker,
			}
			return w.Run(ctx, job, updCtx)
		}); err != nil {
		return fmt.Errorf("queue %s restore scan: %w", qname, err)
	}

	if err := s.dispatchStage(ctx, sem, models.StateRestoreDone, models.StateReleaseStart, filter,
		func(job models.Job, updCtx jobstore.UpdateCtx) error {
			w := &stage.ReleaseWorker{Store: s.Store, Vos: s.Vos, Flags: qcfg.Release.Flags}
			return w.Run(ctx, job, updCtx)
		}); err != nil {
		return fmt.Errorf("queue %s release scan: %w", qname, err)
	}

	if err := s.dispatchStage(ctx, sem, models.StateDeleteNew, models.StateDeleteDestStart, filter,
		func(job models.Job, updCtx jobstore.UpdateCtx) error {
			w := &stage.DeleteWorker{Store: s.Store, Vos: s.Vos}
			return w.Run(ctx, job, updCtx)
		}); err != nil {
		return fmt.Errorf("queue %s delete scan: %w", qname, err)
	}

	return nil
}

// dispatchStage advances every candidate row from -> to, then runs run for
// each, bounded by sem. A per-job error is logged, never fatal to the tick.
func (s *Server) dispatchStage(ctx context.Context, sem daemon.Semaphore, from, to string, filter jobstore.Filters, run func(models.Job, jobstore.UpdateCtx) error) error {
	results, err := s.Store.FindAndAdvance(from, to, filter, nil, "picked up by restore-server")
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, r := range results {
		sem.Acquire()
		wg.Add(1)
		go func(job models.Job, updCtx jobstore.UpdateCtx) {
			defer wg.Done()
			defer sem.Release()
			if err := run(job, updCtx); err != nil {
				s.logf("job %d (%s -> %s, %s) stage %s: %v", job.ID, job.SrcCell, job.DstCell, job.Volname, to, err)
			}
		}(r.Job, r.Ctx)
	}
	wg.Wait()
	return nil
}

func (s *Server) logf(format string, args ...interface{}) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf(format, args...)
}
