// Package dumpserver implements the dump-server daemon shell of spec §4.4:
// a bounded worker pool that picks up NEW jobs for one source cell and
// drives each through internal/stage's DumpWorker.
package dumpserver

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
	"github.com/sinenomine/cellcc/internal/stage"
	"github.com/sinenomine/cellcc/internal/vosclient"
)

// defaultPollInterval is used when cfg.Check.PollIntervalSec is unset or
// non-positive; dump-server, restore-server, and check-server all share
// that one directive rather than each having their own.
const defaultPollInterval = 30 * time.Second

// Schedule is the progress-callback interval sequence handed to
// supervisor.MonitorChild for every dump child process.
var Schedule = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second, time.Minute}

// Server is one dump-server process, responsible for every configured
// destination cell reachable from SrcCell.
type Server struct {
	Store     *jobstore.Store
	ConfigMgr *config.Manager
	Vos       stage.VosOps
	SrcCell   string
	DstCells  []string // empty means all cells configured for SrcCell
	Logger    *log.Logger
}

// NewServer builds a Server wired against a real vos binary.
func NewServer(store *jobstore.Store, mgr *config.Manager, vosBin, srcCell string, dstCells []string, logger *log.Logger) *Server {
	return &Server{
		Store:     store,
		ConfigMgr: mgr,
		Vos:       vosclient.New(vosBin),
		SrcCell:   srcCell,
		DstCells:  dstCells,
		Logger:    logger,
	}
}

// Run drives the daemon loop. If once is true a single tick runs and its
// error, if any, is returned directly.
func (s *Server) Run(ctx context.Context, once bool) error {
	cfg := s.ConfigMgr.Current()
	interval := time.Duration(cfg.Check.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return daemon.Run(ctx, "dump-server", interval, once, s.Logger, s.tick)
}

func (s *Server) tick(ctx context.Context) error {
	cfg := s.ConfigMgr.Current()

	filter := jobstore.Filters{SrcCell: s.SrcCell, DstCells: s.DstCells}
	results, err := s.Store.FindAndAdvance(models.StateNew, models.StateDumpStart, filter, nil, "picked up by dump-server")
	if err != nil {
		return fmt.Errorf("dumpserver: scan: %w", err)
	}
	if len(results) == 0 {
		return nil
	}

	worker := &stage.DumpWorker{
		Store:             s.Store,
		Vos:               s.Vos,
		ScratchDir:        cfg.Dump.ScratchDir,
		ScratchSlackBytes: cfg.Dump.ScratchSlackBytes,
		ChecksumAlgorithm: cfg.Dump.ChecksumAlgorithm,
		Incremental: stage.IncrementalPolicy{
			Enabled:         cfg.Dump.Incremental.Enabled,
			SkipUnchanged:   cfg.Dump.Incremental.SkipUnchanged,
			FulldumpOnError: cfg.Dump.Incremental.FulldumpOnError,
		},
		DumpFqdn:   cfg.StatusFqdn,
		DumpMethod: "rxfer",
		Schedule:   Schedule,
	}

	sem := daemon.NewSemaphore(cfg.Dump.WorkerPoolSize)
	var wg sync.WaitGroup
	for _, r := range results {
		sem.Acquire()
		wg.Add(1)
		go func(job models.Job, updCtx jobstore.UpdateCtx) {
			defer wg.Done()
			defer sem.Release()
			if err := worker.Run(ctx, job, updCtx); err != nil {
				s.logf("dump job %d (%s -> %s, %s): %v", job.ID, job.SrcCell, job.DstCell, job.Volname, err)
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
