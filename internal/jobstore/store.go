// Package jobstore provides typed access to the jobs and jobshist
// relations, encapsulating the optimistic-concurrency update protocol and
// the retry-on-deadlock policy described in spec §4.1.
package jobstore

import (
	"fmt"
	"log"
	"time"

	"github.com/sinenomine/cellcc/internal/models"
	"gorm.io/gorm"
)

// UpdateCtx is the in/out update context of design note 9: callers pass the
// dv they believe is current and receive the post-update dv back.
type UpdateCtx struct {
	JobID uint
	DV    uint64
}

// Store wraps a *gorm.DB with the job table's access patterns. StatusFqdn is
// stamped into status_fqdn on every mutation this process makes.
type Store struct {
	db         *gorm.DB
	StatusFqdn string
	Archive    bool // not read by ArchiveJob, which always copies to jobshist; the done rule follows checkengine.Policy.Archive
	Logger     *log.Logger
}

// New returns a Store bound to db, identifying itself as statusFqdn in every
// mutation it performs.
func New(db *gorm.DB, statusFqdn string) *Store {
	return &Store{db: db, StatusFqdn: statusFqdn, Logger: log.Default()}
}

// CreateJob inserts a new job in state NEW (or DELETE_NEW for a deletion
// job), enforcing invariant 1: (dst_cell, volname) must be unique among live
// jobs. qname defaults to "default".
type CreateOpts struct {
	SrcCell string
	DstCell string
	Volname string
	Qname   string
	Delete  bool
}

func (s *Store) CreateJob(opts CreateOpts) (*models.Job, error) {
	if opts.SrcCell == "" || opts.DstCell == "" || opts.Volname == "" {
		return nil, fmt.Errorf("jobstore: src_cell, dst_cell, and volname are required")
	}
	qname := opts.Qname
	if qname == "" {
		qname = "default"
	}
	state := models.StateNew
	if opts.Delete {
		state = models.StateDeleteNew
	}

	now := time.Now()
	job := &models.Job{
		SrcCell:     opts.SrcCell,
		DstCell:     opts.DstCell,
		Volname:     opts.Volname,
		Qname:       qname,
		State:       state,
		DV:          0,
		CTime:       now,
		MTime:       now,
		StatusFqdn:  s.StatusFqdn,
		Description: "created",
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Job{}).
			Where("dst_cell = ? AND volname = ?", opts.DstCell, opts.Volname).
			Count(&count).Error; err != nil {
			return fmt.Errorf("jobstore: check uniqueness: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("jobstore: job already in flight for (dst_cell=%s, volname=%s)", opts.DstCell, opts.Volname)
		}

		if !opts.Delete {
			var prior models.JobHistory
			err := tx.Where("dst_cell = ? AND volname = ?", opts.DstCell, opts.Volname).
				Order("mtime DESC").First(&prior).Error
			if err == nil {
				job.VolLastupdate = prior.VolLastupdate
			} else if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("jobstore: load prior history for (dst_cell=%s, volname=%s): %w", opts.DstCell, opts.Volname, err)
			}
		}

		return tx.Create(job).Error
	})
	if err != nil {
		return nil, fmt.Errorf("jobstore: create job: %w", err)
	}
	return job, nil
}

// Filters narrows FindJobs/FindAndAdvance/DescribeJobs to a subset of the
// live table.
type Filters struct {
	SrcCell  string
	DstCells []string // empty means all destinations
	Qname    string
	State    string
	Errors   bool // restrict to state=ERROR (the jobs --errors view)
}

func (f Filters) apply(q *gorm.DB) *gorm.DB {
	if f.SrcCell != "" {
		q = q.Where("src_cell = ?", f.SrcCell)
	}
	if len(f.DstCells) > 0 {
		q = q.Where("dst_cell IN ?", f.DstCells)
	}
	if f.Qname != "" {
		q = q.Where("qname = ?", f.Qname)
	}
	if f.Errors {
		q = q.Where("state = ?", models.StateError)
	} else if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	return q
}

// FindJobs returns all live jobs matching filters, oldest mtime first per
// spec §5's ordering guarantee.
func (s *Store) FindJobs(f Filters) ([]models.Job, error) {
	var jobs []models.Job
	q := f.apply(s.db.Model(&models.Job{})).Order("mtime ASC")
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("jobstore: find jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies mutations to the job named by ctx.JobID, guarded by
// ctx.DV and, if non-empty, fromState. On success ctx.DV is advanced to the
// new value. Returns ErrConflict if the row count was not exactly one.
func (s *Store) UpdateJob(ctx *UpdateCtx, mutations map[string]interface{}, fromState string) error {
	return withRetry(s.db, func(tx *gorm.DB) error {
		newDV, err := applyUpdate(tx, ctx.JobID, ctx.DV, fromState, s.StatusFqdn, mutations)
		if err != nil {
			return err
		}
		ctx.DV = newDV
		return nil
	})
}

// applyUpdate issues the UPDATE jobs SET dv=dv+1, mtime=now(), status_fqdn=?,
// <cols> WHERE id=? AND dv=? [AND state=?] statement of spec §4.1 and
// reports ErrConflict when it affects anything other than exactly one row.
func applyUpdate(tx *gorm.DB, jobID uint, dv uint64, fromState, statusFqdn string, mutations map[string]interface{}) (uint64, error) {
	cols := make(map[string]interface{}, len(mutations)+3)
	for k, v := range mutations {
		cols[k] = v
	}
	cols["dv"] = gorm.Expr("dv + 1")
	cols["mtime"] = time.Now()
	cols["status_fqdn"] = statusFqdn

	q := tx.Model(&models.Job{}).Where("id = ? AND dv = ?", jobID, dv)
	if fromState != "" {
		q = q.Where("state = ?", fromState)
	}

	result := q.Updates(cols)
	if result.Error != nil {
		return 0, fmt.Errorf("jobstore: update job %d: %w", jobID, result.Error)
	}
	if result.RowsAffected != 1 {
		return 0, ErrConflict
	}
	return dv + 1, nil
}

// FindAndAdvanceResult pairs the advanced job with an UpdateCtx the caller
// can continue mutating from.
type FindAndAdvanceResult struct {
	Job models.Job
	Ctx UpdateCtx
}

// FindAndAdvance implements the stage-pickup primitive of spec §4.1: within
// a single transaction, every row in state `from` matching filters is
// advanced to `to` with the given default timeout and description, then
// every row now in state `to` matching filters is returned — including rows
// other workers advanced concurrently for the same destination. Rows lost
// to a racing worker (the second UPDATE ... WHERE dv=? to touch that row)
// are silently skipped per spec §4.3's tie-break rule.
func (s *Store) FindAndAdvance(from, to string, f Filters, timeout *uint, description string) ([]FindAndAdvanceResult, error) {
	var results []FindAndAdvanceResult

	err := withRetry(s.db, func(tx *gorm.DB) error {
		results = nil

		fromFilters := f
		fromFilters.State = from
		var candidates []models.Job
		if err := fromFilters.apply(tx.Model(&models.Job{})).Order("mtime ASC").Find(&candidates).Error; err != nil {
			return fmt.Errorf("jobstore: find candidates: %w", err)
		}

		mutations := map[string]interface{}{"state": to, "description": description}
		if timeout != nil {
			mutations["timeout"] = *timeout
		} else {
			mutations["timeout"] = nil
		}

		for _, c := range candidates {
			if _, err := applyUpdate(tx, c.ID, c.DV, from, s.StatusFqdn, mutations); err != nil {
				if err == ErrConflict {
					continue
				}
				return err
			}
		}

		toFilters := f
		toFilters.State = to
		var advanced []models.Job
		if err := toFilters.apply(tx.Model(&models.Job{})).Order("mtime ASC").Find(&advanced).Error; err != nil {
			return fmt.Errorf("jobstore: find advanced: %w", err)
		}

		for _, j := range advanced {
			results = append(results, FindAndAdvanceResult{Job: j, Ctx: UpdateCtx{JobID: j.ID, DV: j.DV}})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DescribedJob enriches a Job with the computed fields spec §4.1 assigns to
// the read-only DescribeJobs view.
type DescribedJob struct {
	models.Job
	StaleSeconds int64
	AgeSeconds   int64
	Deadline     *time.Time
	Expired      bool
}

// DescribeJobs returns the read-only, enriched view of every live job
// matching filters.
func (s *Store) DescribeJobs(f Filters) ([]DescribedJob, error) {
	jobs, err := s.FindJobs(f)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	described := make([]DescribedJob, 0, len(jobs))
	for _, j := range jobs {
		d := DescribedJob{
			Job:          j,
			StaleSeconds: int64(now.Sub(j.MTime).Seconds()),
			AgeSeconds:   int64(now.Sub(j.CTime).Seconds()),
		}
		if j.Timeout != nil {
			deadline := j.MTime.Add(time.Duration(*j.Timeout) * time.Second)
			d.Deadline = &deadline
			d.Expired = now.After(deadline)
		}
		described = append(described, d)
	}
	return described, nil
}

// DescribeDummyJobs synthesizes n placeholder DescribedJob rows with no
// database access, for exercising CLI formatting (`jobs --format`) and the
// monitoring dashboard without a live database.
func DescribeDummyJobs(n int) []DescribedJob {
	now := time.Now()
	out := make([]DescribedJob, 0, n)
	for i := 0; i < n; i++ {
		timeout := uint(300)
		j := models.Job{
			ID:          uint(i + 1),
			SrcCell:     "src.example.org",
			DstCell:     "dst.example.org",
			Volname:     fmt.Sprintf("u.dummy%d", i),
			Qname:       "default",
			State:       models.StateDumpWork,
			DV:          1,
			CTime:       now.Add(-time.Duration(i) * time.Minute),
			MTime:       now,
			Timeout:     &timeout,
			Description: "dummy job for format testing",
		}
		out = append(out, DescribedJob{
			Job:          j,
			StaleSeconds: 0,
			AgeSeconds:   int64(i * 60),
			Deadline:     nil,
		})
	}
	return out
}

// ArchiveJob copies job into jobshist using the explicit column-by-column
// projection of design note 9(c), then deletes it from the live table. Used
// by the check engine's done rule.
func (s *Store) ArchiveJob(jobID uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var j models.Job
		if err := tx.Where("id = ?", jobID).First(&j).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return fmt.Errorf("jobstore: load job %d: %w", jobID, err)
		}

		hist := models.JobHistory(j)
		hist.ID = 0 // jobshist has no uniqueness constraint; let it auto-increment
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("jobstore: archive job %d: %w", jobID, err)
		}

		if err := tx.Delete(&models.Job{}, jobID).Error; err != nil {
			return fmt.Errorf("jobstore: delete archived job %d: %w", jobID, err)
		}
		return nil
	})
}

// KillJob deletes a job row outright, with no archival. Used by the
// operator-facing kill-job debug command.
func (s *Store) KillJob(jobID uint) error {
	result := s.db.Delete(&models.Job{}, jobID)
	if result.Error != nil {
		return fmt.Errorf("jobstore: kill job %d: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// JobError transitions job into ERROR, incrementing errors and recording
// priorState as last_good_state, nulling timeout. Per spec §4.1 and §7 this
// is best-effort: a database failure is logged and swallowed, since
// JobError is itself invoked from error paths that must not themselves
// fail.
func (s *Store) JobError(ctx *UpdateCtx, priorState, description string) {
	mutations := map[string]interface{}{
		"state":           models.StateError,
		"last_good_state": priorState,
		"errors":          gorm.Expr("errors + 1"),
		"timeout":         nil,
		"description":     description,
	}
	if err := s.UpdateJob(ctx, mutations, ""); err != nil {
		s.logf("job %d: JobError: %v", ctx.JobID, err)
	}
}

// JobReset clears errors and last_good_state and transitions the job to the
// retry state derived from its current last_good_state, for the
// operator-facing retry-job command. Unlike the check engine's reset rule,
// this ignores the error-limit check — an explicit operator request always
// resets.
func (s *Store) JobReset(jobID uint) error {
	var j models.Job
	if err := s.db.Where("id = ?", jobID).First(&j).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("jobstore: load job %d: %w", jobID, err)
	}
	retryState := models.RetryOf(j.LastGoodState)
	if retryState == "" {
		return fmt.Errorf("jobstore: job %d has no retry target for last_good_state %q", jobID, j.LastGoodState)
	}

	ctx := &UpdateCtx{JobID: j.ID, DV: j.DV}
	mutations := map[string]interface{}{
		"state":           retryState,
		"last_good_state": "",
		"errors":          0,
		"description":     "reset by operator",
	}
	return s.UpdateJob(ctx, mutations, "")
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}
