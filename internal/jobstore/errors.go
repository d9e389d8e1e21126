package jobstore

import "errors"

// ErrConflict is returned by UpdateJob and its callers when the row's dv (or
// optional from_state guard) no longer matches what the caller believes is
// current — an optimistic-concurrency loss per spec §7. Stage workers treat
// this as "lost the race" and abort without incrementing errors.
var ErrConflict = errors.New("jobstore: optimistic-concurrency conflict")

// ErrNotFound is returned when a jobid does not name a live job.
var ErrNotFound = errors.New("jobstore: job not found")

// ErrSchemaMismatch is returned by CheckSchemaVersion when the database's recorded
// schema version does not match models.CurrentSchemaVersion.
var ErrSchemaMismatch = errors.New("jobstore: schema version mismatch")
