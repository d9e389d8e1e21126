// Package models defines the persistent row types shared by the job store
// and check engine.
package models

import "time"

// Job is the central entity of CellCC: one (volname, dst_cell) sync or
// delete request moving through the pipeline described in the jobstore
// package.
type Job struct {
	ID uint `gorm:"primaryKey;autoIncrement"`

	SrcCell string `gorm:"column:src_cell;size:255;not null;index"`
	DstCell string `gorm:"column:dst_cell;size:255;not null;index"`
	Volname string `gorm:"size:255;not null"`
	Qname   string `gorm:"size:255;not null"`

	State         string `gorm:"size:32;not null;index"`
	LastGoodState string `gorm:"column:last_good_state;size:32"`

	DV     uint64 `gorm:"column:dv;not null"`
	Errors uint   `gorm:"not null;default:0"`

	ErrorLimitMtime *time.Time `gorm:"column:errorlimit_mtime"`

	DumpFqdn      string `gorm:"column:dump_fqdn;size:255"`
	DumpMethod    string `gorm:"column:dump_method;size:64"`
	DumpPort      *int   `gorm:"column:dump_port"`
	DumpFilename  string `gorm:"column:dump_filename;size:255"`
	DumpChecksum  string `gorm:"column:dump_checksum;size:255"`
	DumpFilesize  *int64 `gorm:"column:dump_filesize"`
	VolLastupdate int64  `gorm:"column:vol_lastupdate;not null;default:0"`

	RestoreFilename string `gorm:"column:restore_filename;size:255"`

	CTime       time.Time `gorm:"not null"`
	MTime       time.Time `gorm:"column:mtime;not null"`
	Timeout     *uint     `gorm:"column:timeout"`
	StatusFqdn  string    `gorm:"column:status_fqdn;size:255"`
	Description string    `gorm:"type:text;not null"`
}

func (Job) TableName() string { return "jobs" }

// JobHistory is the append-only archive twin of Job. Structurally
// identical, but without the (dst_cell, volname) uniqueness constraint.
type JobHistory Job

func (JobHistory) TableName() string { return "jobshist" }

// SchemaVersion is the single-row table recording the schema version the
// database was migrated to.
type SchemaVersion struct {
	Version int `gorm:"primaryKey;column:version"`
}

func (SchemaVersion) TableName() string { return "versions" }

// CurrentSchemaVersion is the schema version compiled into this binary.
// Every connection is checked against it in jobstore.CheckSchemaVersion.
const CurrentSchemaVersion = 1

// States enumerates every value the State column may hold.
const (
	StateNew   = "NEW"
	StateError = "ERROR"

	StateDumpStart = "DUMP_START"
	StateDumpWork  = "DUMP_WORK"
	StateDumpDone  = "DUMP_DONE"

	StateXferStart = "XFER_START"
	StateXferWork  = "XFER_WORK"
	StateXferDone  = "XFER_DONE"

	StateRestoreStart = "RESTORE_START"
	StateRestoreWork  = "RESTORE_WORK"
	StateRestoreDone  = "RESTORE_DONE"

	StateReleaseStart = "RELEASE_START"
	StateReleaseWork  = "RELEASE_WORK"
	StateReleaseDone  = "RELEASE_DONE"

	StateDeleteNew       = "DELETE_NEW"
	StateDeleteDestStart = "DELETE_DEST_START"
	StateDeleteDestWork  = "DELETE_DEST_WORK"
	StateDeleteDestDone  = "DELETE_DEST_DONE"
)

// TerminalStates are the states the check engine's done rule archives and
// deletes.
var TerminalStates = []string{StateReleaseDone, StateDeleteDestDone}

// workToStart maps every *_WORK state to its corresponding *_START state,
// the retry target the check engine's reset rule derives from
// last_good_state (spec §4.5 rule 1).
var workToStart = map[string]string{
	StateDumpWork:       StateDumpStart,
	StateXferWork:       StateXferStart,
	StateRestoreWork:    StateRestoreStart,
	StateReleaseWork:    StateReleaseStart,
	StateDeleteDestWork: StateDeleteDestStart,
}

// RetryOf maps a *_WORK state to its *_START retry state. Returns "" if s
// is not a *_WORK state.
func RetryOf(s string) string {
	return workToStart[s]
}

// IsTerminal reports whether s is one of the pipeline's terminal states.
func IsTerminal(s string) bool {
	for _, t := range TerminalStates {
		if s == t {
			return true
		}
	}
	return false
}
