package config

import (
	"strings"
	"testing"
)

const fullYAML = `
db:
  host: 10.0.0.5
  port: 3307
  database: cellcc_prod

cells:
  src.example.org:
    dst-cells: ["dst-a.example.org", "dst-b.example.org"]

dump:
  scratch-dir: /scratch/dump
  incremental:
    enabled: true
    skip-unchanged: true

restore:
  queues:
    batch:
      max-parallel: 4
      release:
        flags:
          "-f": "true"

remctl:
  allowed-principal: cellcc/dump@EXAMPLE.ORG
  localauth: true
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DB.Host != "10.0.0.5" {
		t.Errorf("DB.Host = %q", cfg.DB.Host)
	}
	if cfg.DB.Port != 3307 {
		t.Errorf("DB.Port = %d, want 3307", cfg.DB.Port)
	}

	dst := cfg.DstCellsFor("src.example.org")
	if len(dst) != 2 || dst[0] != "dst-a.example.org" {
		t.Errorf("DstCellsFor = %v", dst)
	}

	if !cfg.Dump.Incremental.Enabled || !cfg.Dump.Incremental.SkipUnchanged {
		t.Errorf("incremental toggles not parsed: %+v", cfg.Dump.Incremental)
	}

	batch, ok := cfg.Restore.Queues["batch"]
	if !ok || batch.MaxParallel != 4 {
		t.Errorf("Restore.Queues[batch] = %+v, ok=%v", batch, ok)
	}

	if _, ok := cfg.Restore.Queues["default"]; !ok {
		t.Error("default queue was not synthesized")
	}
}

func TestParse_RejectsAmbiguousAuth(t *testing.T) {
	yaml := `
db:
  database: cellcc
cells:
  src:
    dst-cells: ["dst"]
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error when vos-keytab and localauth are both unset")
	}
	if !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("error = %v, want mention of ambiguous auth", err)
	}
}

func TestParse_RequiresAtLeastOneCell(t *testing.T) {
	yaml := `
db:
  database: cellcc
remctl:
  localauth: true
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for missing cells")
	}
}

func TestParse_DefaultsApplied(t *testing.T) {
	yaml := `
db:
  database: cellcc
cells:
  src:
    dst-cells: ["dst"]
remctl:
  localauth: true
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dump.ChecksumAlgorithm != "sha256" {
		t.Errorf("ChecksumAlgorithm = %q, want sha256", cfg.Dump.ChecksumAlgorithm)
	}
	if cfg.Check.ErrorLimit != 5 {
		t.Errorf("ErrorLimit = %d, want 5", cfg.Check.ErrorLimit)
	}
	if cfg.DB.Port != 3306 {
		t.Errorf("DB.Port = %d, want default 3306", cfg.DB.Port)
	}
}

func TestParse_OverrideSetsNestedValue(t *testing.T) {
	yaml := `
db:
  database: cellcc
cells:
  src:
    dst-cells: ["dst"]
remctl:
  localauth: true
`
	cfg, err := Parse([]byte(yaml), Override{Key: "check/error-limit", Value: "9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Check.ErrorLimit != 9 {
		t.Errorf("ErrorLimit = %d, want 9 (override applied)", cfg.Check.ErrorLimit)
	}
}

func TestParse_JSONOverride(t *testing.T) {
	yaml := `
db:
  database: cellcc
cells:
  src:
    dst-cells: ["dst"]
remctl:
  localauth: true
`
	cfg, err := Parse([]byte(yaml), Override{Key: "cells/src/dst-cells", Value: `["a","b","c"]`, JSON: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Cells["src"].DstCells) != 3 {
		t.Errorf("dst-cells = %v, want 3 entries", cfg.Cells["src"].DstCells)
	}
}

func TestQueueNames_IncludesDefault(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := cfg.QueueNames()
	found := false
	for _, n := range names {
		if n == "default" {
			found = true
		}
	}
	if !found {
		t.Errorf("QueueNames() = %v, want to include default", names)
	}
}
