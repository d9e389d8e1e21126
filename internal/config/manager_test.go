package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir, errorLimit string) string {
	t.Helper()
	path := filepath.Join(dir, "cellcc.yaml")
	data := "db:\n  database: cellcc\ncells:\n  src:\n    dst-cells: [\"dst\"]\nremctl:\n  localauth: true\ncheck:\n  error-limit: " + errorLimit + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestManager_ReloadSwapsConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "5")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Current().Check.ErrorLimit != 5 {
		t.Fatalf("initial error-limit = %d", m.Current().Check.ErrorLimit)
	}

	writeTestConfig(t, dir, "9")
	if err := m.Reload(nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if m.Current().Check.ErrorLimit != 9 {
		t.Fatalf("error-limit after reload = %d, want 9", m.Current().Check.ErrorLimit)
	}
}

func TestManager_ReloadRetainsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "5")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	writeTestConfig(t, dir, "9")
	reinitErr := errors.New("logging reinit failed")
	err = m.Reload(func(*Config) error { return reinitErr })
	if err == nil {
		t.Fatal("expected reload to fail")
	}
	if m.Current().Check.ErrorLimit != 5 {
		t.Fatalf("error-limit after failed reload = %d, want unchanged 5", m.Current().Check.ErrorLimit)
	}
}
