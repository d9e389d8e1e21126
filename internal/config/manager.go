package config

import (
	"fmt"
	"sync"
)

// Manager holds the currently active, fully validated Config and supports
// in-place reload, per spec §6: "A SIGHUP to any daemon triggers an
// in-place reload that reverts to the previous config if logging cannot be
// reinitialized under the new one." Design note 9 generalizes the signal
// itself to an explicit reload call; the daemon-shell callers translate
// their own os/signal.Notify(SIGHUP) into a call to Reload.
type Manager struct {
	path      string
	overrides []Override

	mu  sync.RWMutex
	cfg *Config
}

// NewManager loads path once and returns a Manager seeded with the result.
func NewManager(path string, overrides ...Override) (*Manager, error) {
	cfg, err := Load(path, overrides...)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, overrides: overrides, cfg: cfg}, nil
}

// Current returns the currently active, validated Config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload re-reads the config file and, if it parses and validates and the
// caller-supplied reinit function succeeds against it, atomically swaps it
// in. On any failure the previously active Config is left untouched and
// the error is returned, so a bad edit to the config file never takes down
// a running daemon on reload.
func (m *Manager) Reload(reinit func(*Config) error) error {
	next, err := Load(m.path, m.overrides...)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	if reinit != nil {
		if err := reinit(next); err != nil {
			return fmt.Errorf("config: reload: reinit: %w", err)
		}
	}

	m.mu.Lock()
	m.cfg = next
	m.mu.Unlock()
	return nil
}
