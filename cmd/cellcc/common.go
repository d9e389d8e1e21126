package main

import (
	"fmt"
	"strings"

	"github.com/sinenomine/cellcc/internal/config"
	"github.com/sinenomine/cellcc/internal/jobstore"
)

// parseOverrides turns the -x flag's raw "key/path=value" or
// "json:key/path=value" strings into config.Override values.
func parseOverrides(raw []string) ([]config.Override, error) {
	overrides := make([]config.Override, 0, len(raw))
	for _, r := range raw {
		isJSON := false
		if rest, ok := strings.CutPrefix(r, "json:"); ok {
			isJSON = true
			r = rest
		}
		key, value, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("invalid override %q: expected KEY=VALUE", r)
		}
		overrides = append(overrides, config.Override{Key: key, Value: value, JSON: isJSON})
	}
	return overrides, nil
}

// loadConfigManager builds a config.Manager from the global --config and -x
// flags.
func loadConfigManager(gf *globalFlags) (*config.Manager, error) {
	overrides, err := parseOverrides(gf.overrides)
	if err != nil {
		return nil, err
	}
	return config.NewManager(gf.configPath, overrides...)
}

// openStore connects to the jobs database named by cfg.DB and returns a
// ready Store, verifying the schema version matches this binary's first.
func openStore(cfg *config.Config) (*jobstore.Store, error) {
	db, err := jobstore.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Database)
	if err != nil {
		return nil, err
	}
	if err := jobstore.CheckSchemaVersion(db); err != nil {
		return nil, err
	}
	return jobstore.New(db, cfg.StatusFqdn), nil
}

// openStoreAutoMigrate is like openStore but creates the schema if this is
// a fresh database, used by the daemon shells so a first deployment doesn't
// need a separate migrate step.
func openStoreAutoMigrate(cfg *config.Config) (*jobstore.Store, error) {
	db, err := jobstore.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Database)
	if err != nil {
		return nil, err
	}
	if err := jobstore.AutoMigrate(db); err != nil {
		return nil, err
	}
	return jobstore.New(db, cfg.StatusFqdn), nil
}
