package main

import (
	"fmt"
	"strings"

	"github.com/sinenomine/cellcc/internal/config"
	"github.com/sinenomine/cellcc/internal/jobstore"
)

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

func loadConfig(gf *globalFlags) (*config.Config, error) {
	overrides, err := parseOverrides(gf.overrides)
	if err != nil {
		return nil, err
	}
	return config.Load(gf.configPath, overrides...)
}

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
