package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sinenomine/cellcc/internal/checkserver"
	"github.com/sinenomine/cellcc/internal/config"
)

// watchReload translates a SIGHUP into a config.Manager.Reload call, per
// spec §6's "a SIGHUP to any daemon triggers an in-place reload that
// reverts to the previous config if logging cannot be reinitialized under
// the new one." Design note 9 keeps the reload mechanism itself generic;
// this is the one place a daemon shell binds it to the actual signal.
func watchReload(ctx context.Context, mgr *config.Manager, logger *log.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := mgr.Reload(nil); err != nil {
				logger.Printf("config reload failed, keeping previous config: %v", err)
			} else {
				logger.Printf("config reloaded")
			}
		}
	}
}

// watchReloadCheckServer is watchReload's variant for check-server, which
// additionally needs the reloaded config applied to the running engine's
// policy and sinks.
func watchReloadCheckServer(ctx context.Context, mgr *config.Manager, srv *checkserver.Server, logger *log.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := mgr.Reload(srv.Reconfigure); err != nil {
				logger.Printf("config reload failed, keeping previous config: %v", err)
			} else {
				logger.Printf("config reloaded")
			}
		}
	}
}
