package cli

import (
	"context"
	"fmt"

	"github.com/gatekeeperhq/gatekeeper/internal/blocklist"
	"github.com/gatekeeperhq/gatekeeper/internal/config"
	"github.com/gatekeeperhq/gatekeeper/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// loadSettings resolves the effective configuration after initConfig ran.
func loadSettings() (config.Settings, error) {
	return config.Load()
}

// openStore opens the relational store selected by the configuration.
func openStore(settings config.Settings) (*store.Store, error) {
	dsn, err := settings.StoreDSN()
	if err != nil {
		return nil, err
	}
	return store.Open(settings.Store.Driver, dsn)
}

// openBlocklist connects to the configured blocklist backend. Only the redis
// backend is reachable from the CLI: memory blocklists live inside the server
// process and are managed through the admin API.
func openBlocklist(ctx context.Context, settings config.Settings) (blocklist.List, error) {
	if settings.Backend.Kind != "redis" {
		return nil, fmt.Errorf("the %q backend keeps blocks in the server process; use the admin API (POST /admin/blocks) instead", settings.Backend.Kind)
	}
	return blocklist.NewRedis(ctx, settings.Backend.RedisAddr, settings.Backend.RedisDB)
}
