package cli

import (
	"fmt"

	"workmgr/internal/app"
	"workmgr/internal/config"
	"workmgr/internal/storage"
	logx "workmgr/pkg/logx"
)

// openStore opens the store named by the config without starting the daemon.
// An exclusive open fails with storage.ErrLocked while a daemon holds the store.
func openStore(path string, exclusive bool) (storage.Store, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	sc, _, err := app.MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if sc.Driver == "memory" {
		return nil, fmt.Errorf("storage driver %q keeps nothing between runs; configure file or sqlite", sc.Driver)
	}
	if exclusive {
		return storage.OpenExclusive(sc, logx.Nop())
	}
	return storage.Open(sc, logx.Nop())
}
