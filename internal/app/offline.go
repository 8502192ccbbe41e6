package app

import (
	"fmt"

	"feedrelay/internal/config"
	"feedrelay/internal/storage"
	logx "feedrelay/pkg/logx"
)

// OpenStore opens the storage backend named by the config file without
// starting the bot. Used by the offline bindings commands.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return storage.Open(sc, log)
}
