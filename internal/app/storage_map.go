package app

import (
	"fmt"
	"os"
	"path/filepath"

	"feebot/internal/config"
	"feebot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	driver := cfg.StorageDriver()
	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "sqlite", "sqlite3":
		path := cfg.StoragePath()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return storage.Config{}, fmt.Errorf("storage.path: %w", err)
			}
		}
		return storage.Config{
			Driver:      "sqlite",
			Path:        path,
			BusyTimeout: cfg.StorageBusyTimeout(),
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}
