package storage

import (
	"fmt"

	"github.com/ThatCatDev/runmymodel/internal/config"
)

// Open returns the store for the configured driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case config.DriverFile:
		return NewFileStore(cfg.Path)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
