package store

import (
	"fmt"
	"strings"

	config "github.com/mwantia/suprsync/internal/config/server"
	"gorm.io/gorm/logger"
)

// NewFromConfig creates the record store selected by the metadata section.
func NewFromConfig(cfg config.MetadataServerConfig) (*SQLiteStore, error) {
	if !strings.EqualFold(cfg.Type, "sqlite") {
		return nil, fmt.Errorf("unsupported metadata store type '%s'", cfg.Type)
	}

	level := logger.Silent
	if cfg.SQLite.Debug {
		level = logger.Info
	}

	return NewSQLiteStore(SQLiteConfig{
		Path:        cfg.SQLite.Path,
		BusyTimeout: cfg.SQLite.BusyTimeout,
		JournalMode: cfg.SQLite.JournalMode,
		LogLevel:    level,
	})
}
