package cli

import (
	"context"
	"fmt"

	config "github.com/mwantia/suprsync/internal/config/server"
	"github.com/mwantia/suprsync/pkg/db/store"
)

// OpenStore loads the configuration and connects to its record store
// without applying migrations.
func OpenStore(ctx context.Context) (*config.BaseServerConfig, *store.SQLiteStore, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load server configuration: %w", err)
	}

	st, err := store.NewFromConfig(cfg.Metadata)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Connect(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", cfg.Metadata.SQLite.Path, err)
	}
	return cfg, st, nil
}
