package client

import (
	"context"
	"fmt"

	config "github.com/mwantia/goassets/internal/config/server"
	"github.com/mwantia/goassets/pkg/db/store"
	"github.com/mwantia/goassets/pkg/log"
)

// openStore loads the server configuration and opens the asset store the
// agent would use. Client commands operate on the same database directly.
func openStore(ctx context.Context) (*store.SQLiteStore, *config.BaseServerConfig, log.LoggerService, error) {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load server configuration: %w", err)
	}

	logger := log.NewLoggerService("goassets", cfg.Log)

	st, err := store.NewSQLiteStore(store.SQLiteConfig{
		Path: cfg.Metadata.SQLite.Path,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open asset store: %w", err)
	}
	if err := st.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to asset store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("failed to migrate asset store: %w", err)
	}

	return st, cfg, logger, nil
}
