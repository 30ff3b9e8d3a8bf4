package storage

import (
	"context"

	"github.com/pkg/errors"

	"prompt-relay/internal/config"
)

// Open returns the Store selected by STORE_BACKEND.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreBackend {
	case config.StoreFile:
		return NewFileStore(cfg.StoreFilePath)
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	case config.StoreMongo:
		return NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, errors.Errorf("unknown store backend: %s", cfg.StoreBackend)
	}
}
