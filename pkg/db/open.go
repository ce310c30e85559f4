// Package db opens the configured block index backend.
package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/config"
	"github.com/pakloong/iroha/pkg/db/leveldb"
	"github.com/pakloong/iroha/pkg/db/postgres"
	"github.com/pakloong/iroha/pkg/db/postgres/blockindex"
	"github.com/pakloong/iroha/pkg/db/sqlite"
	"github.com/pakloong/iroha/pkg/index"
)

// Open returns the index backend named by cfg.Backend with its schema in place.
func Open(ctx context.Context, logger *zap.Logger, cfg config.Config) (index.Backend, error) {
	logger = logger.With(zap.String("backend", cfg.Backend))

	var (
		backend index.Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		backend, err = blockindex.New(ctx, logger, cfg.PostgresURL, postgres.DefaultPoolConfig("block_index"), cfg.Retry)
	case config.BackendSQLite:
		backend, err = sqlite.Open(cfg.SQLitePath, logger)
	case config.BackendLevelDB:
		backend, err = leveldb.Open(cfg.LevelDBPath, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	logger.Info("Index backend ready")
	return backend, nil
}
