package blockindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/db/postgres"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/retry"
)

// DB is the PostgreSQL index backend.
type DB struct {
	postgres.Client
}

var _ index.Backend = (*DB)(nil)

// New connects to url and creates the index tables.
func New(ctx context.Context, logger *zap.Logger, url string, poolConfig postgres.PoolConfig, retryConfig retry.Config) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", poolConfig.Component)), url, poolConfig, retryConfig)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client}
	if err := db.InitializeDB(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return db, nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// InitializeDB ensures the index tables exist
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing block index tables")

	for _, init := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"height_by_account_set", db.initAccountHeights},
		{"index_by_id_height_asset", db.initAccountAssetPositions},
		{"indexed_blocks", db.initIndexedBlocks},
		{"pending_blocks", db.initPendingBlocks},
	} {
		db.Logger.Debug("Initialize table", zap.String("table", init.name))
		if err := init.fn(ctx); err != nil {
			return fmt.Errorf("initialize %s: %w", init.name, err)
		}
	}
	return nil
}

// Begin opens a write transaction.
func (db *DB) Begin(ctx context.Context) (index.Tx, error) {
	tx, err := db.Client.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin index transaction: %w", err)
	}
	return &Tx{Session: Session{Executor: tx}, tx: tx}, nil
}

// LastIndexedHeight returns the highest marked height, 0 when nothing is indexed.
func (db *DB) LastIndexedHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := db.GetExecutor(ctx).QueryRow(ctx, selectLastIndexedSQL).Scan(&height); err != nil {
		return 0, fmt.Errorf("query last indexed height: %w", err)
	}
	return height, nil
}

// AccountHeights returns the heights the account took part in, ascending.
func (db *DB) AccountHeights(ctx context.Context, account ledger.AccountID) ([]uint64, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, selectAccountHeightsSQL, string(account))
	if err != nil {
		return nil, fmt.Errorf("query account heights %s: %w", account, err)
	}
	heights, err := pgx.CollectRows(rows, pgx.RowTo[uint64])
	if err != nil {
		return nil, fmt.Errorf("scan account heights %s: %w", account, err)
	}
	return heights, nil
}

// AccountAssetPositions returns the transaction positions stored under key.
func (db *DB) AccountAssetPositions(ctx context.Context, key index.AccountAssetKey) ([]int, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, selectAssetPositionsSQL, string(key.Account), key.Height, string(key.Asset))
	if err != nil {
		return nil, fmt.Errorf("query positions %s: %w", key, err)
	}
	positions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("scan positions %s: %w", key, err)
	}
	return positions, nil
}

// IsIndexed reports whether height carries the indexed marker.
func (db *DB) IsIndexed(ctx context.Context, height uint64) (bool, error) {
	var exists bool
	if err := db.GetExecutor(ctx).QueryRow(ctx, selectIsIndexedSQL, height).Scan(&exists); err != nil {
		return false, fmt.Errorf("query indexed marker %d: %w", height, err)
	}
	return exists, nil
}

// SavePending stores rec under its height, replacing any earlier record.
func (db *DB) SavePending(ctx context.Context, rec index.PendingRecord) error {
	block := rec.Block
	if block == nil {
		block = []byte{}
	}
	if err := db.Exec(ctx, savePendingSQL, rec.Height, block, rec.Reason, rec.Since.UTC()); err != nil {
		return fmt.Errorf("save pending block %d: %w", rec.Height, err)
	}
	return nil
}

// DeletePending removes the pending record at height. A missing record is not an error.
func (db *DB) DeletePending(ctx context.Context, height uint64) error {
	if err := db.Exec(ctx, deletePendingSQL, height); err != nil {
		return fmt.Errorf("delete pending block %d: %w", height, err)
	}
	return nil
}

// LoadPending returns every pending record, ascending by height.
func (db *DB) LoadPending(ctx context.Context) ([]index.PendingRecord, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, selectPendingSQL)
	if err != nil {
		return nil, fmt.Errorf("query pending blocks: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (index.PendingRecord, error) {
		var rec index.PendingRecord
		err := row.Scan(&rec.Height, &rec.Block, &rec.Reason, &rec.Since)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending blocks: %w", err)
	}
	return records, nil
}

// Tx is an open index write transaction.
type Tx struct {
	Session
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit index transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
