package blockindex

import "context"

// initAccountHeights creates the account -> height set table
func (db *DB) initAccountHeights(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS height_by_account_set (
			account_id TEXT NOT NULL,
			height BIGINT NOT NULL,
			PRIMARY KEY (account_id, height)
		)
	`
	return db.Exec(ctx, query)
}

// initAccountAssetPositions creates the account:height:asset -> positions table
func (db *DB) initAccountAssetPositions(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS index_by_id_height_asset (
			account_id TEXT NOT NULL,
			height BIGINT NOT NULL,
			asset_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			tx_index INTEGER NOT NULL,
			PRIMARY KEY (account_id, height, asset_id, ordinal)
		)
	`
	return db.Exec(ctx, query)
}

// initIndexedBlocks creates the per-height indexed marker table
func (db *DB) initIndexedBlocks(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS indexed_blocks (
			height BIGINT PRIMARY KEY,
			indexed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`
	return db.Exec(ctx, query)
}

// initPendingBlocks creates the table of blocks awaiting reconciliation
func (db *DB) initPendingBlocks(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS pending_blocks (
			height BIGINT PRIMARY KEY,
			block BYTEA NOT NULL,
			reason TEXT NOT NULL,
			since TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`
	return db.Exec(ctx, query)
}

const (
	markIndexedSQL = `
		INSERT INTO indexed_blocks (height, indexed_at)
		VALUES ($1, NOW())
		ON CONFLICT (height) DO NOTHING
	`
	insertAccountHeightSQL = `
		INSERT INTO height_by_account_set (account_id, height)
		VALUES ($1, $2)
		ON CONFLICT (account_id, height) DO NOTHING
	`
	insertAssetPositionSQL = `
		INSERT INTO index_by_id_height_asset (account_id, height, asset_id, ordinal, tx_index)
		VALUES ($1, $2, $3, $4, $5)
	`
	selectLastIndexedSQL    = `SELECT COALESCE(MAX(height), 0) FROM indexed_blocks`
	selectIsIndexedSQL      = `SELECT EXISTS(SELECT 1 FROM indexed_blocks WHERE height = $1)`
	selectAccountHeightsSQL = `
		SELECT height FROM height_by_account_set
		WHERE account_id = $1
		ORDER BY height
	`
	selectAssetPositionsSQL = `
		SELECT tx_index FROM index_by_id_height_asset
		WHERE account_id = $1 AND height = $2 AND asset_id = $3
		ORDER BY ordinal
	`
	savePendingSQL = `
		INSERT INTO pending_blocks (height, block, reason, since)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (height) DO UPDATE
		SET block = EXCLUDED.block, reason = EXCLUDED.reason, since = EXCLUDED.since
	`
	deletePendingSQL = `DELETE FROM pending_blocks WHERE height = $1`
	selectPendingSQL = `SELECT height, block, reason, since FROM pending_blocks ORDER BY height`
)
