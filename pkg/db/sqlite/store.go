// Package sqlite provides a SQLite-backed block index implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/pakloong/iroha/pkg/db/sqlite/migrations"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/retry"
)

// Store persists the block index in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *zap.Logger
}

var _ index.Backend = (*Store)(nil)

// Open opens a SQLite index store at path and applies embedded migrations.
// ":memory:" opens a private in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file::memory:"
	if path != ":memory:" {
		path = filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		dsn = "file:" + path
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// exists only on the connection that created it.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("SQLite block index opened", zap.String("path", path))
	return &Store{sqlDB: sqlDB, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Begin opens a write transaction.
func (s *Store) Begin(ctx context.Context) (index.Tx, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin index transaction: %w", err)
	}
	return &Tx{Session: Session{Execer: tx}, tx: tx}, nil
}

// LastIndexedHeight returns the highest marked height, 0 when nothing is indexed.
func (s *Store) LastIndexedHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COALESCE(MAX(height), 0) FROM indexed_blocks`).Scan(&height)
	if err != nil {
		return 0, fmt.Errorf("query last indexed height: %w", err)
	}
	return height, nil
}

// AccountHeights returns the heights the account took part in, ascending.
func (s *Store) AccountHeights(ctx context.Context, account ledger.AccountID) ([]uint64, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT height FROM height_by_account_set WHERE account_id = ? ORDER BY height`,
		string(account))
	if err != nil {
		return nil, fmt.Errorf("query account heights %s: %w", account, err)
	}
	defer rows.Close()

	var heights []uint64
	for rows.Next() {
		var h uint64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan account height: %w", err)
		}
		heights = append(heights, h)
	}
	return heights, rows.Err()
}

// AccountAssetPositions returns the transaction positions stored under key.
func (s *Store) AccountAssetPositions(ctx context.Context, key index.AccountAssetKey) ([]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT tx_index FROM index_by_id_height_asset
		 WHERE account_id = ? AND height = ? AND asset_id = ?
		 ORDER BY ordinal`,
		string(key.Account), key.Height, string(key.Asset))
	if err != nil {
		return nil, fmt.Errorf("query positions %s: %w", key, err)
	}
	defer rows.Close()

	var positions []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// IsIndexed reports whether height carries the indexed marker.
func (s *Store) IsIndexed(ctx context.Context, height uint64) (bool, error) {
	var exists bool
	err := s.sqlDB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM indexed_blocks WHERE height = ?)`, height).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query indexed marker %d: %w", height, err)
	}
	return exists, nil
}

// SavePending stores rec under its height, replacing any earlier record.
func (s *Store) SavePending(ctx context.Context, rec index.PendingRecord) error {
	block := rec.Block
	if block == nil {
		block = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO pending_blocks (height, block, reason, since) VALUES (?, ?, ?, ?)
		 ON CONFLICT(height) DO UPDATE SET block = excluded.block, reason = excluded.reason, since = excluded.since`,
		rec.Height, block, rec.Reason, rec.Since.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save pending block %d: %w", rec.Height, err)
	}
	return nil
}

// DeletePending removes the pending record at height. A missing record is not an error.
func (s *Store) DeletePending(ctx context.Context, height uint64) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM pending_blocks WHERE height = ?`, height); err != nil {
		return fmt.Errorf("delete pending block %d: %w", height, err)
	}
	return nil
}

// LoadPending returns every pending record, ascending by height.
func (s *Store) LoadPending(ctx context.Context) ([]index.PendingRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT height, block, reason, since FROM pending_blocks ORDER BY height`)
	if err != nil {
		return nil, fmt.Errorf("query pending blocks: %w", err)
	}
	defer rows.Close()

	var records []index.PendingRecord
	for rows.Next() {
		var (
			rec   index.PendingRecord
			since int64
		)
		if err := rows.Scan(&rec.Height, &rec.Block, &rec.Reason, &since); err != nil {
			return nil, fmt.Errorf("scan pending block: %w", err)
		}
		rec.Since = time.UnixMilli(since).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Session writes index records through an Execer, normally an open *sql.Tx.
type Session struct {
	Execer Execer
}

var _ index.Session = Session{}

func (s Session) MarkIndexed(ctx context.Context, height uint64) (bool, error) {
	res, err := s.Execer.ExecContext(ctx,
		`INSERT INTO indexed_blocks (height, indexed_at) VALUES (?, ?) ON CONFLICT(height) DO NOTHING`,
		height, time.Now().UTC().UnixMilli())
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s Session) InsertAccountHeight(ctx context.Context, account ledger.AccountID, height uint64) error {
	_, err := s.Execer.ExecContext(ctx,
		`INSERT INTO height_by_account_set (account_id, height) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		string(account), height)
	return classify(err)
}

func (s Session) AppendAccountAssetPosition(ctx context.Context, key index.AccountAssetKey, ordinal, position int) error {
	_, err := s.Execer.ExecContext(ctx,
		`INSERT INTO index_by_id_height_asset (account_id, height, asset_id, ordinal, tx_index) VALUES (?, ?, ?, ?, ?)`,
		string(key.Account), key.Height, string(key.Asset), ordinal, position)
	return classify(err)
}

// classify marks constraint violations as permanent; the same write fails again on retry.
func classify(err error) error {
	var serr *msqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return retry.Permanent(err)
		}
	}
	return err
}

// Tx is an open index write transaction.
type Tx struct {
	Session
	tx *sql.Tx
}

func (t *Tx) Commit(_ context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit index transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback(_ context.Context) error {
	return t.tx.Rollback()
}

// applyMigrations executes embedded migrations at most once per file, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var applied bool
		if err := sqlDB.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = ?)`, file).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}
		body, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().UnixMilli()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}
