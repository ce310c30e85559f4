// Package index derives the secondary block indices and writes them through a
// caller-supplied transactional session.
//
// Two indices are maintained:
//
//	AccountHeightIndex          account -> set of heights the account took part in
//	AccountAssetPositionIndex   account:height:asset -> transaction positions, in order
//
// BlockIndexer never opens, commits or rolls back a transaction and never
// retries. Callers serialize heights and own the session.
package index

import (
	"context"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/ledger"
)

// Session is the write capability of an open backend transaction.
type Session interface {
	// MarkIndexed records height as indexed and reports false when it already was.
	MarkIndexed(ctx context.Context, height uint64) (bool, error)
	// InsertAccountHeight adds height to the account's set. Existing pairs are a no-op.
	InsertAccountHeight(ctx context.Context, account ledger.AccountID, height uint64) error
	// AppendAccountAssetPosition stores a transaction position at ordinal under key.
	AppendAccountAssetPosition(ctx context.Context, key AccountAssetKey, ordinal, position int) error
}

// Tx is a Session whose boundaries the caller controls.
type Tx interface {
	Session
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens write transactions against a backend.
type Store interface {
	PendingStore

	Begin(ctx context.Context) (Tx, error)
	// LastIndexedHeight returns the highest indexed height, or 0 for an empty index.
	LastIndexedHeight(ctx context.Context) (uint64, error)
	IsIndexed(ctx context.Context, height uint64) (bool, error)
}

// Reader answers index lookups.
type Reader interface {
	// AccountHeights returns the heights of an account in ascending order.
	AccountHeights(ctx context.Context, account ledger.AccountID) ([]uint64, error)
	// AccountAssetPositions returns the positions stored under key in ordinal order.
	AccountAssetPositions(ctx context.Context, key AccountAssetKey) ([]int, error)
}

// Backend is a complete index storage implementation.
type Backend interface {
	Store
	Reader
	Close() error
}

// Result summarizes one Index or Write call.
type Result struct {
	Records Records
	Skipped bool
}

// BlockIndexer writes the index records of committed blocks.
type BlockIndexer struct {
	logger *zap.Logger
}

// NewBlockIndexer returns an indexer that logs through logger.
func NewBlockIndexer(logger *zap.Logger) *BlockIndexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockIndexer{logger: logger}
}

// Index derives the records of block and writes them through s.
func (bi *BlockIndexer) Index(ctx context.Context, block ledger.Block, s Session) (Result, error) {
	records, err := Derive(block)
	if err != nil {
		return Result{}, err
	}
	return bi.Write(ctx, s, records)
}

// Write persists already derived records. A height that is already marked as
// indexed is skipped without writing anything. The first failed write aborts
// the block with a *BackendWriteError.
func (bi *BlockIndexer) Write(ctx context.Context, s Session, r Records) (Result, error) {
	if r.Height < 1 {
		return Result{}, ErrInvalidHeight
	}

	fresh, err := s.MarkIndexed(ctx, r.Height)
	if err != nil {
		return Result{}, &BackendWriteError{Op: OpMarkIndexed, Height: r.Height, Err: err}
	}
	if !fresh {
		bi.logger.Debug("Block already indexed, skipping", zap.Uint64("height", r.Height))
		return Result{Records: r, Skipped: true}, nil
	}

	for _, acc := range r.Accounts {
		if err := s.InsertAccountHeight(ctx, acc, r.Height); err != nil {
			return Result{}, &BackendWriteError{Op: OpAccountHeight, Height: r.Height, Key: string(acc), Err: err}
		}
	}
	for _, p := range r.Positions {
		if err := s.AppendAccountAssetPosition(ctx, p.Key, p.Ordinal, p.TxPosition); err != nil {
			return Result{}, &BackendWriteError{Op: OpAssetPosition, Height: r.Height, Key: p.Key.String(), Err: err}
		}
	}

	bi.logger.Debug("Indexed block",
		zap.Uint64("height", r.Height),
		zap.Int("accounts", len(r.Accounts)),
		zap.Int("positions", len(r.Positions)))
	return Result{Records: r}, nil
}
