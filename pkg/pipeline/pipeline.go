// Package pipeline hands committed blocks to the block indexer in height order.
//
// Each block is indexed inside its own backend transaction. Failed attempts are
// rolled back and retried with backoff; a block that still fails is declared
// pending so later heights can proceed, and Reconcile retries it. Pending blocks
// are stored in the backend and reloaded by Resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/codec"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/metrics"
	"github.com/pakloong/iroha/pkg/retry"
)

// Notifier is told about every block written by the pipeline.
type Notifier interface {
	Notify(ctx context.Context, res index.Result)
}

// PendingBlock is a block set aside after exhausting its retries.
type PendingBlock struct {
	Block ledger.Block
	Err   error
	Since time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetry sets the per-block retry policy.
func WithRetry(cfg retry.Config) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithMetrics records pipeline outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNotifier announces written blocks through n.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithWorkers sets the number of goroutines Replay derives records with.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// Pipeline serializes blocks into an index.Store.
type Pipeline struct {
	logger   *zap.Logger
	store    index.Store
	indexer  *index.BlockIndexer
	retry    retry.Config
	metrics  *metrics.Metrics
	notifier Notifier
	workers  int

	mu       sync.Mutex
	next     uint64
	prevHash ledger.Hash
	havePrev bool
	// ahead is the highest height Replay handed over above next.
	ahead   uint64
	pending *xsync.Map[uint64, PendingBlock]
}

// New returns a pipeline expecting height 1. Call Resume to continue an existing index.
func New(logger *zap.Logger, store index.Store, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		logger:  logger,
		store:   store,
		indexer: index.NewBlockIndexer(logger),
		retry:   retry.DefaultConfig(),
		workers: 4,
		next:    1,
		pending: xsync.NewMap[uint64, PendingBlock](),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Resume reloads the pending blocks stored in the backend and positions the
// pipeline after the highest height that is indexed or pending.
func (p *Pipeline) Resume(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, err := p.store.LastIndexedHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("read last indexed height: %w", err)
	}
	records, err := p.store.LoadPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pending blocks: %w", err)
	}

	p.pending.Clear()
	for _, rec := range records {
		block, err := codec.UnmarshalBlock(rec.Block)
		if err != nil {
			p.logger.Error("Stored pending block is undecodable, reindex it",
				zap.Uint64("height", rec.Height),
				zap.Error(err))
			continue
		}
		p.pending.Store(rec.Height, PendingBlock{Block: block, Err: errors.New(rec.Reason), Since: rec.Since})
		last = max(last, rec.Height)
	}
	p.metrics.SetPending(p.pending.Size())

	p.next = last + 1
	p.ahead = 0
	p.havePrev = false
	p.logger.Info("Pipeline resumed",
		zap.Uint64("last_indexed", last),
		zap.Uint64("next", p.next),
		zap.Int("pending", p.pending.Size()))
	return last, nil
}

// Next returns the height the pipeline expects next.
func (p *Pipeline) Next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Submit indexes block. A block at a height the pipeline already moved past is
// skipped when it is indexed or pending and written in place otherwise. A block
// that cannot be written after all retries is declared pending and a
// *PendingError is returned; the pipeline then expects the following height.
func (p *Pipeline) Submit(ctx context.Context, block ledger.Block) (index.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if block.Height < 1 {
		return index.Result{}, index.ErrInvalidHeight
	}
	if block.Height < p.next {
		return p.fill(ctx, block)
	}
	if block.Height > p.next {
		return index.Result{}, fmt.Errorf("%w: expected height %d, got %d", ErrHeightGap, p.next, block.Height)
	}
	if p.havePrev && block.PrevBlockHash != p.prevHash {
		return index.Result{}, fmt.Errorf("%w at height %d: want %s, got %s",
			ErrPreviousHashMismatch, block.Height, p.prevHash, block.PrevBlockHash)
	}

	records, derr := index.Derive(block)
	res, err := p.process(ctx, block, records, derr, true)
	if err != nil && !isPending(err) {
		return res, err
	}
	p.advance(block)
	if serr := p.skipAhead(ctx); serr != nil {
		p.logger.Warn("Cannot move past replayed heights", zap.Uint64("next", p.next), zap.Error(serr))
	}
	return res, err
}

// fill handles a height below next. It is skipped when indexed or pending;
// otherwise it is a hole and is written without a link check.
func (p *Pipeline) fill(ctx context.Context, block ledger.Block) (index.Result, error) {
	handled, err := p.handled(ctx, block.Height)
	if err != nil {
		return index.Result{}, err
	}
	if handled {
		p.logger.Debug("Block already handed over, skipping", zap.Uint64("height", block.Height))
		p.metrics.RecordBlock(metrics.StatusSkipped, block.Height, 0, 0, 0)
		return index.Result{Skipped: true}, nil
	}

	p.logger.Warn("Indexing missing height below the pipeline position",
		zap.Uint64("height", block.Height),
		zap.Uint64("next", p.next))
	records, derr := index.Derive(block)
	return p.process(ctx, block, records, derr, true)
}

// handled reports whether height is indexed or waiting in the pending set.
func (p *Pipeline) handled(ctx context.Context, height uint64) (bool, error) {
	if _, ok := p.pending.Load(height); ok {
		return true, nil
	}
	indexed, err := p.store.IsIndexed(ctx, height)
	if err != nil {
		return false, fmt.Errorf("check height %d: %w", height, err)
	}
	return indexed, nil
}

// skipAhead moves next over heights Replay already handed over. Their hashes
// are unknown, so the link check is off for the following block.
func (p *Pipeline) skipAhead(ctx context.Context) error {
	for p.next <= p.ahead {
		handled, err := p.handled(ctx, p.next)
		if err != nil || !handled {
			return err
		}
		p.next++
		p.havePrev = false
	}
	return nil
}

// advance moves past block and remembers its hash for the next link check.
func (p *Pipeline) advance(block ledger.Block) {
	if block.Height >= p.next {
		p.next = block.Height + 1
	}
	h, err := codec.BlockHash(block)
	if err != nil {
		p.logger.Warn("Cannot hash block, next link check disabled", zap.Uint64("height", block.Height), zap.Error(err))
		p.havePrev = false
		return
	}
	p.prevHash, p.havePrev = h, true
}

// process writes one block's records. With withRetry unset it makes a single
// attempt. Any failure other than cancellation declares the block pending.
func (p *Pipeline) process(ctx context.Context, block ledger.Block, records index.Records, derr error, withRetry bool) (index.Result, error) {
	start := time.Now()

	var res index.Result
	err := derr
	if err == nil {
		cfg := p.retry
		if !withRetry {
			cfg.MaxRetries = 1
		}
		attempts := 0
		err = retry.WithBackoff(ctx, cfg, p.logger, "index_block", func() error {
			attempts++
			if attempts > 1 {
				p.metrics.RecordRetry()
			}
			var werr error
			res, werr = p.commit(ctx, records)
			return werr
		})
	}

	if err != nil {
		if ctx.Err() != nil {
			return index.Result{}, ctx.Err()
		}
		saved := p.setPending(ctx, block, err)
		p.metrics.RecordBlock(metrics.StatusPending, block.Height, 0, 0, 0)
		return index.Result{}, &PendingError{Height: block.Height, Err: err, Saved: saved}
	}

	if res.Skipped {
		p.metrics.RecordBlock(metrics.StatusSkipped, block.Height, 0, 0, 0)
	} else {
		p.metrics.RecordBlock(metrics.StatusIndexed, block.Height, len(records.Accounts), len(records.Positions), time.Since(start))
	}
	if p.notifier != nil {
		p.notifier.Notify(ctx, res)
	}
	return res, nil
}

// commit runs one transaction: begin, write, commit. The transaction is rolled
// back on any failure.
func (p *Pipeline) commit(ctx context.Context, records index.Records) (index.Result, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return index.Result{}, fmt.Errorf("begin transaction: %w", err)
	}

	res, err := p.indexer.Write(ctx, tx, records)
	if err != nil {
		p.rollback(ctx, tx, records.Height)
		return index.Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		p.rollback(ctx, tx, records.Height)
		return index.Result{}, fmt.Errorf("commit height %d: %w", records.Height, err)
	}
	return res, nil
}

func (p *Pipeline) rollback(ctx context.Context, tx index.Tx, height uint64) {
	if err := tx.Rollback(ctx); err != nil {
		p.logger.Warn("Rollback failed", zap.Uint64("height", height), zap.Error(err))
	}
}

// setPending records block in the pending set and stores it in the backend.
// It reports whether the stored record was written.
func (p *Pipeline) setPending(ctx context.Context, block ledger.Block, cause error) bool {
	since := time.Now()
	if prev, ok := p.pending.Load(block.Height); ok {
		since = prev.Since
	}
	p.pending.Store(block.Height, PendingBlock{Block: block, Err: cause, Since: since})
	p.metrics.SetPending(p.pending.Size())
	p.logger.Error("Block declared pending",
		zap.Uint64("height", block.Height),
		zap.Int("pending", p.pending.Size()),
		zap.Error(cause))

	data, err := codec.MarshalBlock(block)
	if err == nil {
		err = p.store.SavePending(ctx, index.PendingRecord{
			Height: block.Height,
			Block:  data,
			Reason: cause.Error(),
			Since:  since,
		})
	}
	if err != nil {
		p.logger.Error("Pending block not stored, it is lost on restart",
			zap.Uint64("height", block.Height),
			zap.Error(err))
		return false
	}
	return true
}

// clearPending drops height from the pending set and from the backend.
func (p *Pipeline) clearPending(ctx context.Context, height uint64) {
	if _, ok := p.pending.LoadAndDelete(height); !ok {
		return
	}
	if err := p.store.DeletePending(ctx, height); err != nil {
		p.logger.Warn("Stored pending block not removed", zap.Uint64("height", height), zap.Error(err))
	}
}

func isPending(err error) bool {
	var pe *PendingError
	return errors.As(err, &pe)
}
