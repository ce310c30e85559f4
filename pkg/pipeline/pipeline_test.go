package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pakloong/iroha/pkg/codec"
	"github.com/pakloong/iroha/pkg/db/leveldb"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/metrics"
	"github.com/pakloong/iroha/pkg/pipeline"
	"github.com/pakloong/iroha/pkg/retry"
)

var errBackendDown = errors.New("backend down")

// flakyStore fails Begin while failures remains positive. With permanent set
// the failures are marked as not worth retrying; with failSave set pending
// records cannot be stored.
type flakyStore struct {
	index.Backend

	mu        sync.Mutex
	failures  int
	permanent bool
	failSave  bool
	begins    int
}

func (f *flakyStore) Begin(ctx context.Context) (index.Tx, error) {
	f.mu.Lock()
	f.begins++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	permanent := f.permanent
	f.mu.Unlock()
	if fail && permanent {
		return nil, retry.Permanent(errBackendDown)
	}
	if fail {
		return nil, errBackendDown
	}
	return f.Backend.Begin(ctx)
}

func (f *flakyStore) SavePending(ctx context.Context, rec index.PendingRecord) error {
	if f.failSave {
		return errBackendDown
	}
	return f.Backend.SavePending(ctx, rec)
}

func (f *flakyStore) setFailures(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

type recordingNotifier struct {
	results []index.Result
}

func (n *recordingNotifier) Notify(_ context.Context, res index.Result) {
	n.results = append(n.results, res)
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{MaxRetries: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func newStore(t *testing.T) *flakyStore {
	t.Helper()
	backend, err := leveldb.OpenMemory(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return &flakyStore{Backend: backend}
}

func transfer(src, dest ledger.AccountID) ledger.Transaction {
	return ledger.Transaction{
		CreatorAccountID: src,
		CreatedTime:      time.UnixMilli(1700000000000).UTC(),
		Quorum:           1,
		Commands: []ledger.Command{ledger.TransferAsset{
			SrcAccountID: src, DestAccountID: dest, AssetID: "coin#domain", Description: "pay",
		}},
	}
}

// chain builds linked blocks from height `from` on, one transaction each.
func chain(t *testing.T, prev *ledger.Block, from uint64, n int) []ledger.Block {
	t.Helper()
	blocks := make([]ledger.Block, 0, n)
	for i := 0; i < n; i++ {
		b := ledger.Block{
			Height:       from + uint64(i),
			CreatedTime:  time.UnixMilli(1700000000000 + int64(i)).UTC(),
			Transactions: []ledger.Transaction{transfer("a@domain", "b@domain")},
		}
		if prev != nil {
			h, err := codec.BlockHash(*prev)
			require.NoError(t, err)
			b.PrevBlockHash = h
		}
		blocks = append(blocks, b)
		prev = &blocks[len(blocks)-1]
	}
	return blocks
}

func TestSubmitIndexesInOrder(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	notifier := &recordingNotifier{}
	p := pipeline.New(zaptest.NewLogger(t), store,
		pipeline.WithRetry(fastRetry(3)),
		pipeline.WithNotifier(notifier),
		pipeline.WithMetrics(metrics.New()))

	for _, b := range chain(t, nil, 1, 3) {
		res, err := p.Submit(ctx, b)
		require.NoError(t, err)
		assert.False(t, res.Skipped)
	}

	heights, err := store.AccountHeights(ctx, "b@domain")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, heights)
	assert.Equal(t, uint64(4), p.Next())
	require.Len(t, notifier.results, 3)
	assert.Equal(t, uint64(3), notifier.results[2].Records.Height)
}

func TestSubmitRejectsGapsAndSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	p := pipeline.New(zaptest.NewLogger(t), newStore(t), pipeline.WithRetry(fastRetry(1)))
	blocks := chain(t, nil, 1, 3)

	_, err := p.Submit(ctx, blocks[1])
	assert.ErrorIs(t, err, pipeline.ErrHeightGap)

	_, err = p.Submit(ctx, blocks[0])
	require.NoError(t, err)

	res, err := p.Submit(ctx, blocks[0])
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = p.Submit(ctx, ledger.Block{})
	assert.ErrorIs(t, err, index.ErrInvalidHeight)
}

func TestSubmitChecksPreviousHash(t *testing.T) {
	ctx := context.Background()
	p := pipeline.New(zaptest.NewLogger(t), newStore(t), pipeline.WithRetry(fastRetry(1)))
	blocks := chain(t, nil, 1, 2)

	_, err := p.Submit(ctx, blocks[0])
	require.NoError(t, err)

	forged := blocks[1]
	forged.PrevBlockHash = ledger.Hash{1}
	_, err = p.Submit(ctx, forged)
	assert.ErrorIs(t, err, pipeline.ErrPreviousHashMismatch)
	assert.Equal(t, uint64(2), p.Next())

	_, err = p.Submit(ctx, blocks[1])
	require.NoError(t, err)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.setFailures(2)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(3)))

	res, err := p.Submit(ctx, chain(t, nil, 1, 1)[0])
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 3, store.begins)
	assert.Empty(t, p.Pending())
}

func TestExhaustedRetriesDeclarePendingAndReconcile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(2)))
	blocks := chain(t, nil, 1, 3)

	_, err := p.Submit(ctx, blocks[0])
	require.NoError(t, err)

	store.setFailures(2)
	_, err = p.Submit(ctx, blocks[1])
	var pending *pipeline.PendingError
	require.ErrorAs(t, err, &pending)
	assert.Equal(t, uint64(2), pending.Height)
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, []uint64{2}, p.Pending())

	// The successor is accepted once its predecessor is pending.
	_, err = p.Submit(ctx, blocks[2])
	require.NoError(t, err)

	indexed, err := store.IsIndexed(ctx, 2)
	require.NoError(t, err)
	assert.False(t, indexed)

	store.setFailures(1)
	resolved, err := p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Equal(t, []uint64{2}, p.Pending())

	resolved, err = p.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, p.Pending())

	heights, err := store.AccountHeights(ctx, "a@domain")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, heights)
}

func TestInvalidBlockIsPendingWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(5)))

	bad := ledger.Block{Height: 1, Transactions: []ledger.Transaction{transfer("a:x@domain", "b@domain")}}
	_, err := p.Submit(ctx, bad)

	var invalid *index.InvalidIdentifierError
	assert.ErrorAs(t, err, &invalid)
	assert.Zero(t, store.begins)
	assert.Equal(t, []uint64{1}, p.Pending())

	pb, ok := p.PendingBlock(1)
	require.True(t, ok)
	assert.Equal(t, bad.Height, pb.Block.Height)
	assert.Equal(t, uint64(2), p.Next())
}

func TestCancelledSubmitDoesNotAdvance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := pipeline.New(zaptest.NewLogger(t), newStore(t), pipeline.WithRetry(fastRetry(3)))
	_, err := p.Submit(ctx, chain(t, nil, 1, 1)[0])
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), p.Next())
	assert.Empty(t, p.Pending())
}

func TestResumeContinuesAfterLastIndexed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	blocks := chain(t, nil, 1, 4)

	first := pipeline.New(zaptest.NewLogger(t), store)
	for _, b := range blocks[:2] {
		_, err := first.Submit(ctx, b)
		require.NoError(t, err)
	}

	second := pipeline.New(zaptest.NewLogger(t), store)
	last, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	res, err := second.Submit(ctx, blocks[1])
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = second.Submit(ctx, blocks[2])
	require.NoError(t, err)
}

func TestReplayFillsHolesAndSkipsIndexed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)), pipeline.WithWorkers(3))
	blocks := chain(t, nil, 1, 6)

	_, err := p.Submit(ctx, blocks[0])
	require.NoError(t, err)

	shuffled := []ledger.Block{blocks[4], blocks[2], blocks[0], blocks[5], blocks[1], blocks[3], blocks[2]}
	out, err := p.Replay(ctx, shuffled)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Indexed)
	assert.Equal(t, 2, out.Skipped)
	assert.Empty(t, out.Pending)
	assert.Equal(t, uint64(7), p.Next())

	heights, err := store.AccountHeights(ctx, "a@domain")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, heights)

	_, err = p.Submit(ctx, chain(t, &blocks[5], 7, 1)[0])
	require.NoError(t, err)
}

func TestReplayReportsPending(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)))
	blocks := chain(t, nil, 1, 3)
	blocks[1].Transactions = append(blocks[1].Transactions, transfer("", "b@domain"))

	out, err := p.Replay(ctx, blocks)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Indexed)
	assert.Equal(t, []uint64{2}, out.Pending)
	assert.Equal(t, []uint64{2}, p.Pending())
}

func TestReplayReportsGapsAndSubmitFillsThem(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)))
	blocks := chain(t, nil, 1, 6)

	out, err := p.Replay(ctx, []ledger.Block{blocks[0], blocks[1], blocks[4]})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Indexed)
	assert.Equal(t, []pipeline.Gap{{From: 3, To: 4}}, out.Gaps)
	assert.Equal(t, uint64(3), p.Next())

	res, err := p.Submit(ctx, blocks[2])
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	indexed, err := store.IsIndexed(ctx, 3)
	require.NoError(t, err)
	assert.True(t, indexed)
	assert.Equal(t, uint64(4), p.Next())

	_, err = p.Submit(ctx, blocks[3])
	require.NoError(t, err)
	assert.Equal(t, uint64(6), p.Next(), "replayed height 5 is passed over")

	_, err = p.Submit(ctx, blocks[5])
	require.NoError(t, err)

	heights, err := store.AccountHeights(ctx, "a@domain")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, heights)
}

func TestReplayChecksLinkAtPosition(t *testing.T) {
	ctx := context.Background()
	p := pipeline.New(zaptest.NewLogger(t), newStore(t), pipeline.WithRetry(fastRetry(1)))
	blocks := chain(t, nil, 1, 2)

	_, err := p.Submit(ctx, blocks[0])
	require.NoError(t, err)

	forged := blocks[1]
	forged.PrevBlockHash = ledger.Hash{9}
	_, err = p.Replay(ctx, []ledger.Block{forged})
	assert.ErrorIs(t, err, pipeline.ErrPreviousHashMismatch)
	assert.Equal(t, uint64(2), p.Next())
}

func TestSubmitIndexesHoleBelowPosition(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	blocks := chain(t, nil, 1, 3)

	indexer := index.NewBlockIndexer(zaptest.NewLogger(t))
	for _, b := range []ledger.Block{blocks[0], blocks[2]} {
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = indexer.Index(ctx, b, tx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
	}

	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)))
	_, err := p.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), p.Next())

	res, err := p.Submit(ctx, blocks[1])
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	res, err = p.Submit(ctx, blocks[1])
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	heights, err := store.AccountHeights(ctx, "b@domain")
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, heights)
	assert.Equal(t, uint64(4), p.Next())
}

func TestPendingBlocksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	blocks := chain(t, nil, 1, 3)

	first := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(2)))
	_, err := first.Submit(ctx, blocks[0])
	require.NoError(t, err)

	store.setFailures(2)
	_, err = first.Submit(ctx, blocks[1])
	var pending *pipeline.PendingError
	require.ErrorAs(t, err, &pending)
	assert.True(t, pending.Saved)

	_, err = first.Submit(ctx, blocks[2])
	require.NoError(t, err)

	second := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(2)))
	last, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
	assert.Equal(t, uint64(4), second.Next())
	assert.Equal(t, []uint64{2}, second.Pending())

	pb, ok := second.PendingBlock(2)
	require.True(t, ok)
	assert.Equal(t, blocks[1].PrevBlockHash, pb.Block.PrevBlockHash)
	assert.Contains(t, pb.Err.Error(), errBackendDown.Error())

	resolved, err := second.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	indexed, err := store.IsIndexed(ctx, 2)
	require.NoError(t, err)
	assert.True(t, indexed)

	stored, err := store.LoadPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	third := pipeline.New(zaptest.NewLogger(t), store)
	_, err = third.Resume(ctx)
	require.NoError(t, err)
	assert.Empty(t, third.Pending())
}

func TestPendingAboveLastIndexedMovesResumePosition(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	blocks := chain(t, nil, 1, 2)

	first := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)))
	_, err := first.Submit(ctx, blocks[0])
	require.NoError(t, err)
	store.setFailures(1)
	_, err = first.Submit(ctx, blocks[1])
	require.Error(t, err)

	second := pipeline.New(zaptest.NewLogger(t), store)
	last, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	assert.Equal(t, uint64(3), second.Next())

	res, err := second.Submit(ctx, blocks[1])
	require.NoError(t, err)
	assert.True(t, res.Skipped, "pending heights are left to Reconcile")
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.permanent = true
	store.setFailures(1)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(5)))

	_, err := p.Submit(ctx, chain(t, nil, 1, 1)[0])
	var pending *pipeline.PendingError
	require.ErrorAs(t, err, &pending)
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 1, store.begins)
	assert.Equal(t, []uint64{1}, p.Pending())
}

func TestUnsavedPendingIsReported(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.failSave = true
	store.setFailures(1)
	p := pipeline.New(zaptest.NewLogger(t), store, pipeline.WithRetry(fastRetry(1)))

	_, err := p.Submit(ctx, chain(t, nil, 1, 1)[0])
	var pending *pipeline.PendingError
	require.ErrorAs(t, err, &pending)
	assert.False(t, pending.Saved)
	assert.Equal(t, []uint64{1}, p.Pending())
}
