package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/ledger"
)

// Gap is a run of heights, From to To inclusive, missing between the pipeline
// position and blocks Replay wrote above it.
type Gap struct {
	From uint64
	To   uint64
}

// ReplayResult summarizes a Replay call.
type ReplayResult struct {
	Indexed int
	Skipped int
	Pending []uint64
	Gaps    []Gap
}

type derived struct {
	records index.Records
	err     error
}

// Replay writes blocks in ascending height order regardless of the pipeline
// position, so it can fill holes below it. Records are derived concurrently;
// writes stay sequential. Heights already marked in the store are skipped.
//
// The position only advances over a contiguous run starting at Next, and the
// first block of that run must link to the last submitted one. Heights missing
// above the run are reported as Gaps; Submit accepts them later and then moves
// over the replayed heights.
func (p *Pipeline) Replay(ctx context.Context, blocks []ledger.Block) (ReplayResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	defer func() { p.metrics.RecordReplay(time.Since(start)) }()

	blocks = slices.Clone(blocks)
	slices.SortStableFunc(blocks, func(a, b ledger.Block) int { return cmp.Compare(a.Height, b.Height) })

	results := make([]derived, len(blocks))

	pool := pond.NewPool(p.workers)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for i := range blocks {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				results[i].err = err
				return
			}
			records, err := index.Derive(blocks[i])
			results[i] = derived{records: records, err: err}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, pond.ErrGroupStopped) {
		return ReplayResult{}, err
	}

	var out ReplayResult
	above := p.ahead
	for i, block := range blocks {
		if i > 0 && blocks[i-1].Height == block.Height {
			out.Skipped++
			continue
		}
		if block.Height < 1 {
			return out, index.ErrInvalidHeight
		}
		if block.Height == p.next && p.havePrev && block.PrevBlockHash != p.prevHash {
			return out, fmt.Errorf("%w at height %d: want %s, got %s",
				ErrPreviousHashMismatch, block.Height, p.prevHash, block.PrevBlockHash)
		}

		res, err := p.process(ctx, block, results[i].records, results[i].err, true)
		switch {
		case isPending(err):
			out.Pending = append(out.Pending, block.Height)
		case err != nil:
			return out, err
		case res.Skipped:
			p.clearPending(ctx, block.Height)
			out.Skipped++
		default:
			p.clearPending(ctx, block.Height)
			out.Indexed++
		}

		switch {
		case block.Height == p.next:
			p.advance(block)
		case block.Height > p.next:
			from := max(p.next, above+1)
			if block.Height > from {
				out.Gaps = append(out.Gaps, Gap{From: from, To: block.Height - 1})
			}
			above = max(above, block.Height)
			p.ahead = above
		}
	}
	p.metrics.SetPending(p.pending.Size())

	p.logger.Info("Replay finished",
		zap.Int("blocks", len(blocks)),
		zap.Int("indexed", out.Indexed),
		zap.Int("skipped", out.Skipped),
		zap.Int("pending", len(out.Pending)),
		zap.Int("gaps", len(out.Gaps)),
		zap.Duration("took", time.Since(start)))
	return out, nil
}
