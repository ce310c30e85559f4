package pipeline

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/index"
)

// Pending returns the pending heights in ascending order.
func (p *Pipeline) Pending() []uint64 {
	heights := make([]uint64, 0, p.pending.Size())
	p.pending.Range(func(height uint64, _ PendingBlock) bool {
		heights = append(heights, height)
		return true
	})
	slices.Sort(heights)
	return heights
}

// PendingBlock returns the block set aside at height.
func (p *Pipeline) PendingBlock(height uint64) (PendingBlock, bool) {
	return p.pending.Load(height)
}

// Reconcile makes one attempt at every pending block, lowest height first, and
// returns how many were resolved. Blocks that fail again stay pending.
func (p *Pipeline) Reconcile(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resolved := 0
	for _, height := range p.Pending() {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		pb, ok := p.pending.Load(height)
		if !ok {
			continue
		}
		records, derr := index.Derive(pb.Block)
		if _, err := p.process(ctx, pb.Block, records, derr, false); err != nil {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			continue
		}

		p.clearPending(ctx, height)
		resolved++
		p.logger.Info("Pending block indexed", zap.Uint64("height", height))
	}

	p.metrics.SetPending(p.pending.Size())
	if resolved > 0 {
		p.logger.Info("Reconciled pending blocks",
			zap.Int("resolved", resolved),
			zap.Int("remaining", p.pending.Size()))
	}
	return resolved, nil
}
