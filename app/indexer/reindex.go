package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/codec"
	"github.com/pakloong/iroha/pkg/ledger"
	"github.com/pakloong/iroha/pkg/pipeline"
	"github.com/pakloong/iroha/pkg/redis"
)

const reindexBatch = 1000

// Reindex replays every block of the stream with a height in [from, to] into
// the backend. A zero to means no upper bound. Heights already indexed are
// skipped by the backend marker. Heights the stream no longer holds come back
// as gaps when they lie at or above the pipeline position.
func (a *App) Reindex(ctx context.Context, reader redis.RangeReader, from, to uint64) (pipeline.ReplayResult, error) {
	var (
		total pipeline.ReplayResult
		batch []ledger.Block
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := a.Pipeline.Replay(ctx, batch)
		total.Indexed += out.Indexed
		total.Skipped += out.Skipped
		total.Pending = append(total.Pending, out.Pending...)
		total.Gaps = append(total.Gaps, out.Gaps...)
		batch = batch[:0]
		return err
	}

	err := redis.Scan(ctx, reader, a.Config.Stream.Name, reindexBatch, func(msg redis.Message) error {
		if h, ok := msg.Height(); ok && (h < from || (to > 0 && h > to)) {
			return nil
		}
		block, err := codec.UnmarshalBlock(msg.Data())
		if err != nil {
			a.Logger.Warn("Skipping undecodable stream entry", zap.String("id", msg.ID), zap.Error(err))
			return nil
		}
		if block.Height < from || (to > 0 && block.Height > to) {
			return nil
		}
		batch = append(batch, block)
		if len(batch) >= reindexBatch {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("scan %s: %w", a.Config.Stream.Name, err)
	}
	if err := flush(); err != nil {
		return total, err
	}

	a.Logger.Info("Reindex finished",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("indexed", total.Indexed),
		zap.Int("skipped", total.Skipped),
		zap.Uint64s("pending", total.Pending),
		zap.Int("gaps", len(total.Gaps)))
	return total, nil
}
