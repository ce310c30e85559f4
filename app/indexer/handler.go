package indexer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/pkg/codec"
	"github.com/pakloong/iroha/pkg/index"
	"github.com/pakloong/iroha/pkg/pipeline"
	"github.com/pakloong/iroha/pkg/redis"
)

// Stream message results recorded on the metrics.
const (
	resultAcked    = "acked"
	resultRejected = "rejected"
	resultStalled  = "stalled"
	resultError    = "error"
)

// HandleMessage decodes one stream entry and submits it to the pipeline.
// Entries that can never be indexed are acknowledged and dropped. Out of order
// or unlinked blocks are left unacknowledged and mark the stream stalled until
// a block goes through. Pending blocks are acknowledged once the pending record
// is stored.
func (a *App) HandleMessage(ctx context.Context, msg redis.Message) error {
	logger := a.Logger.With(zap.String("id", msg.ID))

	data := msg.Data()
	if data == nil {
		logger.Warn("Stream entry has no block data, dropping")
		a.Metrics.RecordStreamMessage(resultRejected)
		return nil
	}

	block, err := codec.UnmarshalBlock(data)
	if err != nil {
		logger.Warn("Undecodable block, dropping", zap.Error(err))
		a.Metrics.RecordStreamMessage(resultRejected)
		return nil
	}
	if h, ok := msg.Height(); ok && h != block.Height {
		logger.Warn("Stream height does not match block, dropping",
			zap.Uint64("stream_height", h),
			zap.Uint64("block_height", block.Height))
		a.Metrics.RecordStreamMessage(resultRejected)
		return nil
	}

	res, err := a.Pipeline.Submit(ctx, block)
	var pending *pipeline.PendingError
	switch {
	case err == nil:
		logger.Debug("Block handled",
			zap.Uint64("height", block.Height),
			zap.Bool("skipped", res.Skipped))
	case errors.As(err, &pending) && pending.Saved:
		logger.Warn("Block set aside for reconciliation", zap.Uint64("height", pending.Height), zap.Error(pending.Err))
	case errors.As(err, &pending):
		a.Metrics.RecordStreamMessage(resultError)
		return fmt.Errorf("submit block %d: %w", block.Height, err)
	case errors.Is(err, index.ErrInvalidHeight):
		logger.Warn("Block has invalid height, dropping")
		a.Metrics.RecordStreamMessage(resultRejected)
		return nil
	case errors.Is(err, pipeline.ErrHeightGap), errors.Is(err, pipeline.ErrPreviousHashMismatch):
		a.setStalled(true)
		logger.Error("Block stream stalled", zap.Uint64("height", block.Height), zap.Error(err))
		a.Metrics.RecordStreamMessage(resultStalled)
		return fmt.Errorf("submit block %d: %w", block.Height, err)
	default:
		a.Metrics.RecordStreamMessage(resultError)
		return fmt.Errorf("submit block %d: %w", block.Height, err)
	}

	a.setStalled(false)
	a.Metrics.RecordStreamMessage(resultAcked)
	return nil
}

func (a *App) setStalled(stalled bool) {
	a.stalled.Store(stalled)
	a.Metrics.SetStalled(stalled)
}
