package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pakloong/iroha/app/indexer"
)

// Replays REINDEX_FROM..REINDEX_TO (0 = to the end of the stream) into the
// configured backend and exits non-zero if any block stays pending.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := indexer.Initialize(ctx)
	if err != nil {
		panic(err)
	}
	defer app.Close()

	out, err := app.Reindex(ctx, app.Redis, app.Config.Reindex.From, app.Config.Reindex.To)
	if err != nil {
		app.Logger.Error("Reindex failed", zap.Error(err))
		app.Close()
		os.Exit(1)
	}
	for _, gap := range out.Gaps {
		app.Logger.Warn("Heights missing from the stream", zap.Uint64("from", gap.From), zap.Uint64("to", gap.To))
	}
	if len(out.Pending) > 0 {
		app.Logger.Error("Reindex left pending blocks", zap.Uint64s("heights", out.Pending))
		app.Close()
		os.Exit(2)
	}
}
