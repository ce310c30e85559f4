package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pakloong/iroha/app/indexer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := indexer.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	if err := app.SetupScheduler(ctx, app.CronSpec); err != nil {
		panic(err)
	}
	app.StartCron()

	app.SetupServer()

	app.Start(ctx)
}
