package main

import (
	"context"
	"os/signal"
	"syscall"
)

func main() {
	// SIGINT and SIGTERM cancel the command context so interrupted
	// sessions finalize cleanly and can be resumed.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		exitOnError(err)
	}
}
