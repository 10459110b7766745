// Command policyctl is the operator CLI for the policy event store: schema
// migrations, history inspection, read-model rebuilds and reconciliation.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(logger, connect).ExecuteContext(ctx)
	stop()
	if err != nil {
		logger.Error("policyctl failed", "error", err)
		os.Exit(1)
	}
}
