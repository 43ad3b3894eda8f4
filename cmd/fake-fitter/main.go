// Command fake-fitter speaks the fitter worker protocol on stdin/stdout with
// the in-process fake engine. It stands in for the Python worker in local
// runs and integration checks.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/fake"
	"github.com/bryanwahyu/sans-pilot/internal/infra/fitter/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := fake.NewFactory().NewFitter(ctx)
	if err != nil {
		logger.Error("fitter.start_failed", "error", err.Error())
		os.Exit(1)
	}
	defer f.Close()

	if err := worker.Serve(ctx, os.Stdin, os.Stdout, f, logger); err != nil && ctx.Err() == nil {
		logger.Error("fitter.serve_failed", "error", err.Error())
		os.Exit(1)
	}
}
