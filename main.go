package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/harpy-cli/cmd"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
)

func main() {
	// A SIGINT/SIGTERM cancels the root context; the engine checks it once per
	// guess iteration, so shutdown takes effect within one guess's latency.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
