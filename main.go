package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/TFMV/flowboard/cli"
)

func main() {
	// Cancel on SIGINT/SIGTERM so long-running commands shut down cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
