package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-arrower/livestore/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Todo().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1) //nolint:gocritic // stop is called
	}
}
