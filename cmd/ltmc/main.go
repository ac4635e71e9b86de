package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/contextkeep/ltmc/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "engine exited:", err)
		os.Exit(1)
	}
}
