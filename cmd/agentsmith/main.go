// Package main is the entry point for the agentsmith CLI.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/agentsmith-labs/agentsmith/internal/cli"
	"github.com/agentsmith-labs/agentsmith/internal/cli/commands"
)

func main() {
	// Load .env if present; hook and dashboard invocations inherit
	// project-local settings this way.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		var exitErr *commands.ExitError
		if errors.As(err, &exitErr) {
			stop()
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
