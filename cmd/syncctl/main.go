package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledgersync/backend/internal/app"
	"github.com/ledgersync/backend/internal/infrastructure/config"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/interfaces/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(openBackend)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "syncctl:", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}

// openBackend wires the engine from config.toml and the environment.
// Logs go to stderr so stdout carries only the JSON result.
func openBackend(ctx context.Context, opts *cli.RootOptions) (*cli.Backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:   opts.LogLevel,
		Format:  "console",
		Output:  "stderr",
		Service: "syncctl",
	})
	if err != nil {
		return nil, err
	}

	container, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		_ = logger.Sync(log)
		return nil, err
	}
	return &cli.Backend{
		Sync:   container.Orchestrator,
		Prober: container.Client,
		Close: func() error {
			err := container.Close(context.Background())
			_ = logger.Sync(log)
			return err
		},
	}, nil
}
