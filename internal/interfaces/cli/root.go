// Package cli implements syncctl, the operator command line of the sync engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgersync/backend/internal/application/orchestrator"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/jobber"
)

// SyncService is the orchestrator surface the commands drive
type SyncService interface {
	RunStage(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.StageReport, error)
	Resume(ctx context.Context, stage integration.Stage, scope string) (*orchestrator.StageReport, error)
	RunAll(ctx context.Context, scope string, startDate *time.Time, dryRun bool) ([]*orchestrator.StageReport, error)
	Status(ctx context.Context, scope string) ([]orchestrator.StageStatus, error)
}

// BudgetProber reads the live query budget of a scope
type BudgetProber interface {
	Probe(ctx context.Context, scope string) (jobber.BucketState, error)
}

// Backend is an opened sync engine
type Backend struct {
	Sync   SyncService
	Prober BudgetProber
	Close  func() error
}

// Opener wires a Backend for one command invocation
type Opener func(ctx context.Context, opts *RootOptions) (*Backend, error)

// RootOptions holds the global flags
type RootOptions struct {
	Scope    string
	LogLevel string
	Timeout  time.Duration
}

// NewRootCommand creates the syncctl root command
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the external sync and posting engine",
		Long: `syncctl drives the staged sync of one scope: customers, items, invoices
and payments are fetched, stored as truth records and posted to the ledger.

Configuration is read from config.toml and LEDGERSYNC_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Scope == "" {
				return WrapExitError(ExitCommandError, "invalid arguments", errors.New("--scope is required"))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Scope, "scope", "", "tenant scope to operate on (required)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "abort the command after this duration (0 = no limit)")

	cmd.AddCommand(newRunCommand(opts, open))
	cmd.AddCommand(newResumeCommand(opts, open))
	cmd.AddCommand(newSyncCommand(opts, open))
	cmd.AddCommand(newStatusCommand(opts, open))
	cmd.AddCommand(newProbeCommand(opts, open))

	return cmd
}

// withBackend opens the backend, runs fn and closes it again
func withBackend(cmd *cobra.Command, opts *RootOptions, open Opener, fn func(ctx context.Context, b *Backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	b, err := open(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open sync engine", err)
	}
	if b.Close != nil {
		defer func() { _ = b.Close() }()
	}
	return fn(ctx, b)
}

func parseStage(arg string) (integration.Stage, error) {
	stage, err := integration.ParseStage(strings.ToLower(strings.TrimSpace(arg)))
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid arguments",
			fmt.Errorf("%w: %q (want one of %v)", err, arg, integration.StageOrder))
	}
	return stage, nil
}
