package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ledgersync/backend/internal/application/orchestrator"
)

// runFlags are the flags of commands that start a fresh pass
type runFlags struct {
	StartDate string
	DryRun    bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.StartDate, "start-date", "", "only fetch records updated since this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&f.DryRun, "dry-run", false, "fetch and reconcile without posting to the ledger")
}

func newRunCommand(opts *RootOptions, open Opener) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <stage>",
		Short: "Run one stage from the beginning",
		Long: `Run one stage from an empty cursor. Stages run in order:
customers, items, invoices, payments. A stage only starts once the
previous one has completed.

Example:
  syncctl run customers --scope acme
  syncctl run invoices --scope acme --start-date 2024-01-01 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(args[0])
			if err != nil {
				return err
			}
			startDate, err := orchestrator.ParseStartDate(flags.StartDate)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b *Backend) error {
				report, err := b.Sync.RunStage(ctx, orchestrator.RunRequest{
					Scope:     opts.Scope,
					Stage:     stage,
					StartDate: startDate,
					DryRun:    flags.DryRun,
				})
				return finish(cmd, report, err)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newResumeCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <stage>",
		Short: "Resume a stage from its persisted cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := parseStage(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b *Backend) error {
				report, err := b.Sync.Resume(ctx, stage, opts.Scope)
				return finish(cmd, report, err)
			})
		},
	}
}

func newSyncCommand(opts *RootOptions, open Opener) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run every stage in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := orchestrator.ParseStartDate(flags.StartDate)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return withBackend(cmd, opts, open, func(ctx context.Context, b *Backend) error {
				reports, err := b.Sync.RunAll(ctx, opts.Scope, startDate, flags.DryRun)
				return finish(cmd, reports, err)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// StatusOutput is printed by the status command
type StatusOutput struct {
	Scope  string                     `json:"scope"`
	Stages []orchestrator.StageStatus `json:"stages"`
}

func newStatusCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cursor and last run of every stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(ctx context.Context, b *Backend) error {
				stages, err := b.Sync.Status(ctx, opts.Scope)
				if err != nil {
					return finish(cmd, nil, err)
				}
				return finish(cmd, StatusOutput{Scope: opts.Scope, Stages: stages}, nil)
			})
		},
	}
}

func newProbeCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Read the live query budget with a minimal request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, open, func(ctx context.Context, b *Backend) error {
				budget, err := b.Prober.Probe(ctx, opts.Scope)
				if err != nil {
					return finish(cmd, nil, err)
				}
				return finish(cmd, budget, nil)
			})
		},
	}
}

// finish prints the result and converts a stage error into ExitFailure.
// Partial reports are printed next to the error.
func finish(cmd *cobra.Command, data any, err error) error {
	out := &Output{Writer: cmd.OutOrStdout()}
	if err == nil {
		return out.Success(data)
	}
	if writeErr := out.Failure(data, err); writeErr != nil {
		return writeErr
	}
	return WrapExitError(ExitFailure, "command failed", err)
}
