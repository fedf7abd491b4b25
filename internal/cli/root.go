// Package cli implements economyctl, the operator command line for the
// economy backend.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"qafala_backend/internal/app"
	"qafala_backend/internal/config"
	"qafala_backend/internal/domain"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the service factory shared by all
// commands.
type RootOptions struct {
	Verbose bool
	Format  string

	// Open builds the service graph. The default connects to Postgres
	// using the environment.
	Open func(ctx context.Context) (*app.Services, func(), error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openFromEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "economyctl",
		Short: "Operate the drop, barter and leaderboard economy",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewSeasonCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

func openFromEnv(ctx context.Context) (*app.Services, func(), error) {
	cfg, err := config.LoadE()
	if err != nil {
		return nil, nil, err
	}
	svc, pool, err := app.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, pool.Close, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) services(ctx context.Context, f *OutputFormatter) (*app.Services, func(), error) {
	svc, closeFn, err := o.Open(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "startup failed", err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	f.VerboseLog("connected, transactional=%v", svc.Store.Transactional())
	return svc, closeFn, nil
}

// economyFail reports err. Economy errors exit with ExitFailure, anything
// else with ExitCommandError.
func economyFail(f *OutputFormatter, err error) error {
	var e *domain.EconomyError
	if errors.As(err, &e) {
		return f.Fail(ExitFailure, string(e.Code), err.Error())
	}
	return f.Fail(ExitCommandError, "ERROR", err.Error())
}
