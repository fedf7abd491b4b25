package cli

import (
	"context"
	"strings"

	"qafala_backend/internal/config"
	"qafala_backend/internal/db"
	"qafala_backend/internal/migrations"

	"github.com/spf13/cobra"
)

type MigrateOptions struct {
	*RootOptions
	List bool
}

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply pending schema migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.List, "list", false, "list embedded migrations without applying")

	return cmd
}

func runMigrate(ctx context.Context, opts *MigrateOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	if opts.List {
		names, err := migrations.Names()
		if err != nil {
			return f.Fail(ExitCommandError, "ERROR", err.Error())
		}
		return f.Success(names, strings.Join(names, "\n"))
	}

	cfg, err := config.LoadE()
	if err != nil {
		return f.Fail(ExitCommandError, "CONFIG", err.Error())
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, 2)
	if err != nil {
		return f.Fail(ExitCommandError, "DB", err.Error())
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		return f.Fail(ExitCommandError, "MIGRATION", err.Error())
	}
	if len(applied) == 0 {
		return f.Success(applied, "schema is up to date")
	}
	return f.Success(applied, "applied "+strings.Join(applied, ", "))
}
