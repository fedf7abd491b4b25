package cli

import (
	"context"
	"fmt"

	"qafala_backend/internal/content"

	"github.com/spf13/cobra"
)

type SeedOptions struct {
	*RootOptions
	File  string
	Drops bool
	Check bool
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load catalog items, barter recipes and the prize plan",
		Long: `Upsert the content file into the database. Without --file the embedded
default content is used. Seeding is repeatable; drops are only created with
--drops. --check validates the file without touching the database.`,
		Example: `  economyctl seed
  economyctl seed --file content.yaml --drops
  economyctl seed --file content.yaml --check`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "content YAML file (default: embedded)")
	cmd.Flags().BoolVar(&opts.Drops, "drops", false, "also create the drop templates, opening now")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "validate only")

	return cmd
}

func runSeed(ctx context.Context, opts *SeedOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	c, err := content.Load(opts.File)
	if err != nil {
		return f.Fail(ExitCommandError, "INVALID_CONTENT", err.Error())
	}
	f.VerboseLog("content: %d item(s), %d recipe(s), %d drop template(s)", len(c.Catalog), len(c.Recipes), len(c.Drops))
	if opts.Check {
		return f.Success(map[string]int{
			"catalog_items": len(c.Catalog),
			"recipes":       len(c.Recipes),
			"drops":         len(c.Drops),
		}, "✓ content valid")
	}

	svc, closeFn, err := opts.services(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := c.Seed(ctx, svc.Store, content.SeedOptions{Drops: opts.Drops})
	if err != nil {
		return economyFail(f, err)
	}
	return f.Success(res, fmt.Sprintf("✓ seeded %d item(s), %d recipe(s), prize plan: %v, %d drop(s)",
		res.CatalogItems, res.Recipes, res.PrizePlan, res.Drops))
}
