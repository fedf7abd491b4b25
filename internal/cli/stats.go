package cli

import (
	"context"
	"fmt"
	"strings"

	"qafala_backend/internal/domain"

	"github.com/spf13/cobra"
)

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show balances in circulation and purchase activity",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runStats(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)
	svc, closeFn, err := opts.services(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	stats, err := svc.Admin.GetStats(ctx)
	if err != nil {
		return economyFail(f, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Users: %d\n", stats.TotalUsers)
	fmt.Fprintf(&b, "Supply: %d dinar, %d usd minor\n", stats.DinarSupply, stats.UsdMinorSupply)
	fmt.Fprintf(&b, "Open payouts: %d (%d minor)\n", stats.OpenPayouts, stats.OpenPayoutsMinor)
	for _, row := range []struct {
		label string
		a     domain.ActivityStats
	}{{"today", stats.Today}, {"7 days", stats.Week}, {"all time", stats.AllTime}} {
		fmt.Fprintf(&b, "  %-8s %d purchase(s), %d unit(s), %d dinar, %d buyer(s), %d barter(s)\n",
			row.label, row.a.Purchases, row.a.UnitsSold, row.a.DinarSpent, row.a.ActiveBuyers, row.a.Barters)
	}
	return f.Success(stats, strings.TrimRight(b.String(), "\n"))
}
