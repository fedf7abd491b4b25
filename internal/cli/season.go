package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qafala_backend/internal/domain"

	"github.com/spf13/cobra"
)

type SeasonOptions struct {
	*RootOptions
	Top     int
	History int
}

// SeasonReport is the JSON payload of the season command.
type SeasonReport struct {
	Current domain.Season             `json:"current"`
	Winners int                       `json:"number_of_winners"`
	Plan    *domain.PrizePlan         `json:"prize_plan,omitempty"`
	Top     []domain.LeaderboardEntry `json:"top"`
	History []domain.Season           `json:"history,omitempty"`
}

func NewSeasonCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeasonOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "season",
		Short: "Show the open season, its live ranking and past seasons",
		Example: `  economyctl season
  economyctl season --top 20 --history 4`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeason(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Top, "top", 10, "number of ranked users to show")
	cmd.Flags().IntVar(&opts.History, "history", 0, "number of finalized seasons to list")

	return cmd
}

func runSeason(ctx context.Context, opts *SeasonOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)
	svc, closeFn, err := opts.services(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	lb := svc.Leaderboard
	season, err := lb.CurrentSeason(ctx)
	if err != nil {
		return economyFail(f, err)
	}
	cfg, err := lb.Config(ctx)
	if err != nil {
		return economyFail(f, err)
	}
	top, err := lb.Top(ctx, opts.Top)
	if err != nil {
		return economyFail(f, err)
	}
	report := SeasonReport{Current: *season, Winners: cfg.NumberOfWinners, Top: top}
	if plan, err := lb.PrizePlan(ctx); err == nil {
		report.Plan = plan
	}
	if opts.History > 0 {
		if report.History, err = lb.History(ctx, opts.History); err != nil {
			return economyFail(f, err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Season %s  %s → %s", season.SeasonID, season.StartAt.Format(time.DateOnly), season.EndAt.Format(time.DateOnly))
	if season.Finalized {
		b.WriteString("  (finalized)")
	}
	fmt.Fprintf(&b, "\nWinners: %d", cfg.NumberOfWinners)
	if report.Plan != nil {
		fmt.Fprintf(&b, "  Prize plan: %s, cap %d %s", report.Plan.Key, report.Plan.WeeklyCapMinor, report.Plan.Currency)
	}
	if len(top) == 0 {
		b.WriteString("\nNo ranked users yet")
	}
	for _, e := range top {
		fmt.Fprintf(&b, "\n  #%d %s (user %d) %d pts", e.Rank, e.Username, e.UserID, e.WeeklyPoints)
	}
	for _, s := range report.History {
		fmt.Fprintf(&b, "\n%s: %d winner(s)", s.SeasonID, len(s.Winners))
	}
	return f.Success(report, b.String())
}
