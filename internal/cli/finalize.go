package cli

import (
	"context"
	"fmt"
	"strings"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/jobs"
	"qafala_backend/internal/service"

	"github.com/spf13/cobra"
)

type FinalizeOptions struct {
	*RootOptions
	Force   bool
	Limit   int
	CatchUp bool
}

func NewFinalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FinalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize the weekly leaderboard season",
		Long: `Close the oldest open season: record the winners, create prize payouts,
reset weekly points and open the next season.

Without --force the season must have ended. --catch-up keeps finalizing
until the open season is the current one.

Exit codes:
  0 - season finalized
  1 - refused (season not ended, already running, already finalized)
  2 - command error

Examples:
  economyctl finalize
  economyctl finalize --force --limit 3
  economyctl finalize --catch-up --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFinalize(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "finalize even if the season has not ended")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "number of winners (default: configured value)")
	cmd.Flags().BoolVar(&opts.CatchUp, "catch-up", false, "finalize every ended season")
	cmd.MarkFlagsMutuallyExclusive("force", "catch-up")

	return cmd
}

func runFinalize(ctx context.Context, opts *FinalizeOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)
	if opts.Limit < 0 || opts.Limit > 200 {
		return f.Fail(ExitCommandError, string(domain.CodeInvalidInput), "--limit must be within 0..200")
	}

	svc, closeFn, err := opts.services(ctx, f)
	if err != nil {
		return err
	}
	defer closeFn()

	var results []domain.FinalizeResult
	if opts.CatchUp {
		results, err = svc.Leaderboard.CatchUp(ctx, jobs.MaxCatchUp)
		if err != nil {
			if len(results) == 0 {
				return economyFail(f, err)
			}
			fmt.Fprintf(f.ErrWriter, "catch-up stopped after %d season(s): %v\n", len(results), err)
		}
	} else {
		res, err := svc.Leaderboard.Finalize(ctx, service.FinalizeOptions{Force: opts.Force, Winners: opts.Limit})
		if err != nil {
			return economyFail(f, err)
		}
		results = append(results, *res)
	}

	for i := range results {
		svc.Audit.LogFinalize(ctx, &results[i])
	}
	if len(results) == 0 {
		return f.Success(results, "nothing to finalize")
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "✓ %s finalized: %d winner(s), %d payout(s), %d minor units, next season %s\n",
			r.SeasonID, len(r.Winners), len(r.Payouts), r.PaidMinor, r.NextSeasonID)
		for _, w := range r.Winners {
			fmt.Fprintf(&b, "  #%d %s (user %d) %d pts\n", w.Rank, w.Username, w.UserID, w.Points)
		}
	}
	return f.Success(results, strings.TrimRight(b.String(), "\n"))
}
