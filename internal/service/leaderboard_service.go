package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

const maxWinners = 200

// LeaderboardSettings are the deployment defaults of the leaderboard.
type LeaderboardSettings struct {
	DefaultWinners int
	LockTTL        time.Duration
}

// FinalizeOptions control one finalize run.
type FinalizeOptions struct {
	// Force finalizes a season that has not ended yet.
	Force bool
	// Winners overrides the configured number of winners when positive.
	Winners int
}

// LeaderboardService ranks users by weekly points and closes seasons.
type LeaderboardService struct {
	store    repository.Store
	settings LeaderboardSettings
	owner    string
	now      Clock
}

func NewLeaderboardService(store repository.Store, settings LeaderboardSettings, clock Clock) *LeaderboardService {
	host, _ := os.Hostname()
	return &LeaderboardService{
		store:    store,
		settings: settings,
		owner:    fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8]),
		now:      clockOrDefault(clock),
	}
}

// CurrentSeason returns the oldest season that is still open, creating the
// season covering now when none exists.
func (s *LeaderboardService) CurrentSeason(ctx context.Context) (*domain.Season, error) {
	season, err := s.store.Seasons().OldestOpen(ctx)
	if err == nil {
		return season, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	fresh := domain.SeasonAt(s.now())
	if _, err := s.store.Seasons().CreateIfAbsent(ctx, &fresh); err != nil {
		return nil, err
	}
	return s.store.Seasons().OldestOpen(ctx)
}

// Config returns the stored configuration or the deployment default.
func (s *LeaderboardService) Config(ctx context.Context) (*domain.LeaderboardConfig, error) {
	cfg, err := s.store.Seasons().GetConfig(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.LeaderboardConfig{NumberOfWinners: s.settings.DefaultWinners}, nil
	}
	return cfg, err
}

// SaveConfig validates and stores the number of winners.
func (s *LeaderboardService) SaveConfig(ctx context.Context, winners int) (*domain.LeaderboardConfig, error) {
	cfg := &domain.LeaderboardConfig{NumberOfWinners: winners, UpdatedAt: s.now()}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: number of winners must be between 1 and %d", err, maxWinners)
	}
	if err := s.store.Seasons().SaveConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PrizePlan returns the active plan.
func (s *LeaderboardService) PrizePlan(ctx context.Context) (*domain.PrizePlan, error) {
	return s.store.Payouts().ActivePlan(ctx)
}

// SavePrizePlan validates and stores a plan.
func (s *LeaderboardService) SavePrizePlan(ctx context.Context, p *domain.PrizePlan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.now()
	return s.store.WithTx(ctx, func(r repository.Repos) error {
		return r.Payouts().UpsertPlan(ctx, p)
	})
}

// Top returns the live weekly ranking.
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > maxWinners {
		limit = 50
	}
	users, err := s.store.Users().TopByWeeklyPoints(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.LeaderboardEntry, len(users))
	for i, u := range users {
		out[i] = domain.LeaderboardEntry{Rank: i + 1, UserID: u.ID, Username: u.Username, WeeklyPoints: u.WeeklyPoints, Level: u.Level}
	}
	return out, nil
}

// Rank returns the caller's live position. Users without weekly points
// have rank zero.
func (s *LeaderboardService) Rank(ctx context.Context, userID int64) (*domain.RankInfo, error) {
	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	season, err := s.CurrentSeason(ctx)
	if err != nil {
		return nil, err
	}
	info := &domain.RankInfo{SeasonID: season.SeasonID, WeeklyPoints: u.WeeklyPoints}
	if u.WeeklyPoints <= 0 {
		return info, nil
	}
	above, err := s.store.Users().CountAboveWeeklyPoints(ctx, u.WeeklyPoints)
	if err != nil {
		return nil, err
	}
	info.Rank = above + 1
	return info, nil
}

// History lists finalized seasons, newest first.
func (s *LeaderboardService) History(ctx context.Context, limit int) ([]domain.Season, error) {
	if limit <= 0 || limit > 52 {
		limit = 10
	}
	return s.store.Seasons().ListFinalized(ctx, limit)
}

// Season returns one season with its recorded winners.
func (s *LeaderboardService) Season(ctx context.Context, seasonID string) (*domain.Season, error) {
	return s.store.Seasons().Get(ctx, seasonID)
}

// LastWinner returns the rank 1 winner of the most recently finalized
// season. It returns repository.ErrNotFound when no finalized season had
// a winner.
func (s *LeaderboardService) LastWinner(ctx context.Context) (*domain.SeasonWinner, *domain.Season, error) {
	seasons, err := s.store.Seasons().ListFinalized(ctx, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(seasons) == 0 || len(seasons[0].Winners) == 0 {
		return nil, nil, repository.ErrNotFound
	}
	season := seasons[0]
	return &season.Winners[0], &season, nil
}

// SeasonPayouts lists the payouts created for one season.
func (s *LeaderboardService) SeasonPayouts(ctx context.Context, seasonID string) ([]domain.WinnerPayout, error) {
	return s.store.Payouts().ListBySeason(ctx, seasonID)
}

func (s *LeaderboardService) winnersFor(ctx context.Context, opts FinalizeOptions) (int, error) {
	n := opts.Winners
	if n <= 0 {
		cfg, err := s.Config(ctx)
		if err != nil {
			return 0, err
		}
		n = cfg.NumberOfWinners
	}
	if n < 1 {
		n = 1
	}
	if n > maxWinners {
		n = maxWinners
	}
	return n, nil
}

// Finalize closes a season: the oldest open one when it has already ended,
// otherwise the ISO week covering now. It ranks the top users, records
// the winners, creates prize payouts under the plan's cap, resets weekly
// points and opens the next season. A lock row keeps concurrent runs out.
func (s *LeaderboardService) Finalize(ctx context.Context, opts FinalizeOptions) (*domain.FinalizeResult, error) {
	res, err := s.finalize(ctx, opts)
	metrics.FinalizeRuns.WithLabelValues(metrics.Result(err)).Inc()
	return res, err
}

func (s *LeaderboardService) finalize(ctx context.Context, opts FinalizeOptions) (*domain.FinalizeResult, error) {
	now := s.now()
	season, err := s.targetSeason(ctx, now)
	if err != nil {
		return nil, err
	}
	if season.StartAt.After(now) || (!season.Ended(now) && !opts.Force) {
		return nil, domain.ErrSeasonNotEnded
	}
	ctx = logger.ContextWith(ctx, "season_id", season.SeasonID)

	n, err := s.winnersFor(ctx, opts)
	if err != nil {
		return nil, err
	}

	lock := &domain.JobLock{Key: domain.FinalizeLockKey(season.SeasonID), Owner: s.owner, CreatedAt: now}
	if err := s.store.Locks().Acquire(ctx, lock, now.Add(-s.settings.LockTTL)); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrAlreadyRunning
		}
		return nil, fmt.Errorf("acquire finalize lock: %w", err)
	}

	res := &domain.FinalizeResult{SeasonID: season.SeasonID, Forced: opts.Force}
	err = s.store.WithTx(ctx, func(r repository.Repos) error {
		scores, err := r.Users().LockWeeklyScores(ctx)
		if err != nil {
			return err
		}
		top := scores[:min(n, len(scores))]
		winners := make([]domain.SeasonWinner, len(top))
		for i, u := range top {
			winners[i] = domain.SeasonWinner{UserID: u.ID, Username: u.Username, Points: u.WeeklyPoints, Rank: i + 1}
		}

		if err := r.Seasons().MarkFinalized(ctx, season.SeasonID, winners, now); err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return domain.ErrSeasonAlreadyFinalized
			}
			return err
		}
		res.Winners = winners

		plan, err := r.Payouts().ActivePlan(ctx)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			plan = nil
		case err != nil:
			return err
		}
		for _, p := range AllocatePrizes(plan, season.SeasonID, winners, now) {
			if err := r.Payouts().Create(ctx, &p); err != nil {
				return fmt.Errorf("create payout for user %d: %w", p.UserID, err)
			}
			res.Payouts = append(res.Payouts, p)
			res.PaidMinor += p.AmountMinor
		}

		reset, err := r.Users().ResetWeeklyPoints(ctx, scores)
		if err != nil {
			return err
		}
		res.UsersReset = reset

		next := season.Next()
		if _, err := r.Seasons().CreateIfAbsent(ctx, &next); err != nil {
			return err
		}
		res.NextSeasonID = next.SeasonID
		return nil
	})
	if err != nil {
		if rerr := s.store.Locks().Release(context.WithoutCancel(ctx), lock.Key, lock.Owner); rerr != nil {
			logger.WithContext(ctx).Warn("failed to release finalize lock", "error", rerr)
		}
		return nil, err
	}

	metrics.PayoutsMinor.Add(float64(res.PaidMinor))
	logger.WithContext(ctx).Info("season finalized",
		"winners", len(res.Winners),
		"payouts", len(res.Payouts),
		"paid_minor", res.PaidMinor,
		"users_reset", res.UsersReset,
		"next_season", res.NextSeasonID,
		"forced", opts.Force,
	)
	return res, nil
}

// targetSeason returns the oldest open season when it has ended, and the
// season covering now otherwise.
func (s *LeaderboardService) targetSeason(ctx context.Context, now time.Time) (*domain.Season, error) {
	oldest, err := s.store.Seasons().OldestOpen(ctx)
	switch {
	case err == nil && oldest.Ended(now):
		return oldest, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	week := domain.SeasonAt(now)
	if _, err := s.store.Seasons().CreateIfAbsent(ctx, &week); err != nil {
		return nil, err
	}
	season, err := s.store.Seasons().Get(ctx, week.SeasonID)
	if err != nil {
		return nil, err
	}
	if season.Finalized {
		return nil, domain.ErrSeasonAlreadyFinalized
	}
	return season, nil
}

// CatchUp finalizes ended seasons one after another until the oldest open
// season is still running, at most maxRuns times.
func (s *LeaderboardService) CatchUp(ctx context.Context, maxRuns int) ([]domain.FinalizeResult, error) {
	var done []domain.FinalizeResult
	for i := 0; i < maxRuns; i++ {
		res, err := s.Finalize(ctx, FinalizeOptions{})
		if errors.Is(err, domain.ErrSeasonNotEnded) {
			return done, nil
		}
		if err != nil {
			return done, err
		}
		done = append(done, *res)
	}
	return done, nil
}

// PurgeLocks deletes job locks older than the lock TTL.
func (s *LeaderboardService) PurgeLocks(ctx context.Context) (int64, error) {
	return s.store.Locks().PurgeExpired(ctx, s.now().Add(-s.settings.LockTTL))
}

// AllocatePrizes pays winners in rank order from the plan's tiers. The
// first winner whose prize would exceed the weekly cap stops the payout
// run; nobody after it is paid.
func AllocatePrizes(plan *domain.PrizePlan, seasonID string, winners []domain.SeasonWinner, at time.Time) []domain.WinnerPayout {
	if plan == nil {
		return nil
	}
	var (
		spent int64
		out   []domain.WinnerPayout
	)
	for _, w := range winners {
		tier, ok := plan.TierFor(w.Rank)
		if !ok {
			continue
		}
		if spent+tier.AmountMinor > plan.WeeklyCapMinor {
			break
		}
		spent += tier.AmountMinor
		out = append(out, domain.WinnerPayout{
			ID:          uuid.New(),
			UserID:      w.UserID,
			SeasonID:    seasonID,
			Rank:        w.Rank,
			AmountMinor: tier.AmountMinor,
			Currency:    plan.Currency,
			Title:       fmt.Sprintf("Weekly prize, rank %d", w.Rank),
			Status:      domain.PayoutAvailable,
			CreatedAt:   at,
		})
	}
	return out
}
