package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday after 2025-W46, a few minutes past the season end.
var afterW46 = time.Date(2025, 11, 17, 0, 5, 0, 0, time.UTC)

func (f *fixture) scorer(t *testing.T, name string, weekly int64) int64 {
	t.Helper()
	u := &domain.User{Username: name}
	require.NoError(t, f.store.Users().Create(f.ctx, u))
	if weekly > 0 {
		_, err := f.store.Users().ApplyDelta(f.ctx, u.ID, domain.WalletDelta{Points: weekly, WeeklyPoints: weekly})
		require.NoError(t, err)
	}
	return u.ID
}

func (f *fixture) plan(t *testing.T, capMinor int64, tiers ...domain.PrizeTier) {
	t.Helper()
	require.NoError(t, f.board.SavePrizePlan(f.ctx, &domain.PrizePlan{Key: "weekly", Currency: "USD", WeeklyCapMinor: capMinor, Tiers: tiers, Active: true}))
}

func TestCurrentSeasonCreatesWeek(t *testing.T) {
	f := newFixture(t)
	s, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-W46", s.SeasonID)
	assert.Equal(t, time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), s.StartAt)
	assert.Equal(t, time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC), s.EndAt)
	assert.False(t, s.Finalized)
}

func TestFinalizeBeforeEnd(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 10)

	_, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	assert.ErrorIs(t, err, domain.ErrSeasonNotEnded)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	a := f.scorer(t, "a", 300)
	b := f.scorer(t, "b", 200)
	c := f.scorer(t, "c", 100)
	f.scorer(t, "idle", 0)
	f.plan(t, 10000,
		domain.PrizeTier{MinRank: 1, MaxRank: 1, AmountMinor: 5000},
		domain.PrizeTier{MinRank: 2, MaxRank: 3, AmountMinor: 1000},
	)
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)

	f.clock.Set(afterW46)
	res, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "2025-W46", res.SeasonID)
	require.Len(t, res.Winners, 3)
	assert.Equal(t, []int64{a, b, c}, []int64{res.Winners[0].UserID, res.Winners[1].UserID, res.Winners[2].UserID})
	assert.Equal(t, 3, res.Winners[2].Rank)
	require.Len(t, res.Payouts, 3)
	assert.Equal(t, int64(7000), res.PaidMinor)
	assert.Equal(t, int64(3), res.UsersReset)
	assert.Equal(t, "2025-W47", res.NextSeasonID)

	for _, id := range []int64{a, b, c} {
		u := f.get(t, id)
		assert.Zero(t, u.WeeklyPoints)
		assert.NotZero(t, u.Points, "lifetime points survive the reset")
	}

	closed, err := f.store.Seasons().Get(f.ctx, "2025-W46")
	require.NoError(t, err)
	assert.True(t, closed.Finalized)
	assert.Len(t, closed.Winners, 3)

	current, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-W47", current.SeasonID)

	payouts, err := f.rewards.List(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.PayoutAvailable, payouts[0].Status)
	assert.Equal(t, int64(5000), payouts[0].AmountMinor)

	_, err = f.board.Finalize(f.ctx, FinalizeOptions{})
	assert.ErrorIs(t, err, domain.ErrSeasonNotEnded)
	all, err := f.board.SeasonPayouts(f.ctx, "2025-W46")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFinalizeCapStopsPayouts(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 300)
	f.scorer(t, "b", 200)
	f.scorer(t, "c", 100)
	f.plan(t, 4000,
		domain.PrizeTier{MinRank: 1, MaxRank: 1, AmountMinor: 5000},
		domain.PrizeTier{MinRank: 2, MaxRank: 2, AmountMinor: 3000},
	)
	_, err := f.board.SaveConfig(f.ctx, 2)
	require.NoError(t, err)
	_, err = f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)

	f.clock.Set(afterW46)
	res, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	require.NoError(t, err)

	assert.Len(t, res.Winners, 2)
	assert.Empty(t, res.Payouts)
	assert.Zero(t, res.PaidMinor)
}

func TestAllocatePrizes(t *testing.T) {
	plan := &domain.PrizePlan{
		Currency:       "USD",
		WeeklyCapMinor: 8000,
		Tiers: []domain.PrizeTier{
			{MinRank: 1, MaxRank: 1, AmountMinor: 5000},
			{MinRank: 2, MaxRank: 2, AmountMinor: 3000},
			{MinRank: 3, MaxRank: 10, AmountMinor: 500},
		},
	}
	winners := []domain.SeasonWinner{{UserID: 1, Rank: 1}, {UserID: 2, Rank: 2}, {UserID: 3, Rank: 3}, {UserID: 4, Rank: 4}}

	got := AllocatePrizes(plan, "2025-W46", winners, t0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].UserID)
	assert.Equal(t, int64(2), got[1].UserID)
	assert.Equal(t, "USD", got[0].Currency)

	assert.Nil(t, AllocatePrizes(nil, "2025-W46", winners, t0))

	gap := &domain.PrizePlan{WeeklyCapMinor: 1000, Tiers: []domain.PrizeTier{{MinRank: 2, MaxRank: 2, AmountMinor: 700}}}
	got = AllocatePrizes(gap, "2025-W46", winners, t0)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Rank)
}

func TestFinalizeForce(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 10)

	res, err := f.board.Finalize(f.ctx, FinalizeOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, "2025-W46", res.SeasonID)
	assert.Equal(t, "2025-W47", res.NextSeasonID)
}

func TestFinalizeForceTwiceInOneWeek(t *testing.T) {
	f := newFixture(t)
	a := f.scorer(t, "a", 10)

	_, err := f.board.Finalize(f.ctx, FinalizeOptions{Force: true})
	require.NoError(t, err)
	_, err = f.store.Users().ApplyDelta(f.ctx, a, domain.WalletDelta{Points: 7, WeeklyPoints: 7})
	require.NoError(t, err)

	_, err = f.board.Finalize(f.ctx, FinalizeOptions{Force: true})
	require.ErrorIs(t, err, domain.ErrSeasonAlreadyFinalized)

	assert.Equal(t, int64(7), f.get(t, a).WeeklyPoints, "points of the next week are kept")
	next, err := f.store.Seasons().Get(f.ctx, "2025-W47")
	require.NoError(t, err)
	assert.False(t, next.Finalized)
	history, err := f.board.History(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2025-W46", history[0].SeasonID)

	// The week that was opened early is finalized on schedule.
	f.clock.Set(time.Date(2025, 11, 24, 0, 5, 0, 0, time.UTC))
	res, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2025-W47", res.SeasonID)
	require.Len(t, res.Winners, 1)
	assert.Equal(t, int64(7), res.Winners[0].Points)
}

func TestFinalizeKeepsPointsEarnedDuringRun(t *testing.T) {
	f := newFixture(t, memory.WithoutTransactions())
	a := f.scorer(t, "a", 300)
	b := f.scorer(t, "b", 0)
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	f.clock.Set(afterW46)

	// Purchases land after the ranking snapshot and before the reset.
	var once sync.Once
	f.store.SetHook(func(op string) error {
		if op != "users.ResetWeeklyPoints" {
			return nil
		}
		once.Do(func() {
			for _, id := range []int64{a, b} {
				_, err := f.store.Users().ApplyDelta(f.ctx, id, domain.WalletDelta{Points: 50, WeeklyPoints: 50})
				require.NoError(t, err)
			}
		})
		return nil
	})
	res, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	require.NoError(t, err)
	f.store.SetHook(nil)

	require.Len(t, res.Winners, 1)
	assert.Equal(t, int64(300), res.Winners[0].Points)
	assert.Equal(t, int64(1), res.UsersReset)
	assert.Equal(t, int64(50), f.get(t, a).WeeklyPoints)
	assert.Equal(t, int64(50), f.get(t, b).WeeklyPoints)
	assert.Equal(t, int64(350), f.get(t, a).Points)
}

func TestFinalizeLockHeld(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 10)
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	f.clock.Set(afterW46)

	other := &domain.JobLock{Key: domain.FinalizeLockKey("2025-W46"), Owner: "other-node", CreatedAt: afterW46}
	require.NoError(t, f.store.Locks().Acquire(f.ctx, other, afterW46.Add(-2*time.Hour)))

	_, err = f.board.Finalize(f.ctx, FinalizeOptions{})
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)
	s, err := f.store.Seasons().Get(f.ctx, "2025-W46")
	require.NoError(t, err)
	assert.False(t, s.Finalized)

	f.clock.Advance(2*time.Hour + time.Second)
	_, err = f.board.Finalize(f.ctx, FinalizeOptions{})
	assert.NoError(t, err, "a stale lock is taken over")
}

func TestFinalizeConcurrent(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 300)
	f.plan(t, 10000, domain.PrizeTier{MinRank: 1, MaxRank: 1, AmountMinor: 5000})
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	f.clock.Set(afterW46)

	const workers = 4
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.board.Finalize(f.ctx, FinalizeOptions{})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrAlreadyRunning) || errors.Is(err, domain.ErrSeasonNotEnded), "unexpected %v", err)
	}
	assert.Equal(t, 1, ok)

	payouts, err := f.board.SeasonPayouts(f.ctx, "2025-W46")
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestFinalizeFailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 300)
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	f.clock.Set(afterW46)

	f.store.SetHook(func(op string) error {
		if op == "users.ResetWeeklyPoints" {
			return errors.New("statement timeout")
		}
		return nil
	})
	_, err = f.board.Finalize(f.ctx, FinalizeOptions{})
	require.Error(t, err)
	f.store.SetHook(nil)

	s, err := f.store.Seasons().Get(f.ctx, "2025-W46")
	require.NoError(t, err)
	assert.False(t, s.Finalized)

	res, err := f.board.Finalize(f.ctx, FinalizeOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Winners, 1)
}

func TestCatchUp(t *testing.T) {
	f := newFixture(t)
	f.scorer(t, "a", 30)
	_, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)

	f.clock.Set(time.Date(2025, 12, 3, 9, 0, 0, 0, time.UTC))
	done, err := f.board.CatchUp(f.ctx, 8)
	require.NoError(t, err)

	require.Len(t, done, 3)
	assert.Equal(t, "2025-W46", done[0].SeasonID)
	assert.Len(t, done[0].Winners, 1)
	assert.Equal(t, "2025-W48", done[2].SeasonID)
	assert.Empty(t, done[1].Winners, "points were reset by the first run")

	current, err := f.board.CurrentSeason(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-W49", current.SeasonID)

	history, err := f.board.History(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "2025-W48", history[0].SeasonID)
}

func TestTopAndRank(t *testing.T) {
	f := newFixture(t)
	a := f.scorer(t, "a", 50)
	b := f.scorer(t, "b", 80)
	c := f.scorer(t, "c", 50)
	idle := f.scorer(t, "idle", 0)

	top, err := f.board.Top(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, []int64{b, a, c}, []int64{top[0].UserID, top[1].UserID, top[2].UserID})

	rank, err := f.board.Rank(f.ctx, c)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rank.Rank, "ties share a rank")
	assert.Equal(t, "2025-W46", rank.SeasonID)

	rank, err = f.board.Rank(f.ctx, idle)
	require.NoError(t, err)
	assert.Zero(t, rank.Rank)
}

func TestLeaderboardConfig(t *testing.T) {
	f := newFixture(t)

	cfg, err := f.board.Config(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.NumberOfWinners)

	_, err = f.board.SaveConfig(f.ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.board.SaveConfig(f.ctx, 201)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.board.SaveConfig(f.ctx, 3)
	require.NoError(t, err)
	cfg, err = f.board.Config(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumberOfWinners)
}
