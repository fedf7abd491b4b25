package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"qafala_backend/internal/db"
	"qafala_backend/internal/domain"
	"qafala_backend/internal/migrations"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = migrations.Apply(ctx, pool)
	require.NoError(t, err)
	return New(pool, true)
}

func createUser(t *testing.T, s *Store) *domain.User {
	t.Helper()
	u := &domain.User{Username: "pg-" + uuid.NewString()[:8]}
	require.NoError(t, s.Users().Create(context.Background(), u))
	return u
}

func TestApplyDeltaIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)

	got, err := s.Users().ApplyDelta(ctx, u.ID, domain.WalletDelta{Dinar: 50, Points: 3, WeeklyPoints: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Wallet.Dinar)

	_, err = s.Users().ApplyDelta(ctx, u.ID, domain.WalletDelta{Dinar: -51})
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	_, err = s.Users().ApplyDelta(ctx, -1, domain.WalletDelta{Dinar: 1})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(r repository.Repos) error {
		if _, err := r.Users().ApplyDelta(ctx, u.ID, domain.WalletDelta{Dinar: 100}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Wallet.Dinar)
}

func TestDecrementStockNeverOversells(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	d := &domain.Drop{
		Name: "pg", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), IsActive: true,
		Items: []domain.DropItem{{Key: "dates", Title: "Dates", Rarity: domain.RarityCommon, PriceDinar: 1, Stock: 3}},
	}
	require.NoError(t, s.Drops().Create(ctx, d))
	itemID := d.Items[0].ID

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sold int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Drops().DecrementStock(ctx, d.ID, itemID, 1); err == nil {
				mu.Lock()
				sold++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, sold)
	left, err := s.Drops().Stock(ctx, d.ID, itemID)
	require.NoError(t, err)
	assert.Zero(t, left)
	_, err = s.Drops().DecrementStock(ctx, d.ID, uuid.New(), 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInventoryStacks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	now := time.Now().UTC()

	desc := domain.ItemDescriptor{Kind: domain.InventoryKindBarter, TypeKey: "Honey_Jar", Icon: "🍯", BarterAllowed: true}
	_, err := s.Inventory().Upsert(ctx, u.ID, desc, 1, now)
	require.NoError(t, err)
	e, err := s.Inventory().Upsert(ctx, u.ID, desc, 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), e.Qty)

	ok, err := s.Inventory().DecrementMatching(ctx, u.ID, domain.InventoryMatch{Field: domain.MatchTypeKey, Value: "honey_jar"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Inventory().DecrementMatching(ctx, u.ID, domain.InventoryMatch{Field: domain.MatchTypeKey, Value: "honey_jar", FoldCase: true}, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Inventory().DecrementMatching(ctx, u.ID, domain.InventoryMatch{Field: domain.MatchIcon, Value: "🍯"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Inventory().Upsert(ctx, u.ID, domain.ItemDescriptor{Kind: domain.InventoryKindBarter, TypeKey: "straße_lamp", BarterAllowed: true}, 1, now)
	require.NoError(t, err)
	ok, err = s.Inventory().DecrementMatching(ctx, u.ID, domain.InventoryMatch{Field: domain.MatchTypeKey, Value: "STRASSE_LAMP", FoldCase: true}, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPurchaseOutcomeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	now := time.Now().UTC()
	d := &domain.Drop{
		Name: "pg", StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), IsActive: true,
		Items: []domain.DropItem{{Key: "honey_jar", Title: "Honey Jar", Rarity: domain.RarityBarter, PriceDinar: 1, Stock: 3}},
	}
	require.NoError(t, s.Drops().Create(ctx, d))
	key, err := s.Drops().ItemKey(ctx, d.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "honey_jar", key)

	after := domain.UserSnapshot{Wallet: domain.Wallet{Dinar: 9}, Points: 4, Level: 1}
	p := &domain.PurchaseLog{
		UserID: u.ID, DropID: d.ID, ItemID: d.Items[0].ID, ItemTitle: "Honey Jar", Qty: 1, CostDinar: 1,
		IdempotencyKey: "k-1", StockLeft: 2, BoughtTotal: 1, UserAfter: &after,
	}
	require.NoError(t, s.Purchases().Create(ctx, p))

	got, err := s.Purchases().GetByIdempotencyKey(ctx, u.ID, "k-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.StockLeft)
	assert.Equal(t, int64(1), got.BoughtTotal)
	require.NotNil(t, got.UserAfter)
	assert.Equal(t, after, *got.UserAfter)
}

func TestIdempotencyReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	now := time.Now().UTC()

	rec := &domain.IdempotencyRecord{UserID: u.ID, Key: "k", Endpoint: "drop_buy:x", CreatedAt: now}
	created, _, err := s.Idempotency().Reserve(ctx, rec, now.Add(-20*time.Minute))
	require.NoError(t, err)
	assert.True(t, created)

	created, existing, err := s.Idempotency().Reserve(ctx, rec, now.Add(-20*time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, existing)
	assert.Equal(t, "drop_buy:x", existing.Endpoint)

	created, _, err = s.Idempotency().Reserve(ctx, rec, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, created, "expired reservation is replaced")
}

func TestPayoutTransitionIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	now := time.Now().UTC()

	season := domain.SeasonAt(now.AddDate(-5, 0, 0))
	_, err := s.Seasons().CreateIfAbsent(ctx, &season)
	require.NoError(t, err)
	p := &domain.WinnerPayout{UserID: u.ID, SeasonID: season.SeasonID, Rank: 1, AmountMinor: 100, Currency: "USD", Status: domain.PayoutAvailable}
	require.NoError(t, s.Payouts().Create(ctx, p))
	assert.ErrorIs(t, s.Payouts().Create(ctx, &domain.WinnerPayout{UserID: u.ID, SeasonID: season.SeasonID, Currency: "USD", Status: domain.PayoutAvailable}), repository.ErrDuplicate)

	got, err := s.Payouts().Transition(ctx, p.ID, u.ID, domain.PayoutAvailable, domain.PayoutClaimed, now)
	require.NoError(t, err)
	require.NotNil(t, got.ClaimedAt)
	_, err = s.Payouts().Transition(ctx, p.ID, u.ID, domain.PayoutAvailable, domain.PayoutClaimed, now)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	_, err = s.Payouts().Transition(ctx, uuid.New(), u.ID, domain.PayoutAvailable, domain.PayoutClaimed, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestJobLockAcquire(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	key := "test::" + uuid.NewString()

	require.NoError(t, s.Locks().Acquire(ctx, &domain.JobLock{Key: key, Owner: "a", CreatedAt: now}, now.Add(-time.Hour)))
	assert.ErrorIs(t, s.Locks().Acquire(ctx, &domain.JobLock{Key: key, Owner: "b", CreatedAt: now}, now.Add(-time.Hour)), repository.ErrDuplicate)
	require.NoError(t, s.Locks().Acquire(ctx, &domain.JobLock{Key: key, Owner: "b", CreatedAt: now}, now.Add(time.Second)))
	require.NoError(t, s.Locks().Release(ctx, key, "b"))
}

func TestWeeklyResetKeepsLaterPoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createUser(t, s)
	_, err := s.Users().ApplyDelta(ctx, u.ID, domain.WalletDelta{Points: 100, WeeklyPoints: 100})
	require.NoError(t, err)

	done := make(chan error, 1)
	err = s.WithTx(ctx, func(r repository.Repos) error {
		scores, err := r.Users().LockWeeklyScores(ctx)
		if err != nil {
			return err
		}
		var mine []domain.User
		for _, sc := range scores {
			if sc.ID == u.ID {
				mine = append(mine, sc)
			}
		}
		require.Len(t, mine, 1)
		assert.Equal(t, int64(100), mine[0].WeeklyPoints)

		// Blocks on the row lock until this transaction commits.
		go func() {
			_, err := s.Users().ApplyDelta(ctx, u.ID, domain.WalletDelta{Points: 50, WeeklyPoints: 50})
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)

		n, err := r.Users().ResetWeeklyPoints(ctx, mine)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), n)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-done)

	got, err := s.Users().GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.WeeklyPoints)
	assert.Equal(t, int64(150), got.Points)
}
