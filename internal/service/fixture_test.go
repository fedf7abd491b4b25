package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

// Wednesday of ISO week 2025-W46.
var t0 = time.Date(2025, 11, 12, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	clock    *fakeClock
	wallet   *WalletService
	inv      *InventoryService
	guard    *IdempotencyGuard
	progress *ProgressService
	purchase *PurchaseEngine
	barter   *BarterEngine
	board    *LeaderboardService
	rewards  *RewardService
	audit    *AuditService
}

var testRules = domain.BarterRules{
	Fallbacks: map[string]string{
		domain.RarityPairKey(domain.RarityBarter, domain.RarityBarter): "mystery_box",
		domain.RarityPairKey(domain.RarityCommon, domain.RarityRare):   "epic_box",
	},
	DefaultResult: "common_box",
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
	t.Helper()
	store := memory.New(opts...)
	clock := &fakeClock{t: t0}
	now := clock.Now

	wallet := NewWalletService(store, 20, now)
	inv := NewInventoryService(store, now)
	guard := NewIdempotencyGuard(store, 20*time.Minute, now)
	progress := NewProgressService(store, now)
	return &fixture{
		ctx:      context.Background(),
		store:    store,
		clock:    clock,
		wallet:   wallet,
		inv:      inv,
		guard:    guard,
		progress: progress,
		purchase: NewPurchaseEngine(store, wallet, inv, guard, progress, PurchaseLimits{}, now),
		barter:   NewBarterEngine(store, wallet, inv, progress, testRules, BarterConfig{XP: 25, AllowFallback: true}, now),
		board:    NewLeaderboardService(store, LeaderboardSettings{DefaultWinners: 10, LockTTL: 2 * time.Hour}, now),
		rewards:  NewRewardService(store, wallet, 20, now),
		audit:    NewAuditService(store, now),
	}
}

// user creates a user and funds it through the ledger.
func (f *fixture) user(t *testing.T, dinar int64) int64 {
	t.Helper()
	u := &domain.User{Username: "player"}
	require.NoError(t, f.store.Users().Create(f.ctx, u))
	if dinar > 0 {
		_, err := f.wallet.TopUp(f.ctx, u.ID, dinar, domain.CurrencyDinar, "seed")
		require.NoError(t, err)
	}
	return u.ID
}

func (f *fixture) get(t *testing.T, userID int64) *domain.User {
	t.Helper()
	u, err := f.store.Users().GetByID(f.ctx, userID)
	require.NoError(t, err)
	return u
}

// drop creates an active drop open around the fixture clock.
func (f *fixture) drop(t *testing.T, items ...domain.DropItem) *domain.Drop {
	t.Helper()
	now := f.clock.Now()
	d := &domain.Drop{
		Name:     "souq",
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(24 * time.Hour),
		IsActive: true,
		Items:    items,
	}
	require.NoError(t, f.store.Drops().Create(f.ctx, d))
	return d
}

func (f *fixture) stock(t *testing.T, d *domain.Drop, i int) int64 {
	t.Helper()
	left, err := f.store.Drops().Stock(f.ctx, d.ID, d.Items[i].ID)
	require.NoError(t, err)
	return left
}

func (f *fixture) requireBalanced(t *testing.T, userID int64) {
	t.Helper()
	rec, err := f.wallet.Reconcile(f.ctx, userID)
	require.NoError(t, err)
	require.True(t, rec.Balanced, "ledger %d/%d vs wallet %+v", rec.LedgerDinar, rec.LedgerUsd, rec.Wallet)
}

func (f *fixture) seedCatalog(t *testing.T) {
	t.Helper()
	items := []domain.CatalogItem{
		{Key: "honey_jar", Title: "Honey Jar", Icon: "🍯", Rarity: domain.RarityBarter, Barter: true, Enabled: true},
		{Key: "nuts_sack", Title: "Nuts Sack", Icon: "🥜", Rarity: domain.RarityBarter, Barter: true, Enabled: true},
		{Key: "dates_basket", Title: "Dates Basket", Icon: "🌴", Rarity: domain.RarityBarter, Barter: true, Enabled: true},
		{Key: "luxury_sweets_box", Title: "Luxury Sweets Box", Icon: "🎁", Rarity: domain.RarityRare, GivesPoints: 50, Enabled: true},
		{Key: "mystery_box", Title: "Mystery Box", Icon: "❓", Rarity: domain.RarityCommon, GivesPoints: 15, Enabled: true},
		{Key: "common_box", Title: "Common Box", Icon: "📦", Rarity: domain.RarityCommon, GivesPoints: 5, Enabled: true},
		{Key: "old_lamp", Title: "Old Lamp", Icon: "🪔", Rarity: domain.RarityCommon, Enabled: true},
		{Key: "silk_roll", Title: "Silk Roll", Icon: "🧵", Rarity: domain.RarityRare, Enabled: true},
		{Key: "retired_box", Title: "Retired Box", Rarity: domain.RarityEpic, Enabled: false},
	}
	for i := range items {
		require.NoError(t, f.store.Catalog().Upsert(f.ctx, &items[i]))
	}
	recipes := []domain.BarterRecipe{
		{InputA: "nuts_sack", InputB: "honey_jar", OutputKey: "luxury_sweets_box"},
		{InputA: "honey_jar", InputB: "dates_basket", OutputKey: "retired_box"},
	}
	for i := range recipes {
		require.NoError(t, f.store.Barter().UpsertRecipe(f.ctx, &recipes[i]))
	}
}

func (f *fixture) grant(t *testing.T, userID int64, key string, qty int64) {
	t.Helper()
	_, err := f.barter.Grant(f.ctx, userID, key, qty)
	require.NoError(t, err)
}

func (f *fixture) holding(t *testing.T, userID int64, key string) int64 {
	t.Helper()
	n, err := f.inv.Count(f.ctx, userID, ItemRef{Key: key})
	require.NoError(t, err)
	return n
}

func ptr[T any](v T) *T { return &v }
