// Package app assembles the economy services from configuration. The HTTP
// server and the operator CLI build the same graph through it.
package app

import (
	"context"
	"fmt"

	"qafala_backend/internal/config"
	"qafala_backend/internal/content"
	"qafala_backend/internal/db"
	"qafala_backend/internal/http/handlers"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"
	"qafala_backend/internal/repository/postgres"
	"qafala_backend/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Services struct {
	Store       repository.Store
	Content     *content.Content
	Wallet      *service.WalletService
	Inventory   *service.InventoryService
	Idempotency *service.IdempotencyGuard
	Progress    *service.ProgressService
	Purchases   *service.PurchaseEngine
	Barter      *service.BarterEngine
	Leaderboard *service.LeaderboardService
	Rewards     *service.RewardService
	Audit       *service.AuditService
	Admin       *service.AdminService
}

// New builds every service on top of store. The barter fallback table comes
// from c.
func New(cfg *config.Config, store repository.Store, c *content.Content, clock service.Clock) *Services {
	wallet := service.NewWalletService(store, cfg.USDToDinarRate, clock)
	inv := service.NewInventoryService(store, clock)
	guard := service.NewIdempotencyGuard(store, cfg.IdempotencyTTL, clock)
	progress := service.NewProgressService(store, clock)

	return &Services{
		Store:       store,
		Content:     c,
		Wallet:      wallet,
		Inventory:   inv,
		Idempotency: guard,
		Progress:    progress,
		Purchases: service.NewPurchaseEngine(store, wallet, inv, guard, progress, service.PurchaseLimits{
			PerDropPerUser: cfg.PerDropPerUser,
			PerItemWindow:  cfg.PerItemWindow,
		}, clock),
		Barter: service.NewBarterEngine(store, wallet, inv, progress, c.Barter, service.BarterConfig{
			XP:            cfg.BarterXP,
			AllowFallback: cfg.BarterAllowFallback,
		}, clock),
		Leaderboard: service.NewLeaderboardService(store, service.LeaderboardSettings{
			DefaultWinners: cfg.DefaultWinners,
			LockTTL:        cfg.JobLockTTL,
		}, clock),
		Rewards: service.NewRewardService(store, wallet, cfg.GCPerUSD, clock),
		Audit:   service.NewAuditService(store, clock),
		Admin:   service.NewAdminService(store, clock),
	}
}

// Open connects to Postgres, loads content and builds the services. The
// caller closes the returned pool.
func Open(ctx context.Context, cfg *config.Config) (*Services, *pgxpool.Pool, error) {
	c, err := content.Load(cfg.ContentFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load content: %w", err)
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(pool, cfg.UseTransactions)
	if !store.Transactional() {
		logger.Warn("USE_TRANSACTIONS=false: multi-step operations run with compensation instead of transactions")
	}
	return New(cfg, store, c, nil), pool, nil
}

// Handler exposes the services to the HTTP layer.
func (s *Services) Handler() *handlers.Handler {
	return &handlers.Handler{
		Wallet:      s.Wallet,
		Inventory:   s.Inventory,
		Progress:    s.Progress,
		Purchases:   s.Purchases,
		Barter:      s.Barter,
		Leaderboard: s.Leaderboard,
		Rewards:     s.Rewards,
		Audit:       s.Audit,
		Admin:       s.Admin,
	}
}
