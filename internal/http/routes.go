package http

import (
	"qafala_backend/internal/config"
	"qafala_backend/internal/http/handlers"
	"qafala_backend/internal/http/middleware"
	"qafala_backend/internal/ws"

	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Handler *handlers.Handler
	Health  handlers.Storage
	Hub     *ws.Hub
}

func RegisterRoutes(r *gin.Engine, cfg *config.Config, deps Deps) {
	h := deps.Handler
	healthHandler := handlers.NewHealthHandler(deps.Health, cfg.Version)
	healthHandler.Limiter = middleware.RateLimiterBackend
	if deps.Hub != nil {
		healthHandler.Subscribers = deps.Hub.Count
	}

	r.Use(middleware.RequestID(), middleware.Metrics())

	// Health checks (no rate limiting)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	// Live stock feed
	r.GET("/ws/stock", ws.HandleStock(deps.Hub, cfg.AllowedOrigin))

	v1 := r.Group("/api/v1")
	v1.Use(middleware.RedisRateLimit(cfg.APIRateLimit, cfg.APIRateWindow))
	registerAPIRoutes(v1, h, cfg)
}

func registerAPIRoutes(api *gin.RouterGroup, h *handlers.Handler, cfg *config.Config) {
	auth := middleware.JWT()

	// Profile
	api.GET("/me", auth, h.Me)
	api.GET("/me/inventory", auth, h.MyInventory)
	api.GET("/me/badges", auth, h.MyBadges)

	// Wallet
	api.GET("/wallet/transactions", auth, h.WalletTransactions)
	api.POST("/wallet/exchange", auth, h.Exchange)

	// Drops
	buyRL := middleware.UserRateLimit("buy", cfg.BuyRateLimit, cfg.BuyRateWindow)
	api.GET("/drops/active", h.ActiveDrops)
	api.POST("/drops/:dropId/buy", auth, buyRL, h.Buy)
	api.GET("/drops/:dropId/purchases", auth, h.DropPurchases)

	// Barter
	barter := api.Group("/barter")
	{
		barter.GET("/recipes", h.BarterRecipes)
		barter.POST("/preview", h.BarterPreview)
		barter.POST("/confirm", auth, h.BarterConfirm)
		barter.POST("/use", auth, h.BarterUse)
		barter.GET("/history", auth, h.BarterHistory)
	}

	// Leaderboard
	lb := api.Group("/leaderboard")
	{
		lb.GET("/weekly", h.WeeklyLeaderboard)
		lb.GET("/me", auth, h.MyRank)
		lb.GET("/seasons", h.Seasons)
		lb.GET("/seasons/:seasonId/winners", h.SeasonWinners)
		lb.GET("/last-winner", h.LastWinner)
	}

	// Rewards
	rewards := api.Group("/rewards", auth)
	{
		rewards.GET("/payouts", h.MyPayouts)
		rewards.POST("/payouts/claim-all", h.ClaimAllPayouts)
		rewards.POST("/payouts/:id/claim", h.ClaimPayout)
	}

	// Admin
	admin := api.Group("/admin", middleware.AdminKey(cfg.AdminKeyHash))
	{
		admin.POST("/wallet/topup", h.AdminTopUp)
		admin.POST("/wallet/adjust", h.AdminAdjust)
		admin.POST("/leaderboard/finalize", h.AdminFinalize)
		admin.GET("/leaderboard/config", h.AdminGetConfig)
		admin.PUT("/leaderboard/config", h.AdminSaveConfig)
		admin.PUT("/prize-plan", h.AdminSavePrizePlan)
		admin.POST("/barter/grant", h.AdminGrantItem)
		admin.POST("/payouts/:id/settle", h.AdminSettlePayout)
		admin.GET("/audit/:userId", h.AdminAuditLogs)
		admin.GET("/stats", h.AdminStats)
	}
}
