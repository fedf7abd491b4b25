package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"qafala_backend/internal/config"
	"qafala_backend/internal/content"
	"qafala_backend/internal/domain"
	apihttp "qafala_backend/internal/http"
	"qafala_backend/internal/http/handlers"
	"qafala_backend/internal/http/middleware"
	"qafala_backend/internal/repository/memory"
	"qafala_backend/internal/service"
	"qafala_backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "open-sesame"

// Wednesday of ISO week 2025-W46.
var t0 = time.Date(2025, 11, 12, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

type env struct {
	t      *testing.T
	router *gin.Engine
	store  *memory.Store
	drop   domain.Drop
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newEnv(t *testing.T) *env {
	t.Helper()
	require.NoError(t, service.InitJWT("handler-secret"))

	ctx := context.Background()
	store := memory.New()
	clk := &clock{t: t0}
	now := clk.Now

	c, err := content.Load("")
	require.NoError(t, err)
	_, err = c.Seed(ctx, store, content.SeedOptions{Drops: true, Now: t0.Add(-time.Hour)})
	require.NoError(t, err)

	wallet := service.NewWalletService(store, 20, now)
	inv := service.NewInventoryService(store, now)
	guard := service.NewIdempotencyGuard(store, 20*time.Minute, now)
	progress := service.NewProgressService(store, now)
	purchases := service.NewPurchaseEngine(store, wallet, inv, guard, progress, service.PurchaseLimits{PerDropPerUser: 5, PerItemWindow: time.Minute}, now)
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	purchases.SetNotifier(hub)

	h := &handlers.Handler{
		Wallet:      wallet,
		Inventory:   inv,
		Progress:    progress,
		Purchases:   purchases,
		Barter:      service.NewBarterEngine(store, wallet, inv, progress, c.Barter, service.BarterConfig{XP: 25, AllowFallback: true}, now),
		Leaderboard: service.NewLeaderboardService(store, service.LeaderboardSettings{DefaultWinners: 10, LockTTL: 2 * time.Hour}, now),
		Rewards:     service.NewRewardService(store, wallet, 20, now),
		Audit:       service.NewAuditService(store, now),
		Admin:       service.NewAdminService(store, now),
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminKey), bcrypt.MinCost)
	require.NoError(t, err)
	cfg := &config.Config{
		Version:       "test",
		AdminKeyHash:  string(hash),
		APIRateLimit:  10000,
		APIRateWindow: time.Minute,
		BuyRateLimit:  10000,
		BuyRateWindow: time.Minute,
	}

	r := gin.New()
	apihttp.RegisterRoutes(r, cfg, apihttp.Deps{Handler: h, Health: store, Hub: hub})

	drops, err := purchases.ActiveDrops(ctx)
	require.NoError(t, err)
	require.Len(t, drops, 1)

	return &env{t: t, router: r, store: store, drop: drops[0]}
}

func (e *env) user(dinar int64) (int64, string) {
	e.t.Helper()
	u := &domain.User{Username: "trader"}
	require.NoError(e.t, e.store.Users().Create(context.Background(), u))
	if dinar > 0 {
		w := e.do(http.MethodPost, "/api/v1/admin/wallet/topup", "", map[string]string{middleware.AdminKeyHeader: adminKey},
			domain.AdminCreditRequest{UserID: u.ID, Amount: dinar})
		require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	}
	token, err := service.GenerateJWT(u.ID, time.Hour)
	require.NoError(e.t, err)
	return u.ID, token
}

func (e *env) item(key string) domain.DropItem {
	e.t.Helper()
	for _, it := range e.drop.Items {
		if it.Key == key {
			return it
		}
	}
	e.t.Fatalf("drop has no item %q", key)
	return domain.DropItem{}
}

func (e *env) do(method, path, token string, headers map[string]string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) buy(token, key string, itemKey string, qty int64) *httptest.ResponseRecorder {
	e.t.Helper()
	headers := map[string]string{}
	if key != "" {
		headers[handlers.IdempotencyKeyHeader] = key
	}
	return e.do(http.MethodPost, "/api/v1/drops/"+e.drop.ID.String()+"/buy", token, headers,
		domain.BuyRequest{ItemID: e.item(itemKey).ID.String(), Qty: qty})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[struct {
		Code string `json:"code"`
	}](t, w).Code
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health", "", nil, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/healthz", "", nil, nil).Code)
	w := e.do(http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[handlers.HealthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "transactional", health.Checks["units_of_work"])
	assert.Equal(t, "local", health.Checks["rate_limiter"])
	assert.Equal(t, "0", health.Checks["stock_subscribers"])
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/me", "", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/api/v1/admin/wallet/topup", "", nil, nil).Code)
}

func TestBuy(t *testing.T) {
	e := newEnv(t)
	_, token := e.user(100)

	w := e.buy(token, "", "honey_jar", 2)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[domain.PurchaseResult](t, w)
	assert.Equal(t, int64(60), res.User.Wallet.Dinar)
	assert.Equal(t, int64(20), res.User.WeeklyPoints)
	assert.Equal(t, int64(18), res.StockLeft)
	assert.Equal(t, int64(2), res.InventoryDelta.Qty)

	w = e.do(http.MethodGet, "/api/v1/me/inventory", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	inv := decode[struct {
		Items []domain.InventoryEntry `json:"items"`
	}](t, w)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, int64(2), inv.Items[0].Qty)

	w = e.do(http.MethodGet, "/api/v1/drops/"+e.drop.ID.String()+"/purchases", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[struct {
		Purchases []domain.PurchaseLog `json:"purchases"`
	}](t, w)
	assert.Len(t, logs.Purchases, 1)

	w = e.do(http.MethodGet, "/api/v1/wallet/transactions", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[struct {
		Transactions []domain.WalletTransaction `json:"transactions"`
	}](t, w)
	assert.Len(t, txs.Transactions, 2)
}

func TestBuyErrors(t *testing.T) {
	e := newEnv(t)
	_, poor := e.user(5)

	w := e.buy(poor, "", "honey_jar", 1)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errorCode(t, w))

	_, rich := e.user(1000)
	w = e.buy(rich, "", "golden_falcon", 3)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "OUT_OF_STOCK", errorCode(t, w))

	w = e.do(http.MethodPost, "/api/v1/drops/not-a-uuid/buy", rich, nil, domain.BuyRequest{ItemID: e.item("honey_jar").ID.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/api/v1/drops/"+e.drop.ID.String()+"/buy", rich, nil, map[string]any{"qty": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuyIsIdempotent(t *testing.T) {
	e := newEnv(t)
	_, token := e.user(100)

	first := e.buy(token, "req-1", "honey_jar", 1)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := e.buy(token, "req-1", "honey_jar", 1)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	a := decode[domain.PurchaseResult](t, first)
	b := decode[domain.PurchaseResult](t, second)
	assert.Equal(t, a.PurchaseID, b.PurchaseID)
	assert.True(t, b.Replayed)

	w := e.do(http.MethodGet, "/api/v1/me", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[service.Profile](t, w)
	assert.Equal(t, int64(80), p.User.Wallet.Dinar)
}

func TestBarter(t *testing.T) {
	e := newEnv(t)
	uid, token := e.user(0)

	w := e.do(http.MethodPost, "/api/v1/barter/preview", "", nil, domain.BarterRequest{Item1Key: "nuts_sack", Item2Key: "honey_jar"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	prev := decode[domain.BarterResolution](t, w)
	assert.Equal(t, "luxury_sweets_box", prev.Result.Key)
	assert.Equal(t, domain.BarterSourceRecipe, prev.Source)

	w = e.do(http.MethodPost, "/api/v1/barter/preview", "", nil, domain.BarterRequest{Item1Key: "seed_sack", Item2Key: "nuts_sack", Strict: true})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NO_RECIPE", errorCode(t, w))

	w = e.do(http.MethodPost, "/api/v1/barter/confirm", token, nil, domain.BarterRequest{Item1Key: "honey_jar", Item2Key: "nuts_sack"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NOT_ENOUGH_ITEMS", errorCode(t, w))

	for _, key := range []string{"honey_jar", "nuts_sack"} {
		w = e.do(http.MethodPost, "/api/v1/admin/barter/grant", "", map[string]string{middleware.AdminKeyHeader: adminKey},
			map[string]any{"user_id": uid, "itemKey": key})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w = e.do(http.MethodPost, "/api/v1/barter/confirm", token, nil, domain.BarterRequest{Item1Key: "honey_jar", Item2Key: "nuts_sack"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/v1/barter/use", token, nil, map[string]string{"itemKey": "luxury_sweets_box"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	used := decode[domain.BarterUseResult](t, w)
	assert.Equal(t, int64(36), used.PointsEarned)

	w = e.do(http.MethodGet, "/api/v1/barter/history", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[struct {
		History []domain.BarterLog `json:"history"`
	}](t, w)
	assert.Len(t, hist.History, 1)

	w = e.do(http.MethodGet, "/api/v1/admin/audit/"+strconv.FormatInt(uid, 10), "", map[string]string{middleware.AdminKeyHeader: adminKey}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	audit := decode[struct {
		Logs []domain.AuditLog `json:"logs"`
	}](t, w)
	assert.Len(t, audit.Logs, 2)
}

func TestLeaderboardAndRewards(t *testing.T) {
	e := newEnv(t)
	admin := map[string]string{middleware.AdminKeyHeader: adminKey}
	_, token := e.user(100)

	w := e.do(http.MethodGet, "/api/v1/leaderboard/last-winner", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusOK, e.buy(token, "", "honey_jar", 1).Code)

	w = e.do(http.MethodGet, "/api/v1/leaderboard/me", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decode[domain.RankInfo](t, w).Rank)

	w = e.do(http.MethodPost, "/api/v1/admin/leaderboard/finalize", "", admin, nil)
	assert.Equal(t, http.StatusTooEarly, w.Code)
	assert.Equal(t, "SEASON_NOT_ENDED", errorCode(t, w))

	w = e.do(http.MethodPost, "/api/v1/admin/leaderboard/finalize?force=true", "", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[domain.FinalizeResult](t, w)
	assert.Equal(t, "2025-W46", res.SeasonID)
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, int64(10000), res.PaidMinor)

	w = e.do(http.MethodPost, "/api/v1/admin/leaderboard/finalize?force=true", "", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SEASON_ALREADY_FINALIZED", errorCode(t, w))

	w = e.do(http.MethodGet, "/api/v1/leaderboard/last-winner", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/v1/leaderboard/seasons/2025-W46/winners", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, "/api/v1/admin/stats", "", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[domain.EconomyStats](t, w)
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.OpenPayouts)
	assert.Equal(t, int64(10000), stats.OpenPayoutsMinor)
	assert.Equal(t, int64(1), stats.Today.Purchases)

	claimPath := "/api/v1/rewards/payouts/" + res.Payouts[0].ID.String() + "/claim"
	w = e.do(http.MethodPost, claimPath, token, nil, domain.ClaimRequest{Mode: domain.ClaimToGame})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	claim := decode[domain.ClaimResult](t, w)
	assert.Equal(t, int64(2000), claim.CreditedGame)

	w = e.do(http.MethodPost, claimPath, token, nil, domain.ClaimRequest{Mode: domain.ClaimToGame})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PAYOUT_NOT_AVAILABLE", errorCode(t, w))
}

func TestAdminConfig(t *testing.T) {
	e := newEnv(t)
	admin := map[string]string{middleware.AdminKeyHeader: adminKey}

	w := e.do(http.MethodPut, "/api/v1/admin/leaderboard/config", "", admin, map[string]int{"numberOfWinners": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPut, "/api/v1/admin/leaderboard/config", "", admin, map[string]int{"numberOfWinners": 3})
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodGet, "/api/v1/admin/leaderboard/config", "", admin, nil)
	assert.Equal(t, 3, decode[domain.LeaderboardConfig](t, w).NumberOfWinners)

	w = e.do(http.MethodPost, "/api/v1/admin/wallet/adjust", "", map[string]string{middleware.AdminKeyHeader: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExchange(t *testing.T) {
	e := newEnv(t)
	uid, token := e.user(0)

	w := e.do(http.MethodPost, "/api/v1/admin/wallet/topup", "", map[string]string{middleware.AdminKeyHeader: adminKey},
		domain.AdminCreditRequest{UserID: uid, Amount: 500, Currency: domain.CurrencyUSD})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/api/v1/wallet/exchange", token, nil, domain.ExchangeRequest{UsdMinor: 200})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[struct {
		User          domain.UserSnapshot `json:"user"`
		DinarCredited int64               `json:"dinar_credited"`
	}](t, w)
	assert.Equal(t, int64(40), out.DinarCredited)
	assert.Equal(t, int64(300), out.User.Wallet.UsdMinor)

	w = e.do(http.MethodPost, "/api/v1/wallet/exchange", token, nil, domain.ExchangeRequest{UsdMinor: 1000})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}
