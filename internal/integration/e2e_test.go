// Package integration runs the full HTTP stack against Postgres. Tests skip
// unless DATABASE_URL is set.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qafala_backend/internal/app"
	"qafala_backend/internal/config"
	"qafala_backend/internal/content"
	"qafala_backend/internal/domain"
	apihttp "qafala_backend/internal/http"
	"qafala_backend/internal/migrations"
	"qafala_backend/internal/service"
	"qafala_backend/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	svc    *app.Services
	server *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	require.NoError(t, service.InitJWT("e2e-secret"))

	ctx := context.Background()
	cfg := &config.Config{
		DatabaseURL:     dsn,
		UseTransactions: true,
		DBMaxConns:      10,
		USDToDinarRate:  20,
		GCPerUSD:        20,
		IdempotencyTTL:  20 * time.Minute,
		JobLockTTL:      2 * time.Hour,
		DefaultWinners:  10,
		PerDropPerUser:  5,
		PerItemWindow:   time.Minute,
		BarterXP:        25,
		APIRateLimit:    10000,
		APIRateWindow:   time.Minute,
		BuyRateLimit:    10000,
		BuyRateWindow:   time.Minute,
	}
	svc, pool, err := app.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = migrations.Apply(ctx, pool)
	require.NoError(t, err)
	_, err = svc.Content.Seed(ctx, svc.Store, content.SeedOptions{})
	require.NoError(t, err)

	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	svc.Purchases.SetNotifier(hub)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	apihttp.RegisterRoutes(r, cfg, apihttp.Deps{Handler: svc.Handler(), Health: svc.Store, Hub: hub})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &stack{svc: svc, server: ts}
}

// fundedUser creates a user with dinar and returns it with a bearer token.
func (s *stack) fundedUser(t *testing.T, dinar int64) (*domain.User, string) {
	t.Helper()
	ctx := context.Background()
	u := &domain.User{Username: "e2e-" + uuid.NewString()[:8]}
	require.NoError(t, s.svc.Store.Users().Create(ctx, u))
	_, err := s.svc.Wallet.TopUp(ctx, u.ID, dinar, domain.CurrencyDinar, "e2e")
	require.NoError(t, err)
	token, err := service.GenerateJWT(u.ID, time.Hour)
	require.NoError(t, err)
	return u, token
}

// openDrop creates a fresh drop from the first template, open since a minute ago.
func (s *stack) openDrop(t *testing.T) *domain.Drop {
	t.Helper()
	require.NotEmpty(t, s.svc.Content.Drops)
	d, err := s.svc.Content.BuildDrop(s.svc.Content.Drops[0], time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.svc.Store.Drops().Create(context.Background(), d))
	return d
}

// buy returns the response status, or 0 when the request failed.
func (s *stack) buy(token string, dropID, itemID uuid.UUID) int {
	body, _ := json.Marshal(domain.BuyRequest{ItemID: itemID.String(), Qty: 1})
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/drops/"+dropID.String()+"/buy", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	return resp.StatusCode
}

func findItem(t *testing.T, d *domain.Drop, key string) domain.DropItem {
	t.Helper()
	for _, it := range d.Items {
		if it.Key == key {
			return it
		}
	}
	t.Fatalf("item %s not in drop %s", key, d.Name)
	return domain.DropItem{}
}

func TestConcurrentBuysNeverOversell(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	d := s.openDrop(t)
	falcon := findItem(t, d, "golden_falcon")

	const buyers = 6
	tokens := make([]string, buyers)
	users := make([]*domain.User, buyers)
	for i := range tokens {
		users[i], tokens[i] = s.fundedUser(t, 500)
	}

	codes := make([]int, buyers)
	var wg sync.WaitGroup
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = s.buy(tokens[i], d.ID, falcon.ID)
		}(i)
	}
	wg.Wait()

	var ok, soldOut int
	for _, c := range codes {
		switch c {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			soldOut++
		}
	}
	assert.Equal(t, int(falcon.Stock), ok)
	assert.Equal(t, buyers-ok, soldOut)

	got, err := s.svc.Store.Drops().GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), findItem(t, got, "golden_falcon").Stock)

	for _, u := range users {
		rec, err := s.svc.Wallet.Reconcile(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, rec.Balanced, "user %d ledger out of balance", u.ID)
	}
}

func TestStockFeedReportsPurchase(t *testing.T) {
	s := newStack(t)
	d := s.openDrop(t)
	honey := findItem(t, d, "honey_jar")
	_, token := s.fundedUser(t, 200)

	wsURL := strings.Replace(s.server.URL, "http", "ws", 1) + "/ws/stock?drop=" + d.ID.String()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// single reader goroutine; gorilla connections allow one concurrent reader
	msgs := make(chan ws.Message, 16)
	go func() {
		defer close(msgs)
		for {
			var m ws.Message
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			msgs <- m
		}
	}()

	waitFor := func(typ string) ws.Message {
		timeout := time.After(3 * time.Second)
		for {
			select {
			case m, open := <-msgs:
				require.True(t, open, "feed closed before %s", typ)
				if m.Type == typ {
					return m
				}
			case <-timeout:
				t.Fatalf("no %s message", typ)
			}
		}
	}

	waitFor(ws.MsgReady)
	require.Equal(t, http.StatusOK, s.buy(token, d.ID, honey.ID))

	m := waitFor(ws.MsgStock)
	raw, err := json.Marshal(m.Data)
	require.NoError(t, err)
	var p ws.StockPayload
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, d.ID, p.DropID)
	assert.Equal(t, honey.ID, p.ItemID)
	assert.Equal(t, honey.Stock-1, p.Stock)
}
