package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"qafala_backend/internal/app"
	"qafala_backend/internal/config"
	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/service"
)

// Smoke test for a running server: funds a fresh user, subscribes to the
// stock feed of the first active drop, buys one unit over HTTP and waits
// for the stock update.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	if err := service.InitJWT(cfg.JWTSecret); err != nil {
		logger.Fatal("jwt init failed", "error", err)
	}

	ctx := context.Background()
	svc, pool, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open failed", "error", err)
	}
	defer pool.Close()

	u := &domain.User{Username: "smoke-" + uuid.NewString()[:8]}
	if err := svc.Store.Users().Create(ctx, u); err != nil {
		logger.Fatal("create user", "error", err)
	}
	if _, err := svc.Wallet.TopUp(ctx, u.ID, 1000, domain.CurrencyDinar, "ws_smoke"); err != nil {
		logger.Fatal("top up", "error", err)
	}
	token, err := service.GenerateJWT(u.ID, 10*time.Minute)
	if err != nil {
		logger.Fatal("gen token", "error", err)
	}

	drops, err := svc.Purchases.ActiveDrops(ctx)
	if err != nil {
		logger.Fatal("active drops", "error", err)
	}
	drop, item := pickItem(drops)
	if item == nil {
		logger.Fatal("no active drop with stock; run economyctl seed --drops")
	}

	// use 127.0.0.1 to prefer IPv4 (avoid resolving to [::1])
	base := "127.0.0.1:" + cfg.AppPort
	wsURL := fmt.Sprintf("ws://%s/ws/stock?token=%s&drop=%s", base, token, drop.ID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatal("dial", "error", err)
	}
	defer conn.Close()

	waitFor(conn, "ready", 2*time.Second)

	body, _ := json.Marshal(domain.BuyRequest{ItemID: item.ID.String(), Qty: 1})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/api/v1/drops/%s/buy", base, drop.ID), bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Fatal("buy", "error", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Fatal("buy rejected", "status", resp.StatusCode)
	}
	logger.Info("bought", "drop", drop.Name, "item", item.Key)

	msg := waitFor(conn, "stock", 3*time.Second)
	if msg == nil {
		logger.Fatal("no stock update received")
	}
	logger.Info("smoke test finished", "stock", string(msg))
}

func pickItem(drops []domain.Drop) (*domain.Drop, *domain.DropItem) {
	for i := range drops {
		for j := range drops[i].Items {
			if drops[i].Items[j].Stock > 0 && drops[i].Items[j].PriceDinar <= 1000 {
				return &drops[i], &drops[i].Items[j]
			}
		}
	}
	return nil, nil
}

// waitFor drains messages until one of type typ arrives or the deadline passes.
func waitFor(conn *websocket.Conn, typ string, d time.Duration) json.RawMessage {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var m struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if json.Unmarshal(raw, &m) == nil && m.Type == typ {
			if m.Data == nil {
				return json.RawMessage("{}")
			}
			return m.Data
		}
	}
	return nil
}
