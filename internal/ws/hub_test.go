package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"qafala_backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/stock", HandleStock(hub, ""))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stock" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := read(t, conn)
	require.Equal(t, MsgReady, msg.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStockFeed(t *testing.T) {
	hub := NewHub()
	srv := newServer(t, hub)
	conn := dial(t, srv, "")

	dropID, itemID := uuid.New(), uuid.New()
	hub.StockChanged(dropID, itemID, 7)

	msg := read(t, conn)
	require.Equal(t, MsgStock, msg.Type)
	var p StockPayload
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, dropID, p.DropID)
	assert.Equal(t, itemID, p.ItemID)
	assert.Equal(t, int64(7), p.Stock)
}

func TestStockFeedFiltersByDrop(t *testing.T) {
	hub := NewHub()
	srv := newServer(t, hub)
	watched, other := uuid.New(), uuid.New()
	conn := dial(t, srv, "?drop="+watched.String())

	hub.StockChanged(other, uuid.New(), 1)
	hub.StockChanged(watched, uuid.New(), 2)

	msg := read(t, conn)
	var p StockPayload
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, watched, p.DropID)
	assert.Equal(t, int64(2), p.Stock)
}

func TestPingPong(t *testing.T) {
	hub := NewHub()
	srv := newServer(t, hub)
	conn := dial(t, srv, "")

	require.NoError(t, conn.WriteJSON(Message{Type: MsgPing}))
	assert.Equal(t, MsgPong, read(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	assert.Equal(t, MsgError, read(t, conn).Type)
}

func TestHandleStockRejectsBadParams(t *testing.T) {
	require.NoError(t, service.InitJWT("test-secret"))
	hub := NewHub()
	srv := newServer(t, hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stock"

	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?drop=xyz", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	c := &Client{Send: make(chan []byte, 1), Hub: hub}
	hub.Register(c)

	hub.StockChanged(uuid.New(), uuid.New(), 1)
	assert.Equal(t, 1, hub.Count())
	hub.StockChanged(uuid.New(), uuid.New(), 1)
	assert.Zero(t, hub.Count())

	_, ok := <-c.Send
	assert.True(t, ok, "buffered update is still delivered")
	_, ok = <-c.Send
	assert.False(t, ok)
}
