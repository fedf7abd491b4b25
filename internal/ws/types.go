package ws

import (
	"time"

	"github.com/google/uuid"
)

const (
	// client - server
	MsgPing = "ping"

	// server - client
	MsgReady = "ready"
	MsgPong  = "pong"
	MsgStock = "stock"
	MsgError = "error"
)

type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type StockPayload struct {
	DropID uuid.UUID `json:"drop_id"`
	ItemID uuid.UUID `json:"item_id"`
	Stock  int64     `json:"stock"`
	At     time.Time `json:"at"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
