package domain

import (
	"time"

	"github.com/google/uuid"
)

// DropItem is a catalog item copied into a drop with its own stock.
type DropItem struct {
	ID           uuid.UUID `db:"id" json:"id"`
	DropID       uuid.UUID `db:"drop_id" json:"drop_id"`
	Key          string    `db:"key" json:"key"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description,omitempty"`
	Rarity       Rarity    `db:"rarity" json:"rarity"`
	PriceDinar   int64     `db:"price_dinar" json:"price_dinar"`
	GivesPoints  int64     `db:"gives_points" json:"gives_points"`
	GivesXP      int64     `db:"gives_xp" json:"gives_xp"`
	Barter       bool      `db:"barter" json:"barter"`
	Stock        int64     `db:"stock" json:"stock"`
	InitialStock int64     `db:"initial_stock" json:"initial_stock"`
	MaxPerUser   *int64    `db:"max_per_user" json:"max_per_user,omitempty"`
	Icon         string    `db:"icon" json:"icon,omitempty"`
}

// IsBarter reports whether the item is crafting input only.
func (it *DropItem) IsBarter() bool {
	return it.Barter || it.Rarity == RarityBarter
}

// InventoryDescriptor is the canonical inventory shape for this item.
// Barter items stack by catalog key; other items stack per drop-item id.
func (it *DropItem) InventoryDescriptor() ItemDescriptor {
	d := ItemDescriptor{
		Title:  it.Title,
		Icon:   it.Icon,
		Rarity: it.Rarity,
		Points: it.GivesPoints,
	}
	if it.IsBarter() {
		d.Kind = InventoryKindBarter
		d.TypeKey = it.Key
		if d.TypeKey == "" {
			d.TypeKey = it.ID.String()
		}
		d.BarterAllowed = true
		d.Points = 0
		return d
	}
	id := it.ID
	d.Kind = InventoryKindDrop
	d.ItemID = &id
	return d
}

type Drop struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	Slot      string     `db:"slot" json:"slot,omitempty"`
	StartsAt  time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt    time.Time  `db:"ends_at" json:"ends_at"`
	IsActive  bool       `db:"is_active" json:"is_active"`
	Items     []DropItem `json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// OpenAt reports whether the drop accepts purchases at now.
func (d *Drop) OpenAt(now time.Time) bool {
	return d.IsActive && !now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

func (d *Drop) Item(id uuid.UUID) (*DropItem, bool) {
	for i := range d.Items {
		if d.Items[i].ID == id {
			return &d.Items[i], true
		}
	}
	return nil, false
}

// PurchaseLog is one executed purchase.
type PurchaseLog struct {
	ID             uuid.UUID `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	DropID         uuid.UUID `db:"drop_id" json:"drop_id"`
	ItemID         uuid.UUID `db:"item_id" json:"item_id"`
	ItemTitle      string    `db:"item_title" json:"item_title"`
	Qty            int64     `db:"qty" json:"qty"`
	CostDinar      int64     `db:"cost_dinar" json:"cost_dinar"`
	PointsGained   int64     `db:"points_gained" json:"points_gained"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`

	// Outcome as first reported. Retries with the same key replay it.
	StockLeft   int64         `db:"stock_left" json:"stock_left"`
	BoughtTotal int64         `db:"bought_total" json:"-"`
	UserAfter   *UserSnapshot `db:"user_after" json:"-"`
}

// PurchaseFilter narrows purchase-log aggregates. Nil fields match all.
type PurchaseFilter struct {
	UserID int64
	DropID *uuid.UUID
	ItemID *uuid.UUID
	Since  *time.Time
}

// BuyRequest is the body of a purchase call.
type BuyRequest struct {
	ItemID string `json:"itemId" binding:"required"`
	Qty    int64  `json:"qty"`
}

// PurchaseLimits reports per-user cap usage after a purchase.
type PurchaseLimits struct {
	BoughtThisItem int64  `json:"bought_this_item"`
	MaxPerUser     *int64 `json:"max_per_user,omitempty"`
}

type InventoryDelta struct {
	TypeKey string     `json:"type_key,omitempty"`
	ItemID  *uuid.UUID `json:"item_id,omitempty"`
	Title   string     `json:"title"`
	Qty     int64      `json:"qty"`
}

// PurchaseResult is the full success payload of a purchase.
type PurchaseResult struct {
	PurchaseID     uuid.UUID      `json:"purchase_id"`
	User           UserSnapshot   `json:"user"`
	InventoryDelta InventoryDelta `json:"inventory_delta"`
	StockLeft      int64          `json:"stock_left"`
	Limits         PurchaseLimits `json:"limits"`
	Replayed       bool           `json:"replayed,omitempty"`
}
