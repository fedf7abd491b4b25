package domain

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

type InventoryKind string

const (
	InventoryKindDrop   InventoryKind = "drop"
	InventoryKindBarter InventoryKind = "barter"
)

// ItemDescriptor identifies a stack and carries its display data. Exactly
// one of TypeKey and ItemID is set on canonical writes.
type ItemDescriptor struct {
	Kind          InventoryKind `db:"kind" json:"kind"`
	TypeKey       string        `db:"type_key" json:"type_key,omitempty"`
	ItemID        *uuid.UUID    `db:"item_id" json:"item_id,omitempty"`
	Title         string        `db:"title" json:"title"`
	Icon          string        `db:"icon" json:"icon,omitempty"`
	Rarity        Rarity        `db:"rarity" json:"rarity,omitempty"`
	Points        int64         `db:"points" json:"points"`
	BarterAllowed bool          `db:"barter_allowed" json:"barter_allowed"`
}

type InventoryEntry struct {
	ID     int64 `db:"id" json:"id"`
	UserID int64 `db:"user_id" json:"user_id"`
	ItemDescriptor
	Qty        int64     `db:"qty" json:"qty"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquired_at"`
}

// MatchField is the inventory column a lookup strategy compares against.
type MatchField string

const (
	MatchTypeKey MatchField = "type_key"
	MatchIcon    MatchField = "icon"
	MatchItemID  MatchField = "item_id"
)

// InventoryMatch is one storage-level query produced by a lookup strategy.
type InventoryMatch struct {
	Field    MatchField
	Value    string
	FoldCase bool
}

// FoldKey is the case-insensitive form of an item key or icon. Every
// folded inventory comparison goes through it.
func FoldKey(s string) string {
	return cases.Fold().String(s)
}
