package domain

import "time"

type Rarity string

const (
	RarityCommon       Rarity = "common"
	RarityRare         Rarity = "rare"
	RarityEpic         Rarity = "epic"
	RarityLegendary    Rarity = "legendary"
	RarityBarter       Rarity = "barter"
	RarityBarterResult Rarity = "barter_result"
)

// CatalogItem is reference data describing an item type.
type CatalogItem struct {
	Key         string    `db:"key" json:"key" yaml:"key"`
	Title       string    `db:"title" json:"title" yaml:"title"`
	Description string    `db:"description" json:"description,omitempty" yaml:"description"`
	Rarity      Rarity    `db:"rarity" json:"rarity" yaml:"rarity"`
	PriceDinar  int64     `db:"price_dinar" json:"price_dinar" yaml:"price_dinar"`
	GivesPoints int64     `db:"gives_points" json:"gives_points" yaml:"gives_points"`
	GivesXP     int64     `db:"gives_xp" json:"gives_xp" yaml:"gives_xp"`
	Barter      bool      `db:"barter" json:"barter" yaml:"barter"`
	MaxPerUser  *int64    `db:"max_per_user" json:"max_per_user,omitempty" yaml:"max_per_user"`
	Icon        string    `db:"icon" json:"icon,omitempty" yaml:"icon"`
	Enabled     bool      `db:"enabled" json:"enabled" yaml:"enabled"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at" yaml:"-"`
}

// BaseRarity is the rarity used by the barter fallback table.
func (c *CatalogItem) BaseRarity() Rarity {
	if c.Barter || c.Rarity == RarityBarter {
		return RarityBarter
	}
	if c.Rarity == "" {
		return RarityCommon
	}
	return c.Rarity
}
