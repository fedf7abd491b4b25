package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// SortPair returns a and b in ascending order.
func SortPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// PairKey is the canonical "a+b" form of an unordered pair.
func PairKey(a, b string) string {
	x, y := SortPair(a, b)
	return x + "+" + y
}

// RarityPairKey is the canonical form used by the fallback table.
func RarityPairKey(a, b Rarity) string {
	return PairKey(string(a), string(b))
}

// BarterRecipe maps an unordered input pair to one output. Inputs are
// stored sorted.
type BarterRecipe struct {
	InputA    string    `db:"input_a" json:"input_a" yaml:"input_a"`
	InputB    string    `db:"input_b" json:"input_b" yaml:"input_b"`
	OutputKey string    `db:"output_key" json:"output_key" yaml:"output_key"`
	CreatedAt time.Time `db:"created_at" json:"created_at" yaml:"-"`
}

// Canonical returns the recipe with its inputs sorted.
func (r BarterRecipe) Canonical() BarterRecipe {
	r.InputA, r.InputB = SortPair(r.InputA, r.InputB)
	return r
}

func (r BarterRecipe) Key() string {
	return PairKey(r.InputA, r.InputB)
}

// ItemSnapshot is display data frozen at trade time.
type ItemSnapshot struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
	Rarity Rarity `json:"rarity,omitempty"`
	Points int64  `json:"points"`
}

func SnapshotOf(c *CatalogItem) ItemSnapshot {
	return ItemSnapshot{Key: c.Key, Title: c.Title, Icon: c.Icon, Rarity: c.BaseRarity(), Points: c.GivesPoints}
}

type BarterLog struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	UserID    int64        `db:"user_id" json:"user_id"`
	Item1     ItemSnapshot `json:"item1"`
	Item2     ItemSnapshot `json:"item2"`
	Result    ItemSnapshot `json:"result"`
	Source    string       `db:"source" json:"source"`
	Used      bool         `db:"used" json:"used"`
	UsedAt    *time.Time   `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

const (
	BarterSourceRecipe   = "recipe"
	BarterSourceFallback = "fallback"
	BarterSourceDefault  = "default"
)

// BarterRules is the rarity fallback configuration: a table keyed by
// RarityPairKey and a default result.
type BarterRules struct {
	Fallbacks     map[string]string `yaml:"fallbacks" json:"fallbacks"`
	DefaultResult string            `yaml:"default_result" json:"default_result"`
}

// Resolve is a pure function of the two rarities.
func (r BarterRules) Resolve(a, b Rarity) (string, string) {
	if out, ok := r.Fallbacks[RarityPairKey(a, b)]; ok && out != "" {
		return out, BarterSourceFallback
	}
	return r.DefaultResult, BarterSourceDefault
}

// Pairs lists the configured rarity pairs in sorted order.
func (r BarterRules) Pairs() []string {
	out := make([]string, 0, len(r.Fallbacks))
	for k := range r.Fallbacks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BarterResolution is the outcome of preview.
type BarterResolution struct {
	Input1 ItemSnapshot `json:"input1"`
	Input2 ItemSnapshot `json:"input2"`
	Result ItemSnapshot `json:"result"`
	Source string       `json:"source"`
}

type BarterRequest struct {
	Item1Key string `json:"item1Key" binding:"required"`
	Item2Key string `json:"item2Key" binding:"required"`
	Strict   bool   `json:"strict"`
}

type BarterConfirmResult struct {
	Log  BarterLog    `json:"log"`
	User UserSnapshot `json:"user"`
}

type BarterUseResult struct {
	ItemKey      string       `json:"item_key"`
	PointsEarned int64        `json:"points_earned"`
	User         UserSnapshot `json:"user"`
}
