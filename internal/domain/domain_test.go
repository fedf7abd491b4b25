package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestISOWeekID(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), "2025-W46"},
		{time.Date(2025, 11, 16, 23, 59, 59, 0, time.UTC), "2025-W46"},
		{time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC), "2025-W47"},
		{time.Date(2024, 12, 30, 12, 0, 0, 0, time.UTC), "2025-W01"},
		{time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC), "2020-W53"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ISOWeekID(tt.at), tt.at.String())
	}
}

func TestWeekWindow(t *testing.T) {
	wed := time.Date(2025, 11, 12, 15, 30, 0, 0, time.UTC)
	start, end := WeekWindow(wed)
	assert.Equal(t, time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC), end)

	sunday := time.Date(2025, 11, 16, 23, 0, 0, 0, time.UTC)
	start, _ = WeekWindow(sunday)
	assert.Equal(t, time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), start)

	// A non-UTC instant is windowed by its UTC time.
	loc := time.FixedZone("UTC+3", 3*3600)
	mondayLocal := time.Date(2025, 11, 17, 1, 0, 0, 0, loc)
	start, _ = WeekWindow(mondayLocal)
	assert.Equal(t, time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC), start)
}

func TestSeasonNext(t *testing.T) {
	s := SeasonAt(time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2025-W52", s.SeasonID)

	next := s.Next()
	assert.Equal(t, s.EndAt, next.StartAt)
	assert.Equal(t, s.EndAt.Add(SeasonLength), next.EndAt)
	assert.Equal(t, "2026-W01", next.SeasonID)
	assert.False(t, s.Ended(s.EndAt.Add(-time.Second)))
	assert.True(t, s.Ended(s.EndAt))
}

func TestRankByWeeklyPoints(t *testing.T) {
	users := []User{{ID: 3, WeeklyPoints: 10}, {ID: 1, WeeklyPoints: 5}, {ID: 2, WeeklyPoints: 10}}
	RankByWeeklyPoints(users)
	assert.Equal(t, []int64{2, 3, 1}, []int64{users[0].ID, users[1].ID, users[2].ID})
}

func TestFoldKey(t *testing.T) {
	assert.Equal(t, FoldKey("straße"), FoldKey("STRASSE"))
	assert.Equal(t, FoldKey("Honey_Jar"), FoldKey("honey_jar"))
	assert.NotEqual(t, FoldKey("honey_jar"), FoldKey("nuts_sack"))
}

func TestLevelForXP(t *testing.T) {
	cases := map[int64]int{0: 1, 99: 1, 100: 2, 249: 2, 250: 3, 999: 4, 1000: 5, 11999: 9, 12000: 10, 99999: 10}
	for xp, want := range cases {
		assert.Equal(t, want, LevelForXP(xp), "xp=%d", xp)
	}

	p := ProgressForXP(300)
	assert.Equal(t, 3, p.Level)
	assert.Equal(t, int64(250), p.CurrentBase)
	assert.Equal(t, int64(500), p.NextAt)

	top := ProgressForXP(20000)
	assert.True(t, top.MaxReached)
	assert.Zero(t, top.NextAt)
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, "honey_jar+nuts_sack", PairKey("nuts_sack", "honey_jar"))
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))

	r := BarterRecipe{InputA: "nuts_sack", InputB: "honey_jar", OutputKey: "luxury_sweets_box"}.Canonical()
	assert.Equal(t, "honey_jar", r.InputA)
	assert.Equal(t, "honey_jar+nuts_sack", r.Key())
}

func TestBarterRulesResolveIsPure(t *testing.T) {
	rules := BarterRules{
		Fallbacks: map[string]string{
			RarityPairKey(RarityRare, RarityRare):      "epic_box",
			RarityPairKey(RarityLegendary, RarityRare): "treasure_chest_legendary",
		},
		DefaultResult: "common_box",
	}

	rarities := []Rarity{RarityCommon, RarityRare, RarityLegendary, RarityBarter, RarityEpic}
	for _, a := range rarities {
		for _, b := range rarities {
			out1, src1 := rules.Resolve(a, b)
			out2, src2 := rules.Resolve(b, a)
			assert.Equal(t, out1, out2, fmt.Sprintf("%s/%s", a, b))
			assert.Equal(t, src1, src2)
		}
	}

	out, src := rules.Resolve(RarityRare, RarityLegendary)
	assert.Equal(t, "treasure_chest_legendary", out)
	assert.Equal(t, BarterSourceFallback, src)

	out, src = rules.Resolve(RarityCommon, RarityBarter)
	assert.Equal(t, "common_box", out)
	assert.Equal(t, BarterSourceDefault, src)
}

func TestDropOpenAt(t *testing.T) {
	start := time.Date(2025, 11, 10, 8, 0, 0, 0, time.UTC)
	d := Drop{IsActive: true, StartsAt: start, EndsAt: start.Add(time.Hour)}

	assert.False(t, d.OpenAt(start.Add(-time.Nanosecond)))
	assert.True(t, d.OpenAt(start))
	assert.True(t, d.OpenAt(start.Add(59*time.Minute)))
	assert.False(t, d.OpenAt(start.Add(time.Hour)))

	d.IsActive = false
	assert.False(t, d.OpenAt(start.Add(time.Minute)))
}

func TestInventoryDescriptorKeying(t *testing.T) {
	barter := DropItem{ID: uuid.New(), Key: "honey_jar", Title: "Honey Jar", Barter: true, GivesPoints: 40}
	d := barter.InventoryDescriptor()
	assert.Equal(t, "honey_jar", d.TypeKey)
	assert.Nil(t, d.ItemID)
	assert.Zero(t, d.Points)
	assert.True(t, d.BarterAllowed)

	normal := DropItem{ID: uuid.New(), Key: "dates", Title: "Dates", GivesPoints: 10}
	d = normal.InventoryDescriptor()
	assert.Empty(t, d.TypeKey)
	require.NotNil(t, d.ItemID)
	assert.Equal(t, normal.ID, *d.ItemID)
}

func TestPrizePlanTierFor(t *testing.T) {
	plan := PrizePlan{Key: "weekly", Tiers: []PrizeTier{
		{MinRank: 1, MaxRank: 1, AmountMinor: 5000},
		{MinRank: 2, MaxRank: 3, AmountMinor: 3000},
	}}
	require.NoError(t, plan.Validate())

	tier, ok := plan.TierFor(3)
	require.True(t, ok)
	assert.Equal(t, int64(3000), tier.AmountMinor)

	_, ok = plan.TierFor(4)
	assert.False(t, ok)

	bad := PrizePlan{Key: "x", Tiers: []PrizeTier{{MinRank: 3, MaxRank: 1}}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("buy: %w", ErrOutOfStock)
	assert.Equal(t, CodeOutOfStock, CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrOutOfStock)
	assert.Equal(t, Code(""), CodeOf(fmt.Errorf("boom")))
}
