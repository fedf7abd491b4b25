package content

import (
	"context"
	"testing"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository/memory"
	"qafala_backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seedTime = time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)

func TestDefaultContentIsValid(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, c.Catalog)
	assert.Len(t, c.Recipes, 10)
	assert.Equal(t, "common_box", c.Barter.DefaultResult)
	require.NotNil(t, c.PrizePlan)
	assert.True(t, c.PrizePlan.Active)

	for _, r := range c.Recipes {
		assert.LessOrEqual(t, r.InputA, r.InputB, "recipe inputs are stored sorted")
	}
	out, src := c.Barter.Resolve(domain.RarityRare, domain.RarityCommon)
	assert.Equal(t, "rare_box", out)
	assert.Equal(t, domain.BarterSourceFallback, src)
}

func TestParseNormalizesFallbackPairs(t *testing.T) {
	c, err := Parse([]byte(`
catalog:
  - {key: a, title: A, rarity: rare, enabled: true}
  - {key: out, title: Out, rarity: barter_result, enabled: true}
barter:
  fallbacks:
    rare+common: out
`))
	require.NoError(t, err)
	assert.Equal(t, "out", c.Barter.Fallbacks["common+rare"])
}

func TestParseRejectsBadContent(t *testing.T) {
	cases := map[string]string{
		"unknown field": "catalog:\n  - {key: a, colour: red}\n",
		"unknown recipe item": `
catalog:
  - {key: a, title: A}
recipes:
  - {input_a: a, input_b: b, output_key: a}
`,
		"same input twice": `
catalog:
  - {key: a, title: A}
recipes:
  - {input_a: a, input_b: a, output_key: a}
`,
		"unknown default": `
catalog:
  - {key: a, title: A}
barter:
  default_result: nope
`,
		"bad prize tier": `
prize_plan:
  key: p
  tiers:
    - {min_rank: 3, max_rank: 1, amount_minor: 10}
`,
		"drop without duration": `
catalog:
  - {key: a, title: A}
drops:
  - {name: d, items: [{key: a, stock: 1}]}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	c, err := Load("")
	require.NoError(t, err)
	store := memory.New()

	_, err = c.Seed(ctx, store, SeedOptions{Now: seedTime})
	require.NoError(t, err)
	res, err := c.Seed(ctx, store, SeedOptions{Now: seedTime})
	require.NoError(t, err)
	assert.Equal(t, len(c.Catalog), res.CatalogItems)
	assert.Zero(t, res.Drops)

	items, err := store.Catalog().List(ctx)
	require.NoError(t, err)
	assert.Len(t, items, len(c.Catalog))
	recipes, err := store.Barter().ListRecipes(ctx)
	require.NoError(t, err)
	assert.Len(t, recipes, len(c.Recipes))
	plan, err := store.Payouts().ActivePlan(ctx)
	require.NoError(t, err)
	assert.Equal(t, "weekly_usd", plan.Key)
}

func TestSeedDrops(t *testing.T) {
	ctx := context.Background()
	c, err := Load("")
	require.NoError(t, err)
	store := memory.New()

	res, err := c.Seed(ctx, store, SeedOptions{Drops: true, Now: seedTime})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Drops)

	drops, err := store.Drops().ListActive(ctx, seedTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Len(t, drops[0].Items, len(c.Drops[0].Items))
	for _, it := range drops[0].Items {
		assert.Equal(t, it.Stock, it.InitialStock)
	}
}

func TestSeededRecipesResolve(t *testing.T) {
	ctx := context.Background()
	c, err := Load("")
	require.NoError(t, err)
	store := memory.New()
	_, err = c.Seed(ctx, store, SeedOptions{Now: seedTime})
	require.NoError(t, err)

	wallet := service.NewWalletService(store, 20, nil)
	inv := service.NewInventoryService(store, nil)
	progress := service.NewProgressService(store, nil)
	engine := service.NewBarterEngine(store, wallet, inv, progress, c.Barter, service.BarterConfig{XP: 25, AllowFallback: true}, nil)

	res, err := engine.Preview(ctx, "nuts_sack", "honey_jar", true)
	require.NoError(t, err)
	assert.Equal(t, "luxury_sweets_box", res.Result.Key)
	assert.Equal(t, domain.BarterSourceRecipe, res.Source)

	res, err = engine.Preview(ctx, "pearl_shell", "blue_gem", false)
	require.NoError(t, err)
	assert.Equal(t, "luxury_sweets_box", res.Result.Key)
	assert.Equal(t, domain.BarterSourceFallback, res.Source)

	_, err = engine.Preview(ctx, "pearl_shell", "blue_gem", true)
	assert.ErrorIs(t, err, domain.ErrNoRecipe)
}
