// Package content loads the economy's reference data (catalog, recipes,
// barter fallback table, prize plan and starter drops) from YAML and
// seeds it into a store.
package content

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultContent []byte

type DropItemTemplate struct {
	Key   string `yaml:"key"`
	Stock int64  `yaml:"stock"`
}

// DropTemplate describes a drop built from catalog items at seed time.
type DropTemplate struct {
	Name     string             `yaml:"name"`
	Slot     string             `yaml:"slot"`
	Duration time.Duration      `yaml:"duration"`
	Items    []DropItemTemplate `yaml:"items"`
}

type Content struct {
	Catalog   []domain.CatalogItem  `yaml:"catalog"`
	Recipes   []domain.BarterRecipe `yaml:"recipes"`
	Barter    domain.BarterRules    `yaml:"barter"`
	PrizePlan *domain.PrizePlan     `yaml:"prize_plan"`
	Drops     []DropTemplate        `yaml:"drops"`
}

// Load reads the content file at path, or the embedded default when path
// is empty.
func Load(path string) (*Content, error) {
	if path == "" {
		return Parse(defaultContent)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates content. Unknown fields are rejected.
func Parse(data []byte) (*Content, error) {
	var c Content
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Content) normalize() {
	for i := range c.Recipes {
		c.Recipes[i] = c.Recipes[i].Canonical()
	}
	if len(c.Barter.Fallbacks) > 0 {
		fb := make(map[string]string, len(c.Barter.Fallbacks))
		for pair, out := range c.Barter.Fallbacks {
			a, b, _ := strings.Cut(pair, "+")
			fb[domain.PairKey(strings.TrimSpace(a), strings.TrimSpace(b))] = out
		}
		c.Barter.Fallbacks = fb
	}
}

func (c *Content) item(key string) (*domain.CatalogItem, bool) {
	for i := range c.Catalog {
		if c.Catalog[i].Key == key {
			return &c.Catalog[i], true
		}
	}
	return nil, false
}

// Validate checks that every key referenced by recipes, fallbacks and
// drops names a catalog item.
func (c *Content) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Catalog))
	for _, it := range c.Catalog {
		switch {
		case it.Key == "":
			errs = append(errs, errors.New("catalog item without key"))
		case seen[it.Key]:
			errs = append(errs, fmt.Errorf("duplicate catalog key %q", it.Key))
		case it.PriceDinar < 0 || it.GivesPoints < 0:
			errs = append(errs, fmt.Errorf("catalog item %q has a negative amount", it.Key))
		}
		seen[it.Key] = true
	}

	recipes := make(map[string]bool, len(c.Recipes))
	for _, r := range c.Recipes {
		if r.InputA == r.InputB {
			errs = append(errs, fmt.Errorf("recipe %s uses the same input twice", r.Key()))
		}
		if recipes[r.Key()] {
			errs = append(errs, fmt.Errorf("duplicate recipe %s", r.Key()))
		}
		recipes[r.Key()] = true
		for _, k := range []string{r.InputA, r.InputB, r.OutputKey} {
			if !seen[k] {
				errs = append(errs, fmt.Errorf("recipe %s references unknown item %q", r.Key(), k))
			}
		}
	}

	for pair, out := range c.Barter.Fallbacks {
		if !seen[out] {
			errs = append(errs, fmt.Errorf("fallback %s references unknown item %q", pair, out))
		}
	}
	if c.Barter.DefaultResult != "" && !seen[c.Barter.DefaultResult] {
		errs = append(errs, fmt.Errorf("unknown default barter result %q", c.Barter.DefaultResult))
	}

	if c.PrizePlan != nil {
		if err := c.PrizePlan.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("prize plan: %w", err))
		}
	}

	for _, d := range c.Drops {
		if d.Name == "" || d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("drop %q needs a name and a positive duration", d.Name))
		}
		for _, it := range d.Items {
			if !seen[it.Key] {
				errs = append(errs, fmt.Errorf("drop %q references unknown item %q", d.Name, it.Key))
			}
			if it.Stock < 0 {
				errs = append(errs, fmt.Errorf("drop %q item %q has negative stock", d.Name, it.Key))
			}
		}
	}
	return errors.Join(errs...)
}

// BuildDrop instantiates t as a drop opening at start.
func (c *Content) BuildDrop(t DropTemplate, start time.Time) (*domain.Drop, error) {
	d := &domain.Drop{
		Name:     t.Name,
		Slot:     t.Slot,
		StartsAt: start,
		EndsAt:   start.Add(t.Duration),
		IsActive: true,
	}
	for _, ti := range t.Items {
		it, ok := c.item(ti.Key)
		if !ok {
			return nil, fmt.Errorf("unknown item %q", ti.Key)
		}
		d.Items = append(d.Items, domain.DropItem{
			Key:         it.Key,
			Title:       it.Title,
			Description: it.Description,
			Rarity:      it.Rarity,
			PriceDinar:  it.PriceDinar,
			GivesPoints: it.GivesPoints,
			GivesXP:     it.GivesXP,
			Barter:      it.Barter,
			Stock:       ti.Stock,
			MaxPerUser:  it.MaxPerUser,
			Icon:        it.Icon,
		})
	}
	return d, nil
}

type SeedOptions struct {
	// Drops also creates every drop template, opening at Now.
	Drops bool
	Now   time.Time
}

type SeedResult struct {
	CatalogItems int  `json:"catalog_items"`
	Recipes      int  `json:"recipes"`
	PrizePlan    bool `json:"prize_plan"`
	Drops        int  `json:"drops"`
}

// Seed upserts the catalog, recipes and prize plan in one unit of work.
// Seeding is repeatable; drops are only created when asked for.
func (c *Content) Seed(ctx context.Context, store repository.Store, opts SeedOptions) (*SeedResult, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	res := &SeedResult{}
	err := store.WithTx(ctx, func(r repository.Repos) error {
		for i := range c.Catalog {
			it := c.Catalog[i]
			it.UpdatedAt = opts.Now
			if err := r.Catalog().Upsert(ctx, &it); err != nil {
				return fmt.Errorf("upsert catalog item %s: %w", it.Key, err)
			}
			res.CatalogItems++
		}
		for i := range c.Recipes {
			rec := c.Recipes[i]
			if err := r.Barter().UpsertRecipe(ctx, &rec); err != nil {
				return fmt.Errorf("upsert recipe %s: %w", rec.Key(), err)
			}
			res.Recipes++
		}
		if c.PrizePlan != nil {
			plan := *c.PrizePlan
			plan.UpdatedAt = opts.Now
			if err := r.Payouts().UpsertPlan(ctx, &plan); err != nil {
				return fmt.Errorf("upsert prize plan: %w", err)
			}
			res.PrizePlan = true
		}
		if !opts.Drops {
			return nil
		}
		for _, t := range c.Drops {
			d, err := c.BuildDrop(t, opts.Now)
			if err != nil {
				return err
			}
			if err := r.Drops().Create(ctx, d); err != nil {
				return fmt.Errorf("create drop %s: %w", t.Name, err)
			}
			res.Drops++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("content seeded",
		"catalog_items", res.CatalogItems,
		"recipes", res.Recipes,
		"prize_plan", res.PrizePlan,
		"drops", res.Drops,
	)
	return res, nil
}
