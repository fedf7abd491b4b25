package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

// BarterConfig tunes the barter engine.
type BarterConfig struct {
	// XP is credited for every confirmed trade.
	XP int64
	// AllowFallback lets confirm use the rarity table when no recipe exists.
	AllowFallback bool
}

// BarterEngine trades two distinct items for one output item.
type BarterEngine struct {
	store     repository.Store
	wallet    *WalletService
	inventory *InventoryService
	progress  *ProgressService
	rules     domain.BarterRules
	cfg       BarterConfig
	now       Clock
}

func NewBarterEngine(store repository.Store, wallet *WalletService, inventory *InventoryService, progress *ProgressService, rules domain.BarterRules, cfg BarterConfig, clock Clock) *BarterEngine {
	return &BarterEngine{
		store:     store,
		wallet:    wallet,
		inventory: inventory,
		progress:  progress,
		rules:     rules,
		cfg:       cfg,
		now:       clockOrDefault(clock),
	}
}

type resolution struct {
	in1, in2   *domain.CatalogItem
	ref1, ref2 ItemRef
	out        *domain.CatalogItem
	source     string
}

func (res *resolution) view() *domain.BarterResolution {
	return &domain.BarterResolution{
		Input1: domain.SnapshotOf(res.in1),
		Input2: domain.SnapshotOf(res.in2),
		Result: domain.SnapshotOf(res.out),
		Source: res.source,
	}
}

func (b *BarterEngine) lookupType(ctx context.Context, r repository.Repos, key string) (*domain.CatalogItem, error) {
	it, err := r.Catalog().Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTypeNotFound, key)
	}
	return it, err
}

// lookupInput resolves a client key to its catalog item. A drop-item id
// resolves through the key of that drop item.
func (b *BarterEngine) lookupInput(ctx context.Context, r repository.Repos, raw string) (*domain.CatalogItem, error) {
	key := raw
	if id, err := uuid.Parse(raw); err == nil {
		k, err := r.Drops().ItemKey(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTypeNotFound, raw)
		}
		if err != nil {
			return nil, err
		}
		key = k
	}
	return b.lookupType(ctx, r, key)
}

// enabledOutput loads the output of a trade, which must exist and be
// enabled.
func (b *BarterEngine) enabledOutput(ctx context.Context, r repository.Repos, key string) (*domain.CatalogItem, error) {
	out, err := r.Catalog().Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrOutputDisabled
	}
	if err != nil {
		return nil, err
	}
	if !out.Enabled {
		return nil, domain.ErrOutputDisabled
	}
	return out, nil
}

// resolve finds the output for an unordered pair. An explicit recipe wins;
// otherwise the rarity table decides when allowFallback is set.
func (b *BarterEngine) resolve(ctx context.Context, r repository.Repos, key1, key2 string, allowFallback bool) (*resolution, error) {
	key1, key2 = strings.TrimSpace(key1), strings.TrimSpace(key2)
	if key1 == "" || key2 == "" || key1 == key2 {
		return nil, fmt.Errorf("%w: two distinct item keys are required", domain.ErrInvalidInput)
	}

	in1, err := b.lookupInput(ctx, r, key1)
	if err != nil {
		return nil, err
	}
	in2, err := b.lookupInput(ctx, r, key2)
	if err != nil {
		return nil, err
	}
	if in1.Key == in2.Key {
		return nil, fmt.Errorf("%w: two distinct item keys are required", domain.ErrInvalidInput)
	}
	ref1, ref2 := barterRef(in1, key1), barterRef(in2, key2)
	if a, _ := domain.SortPair(in1.Key, in2.Key); a != in1.Key {
		in1, in2 = in2, in1
		ref1, ref2 = ref2, ref1
	}
	res := &resolution{in1: in1, in2: in2, ref1: ref1, ref2: ref2}

	rec, err := r.Barter().GetRecipe(ctx, in1.Key, in2.Key)
	switch {
	case err == nil:
		res.out, err = b.enabledOutput(ctx, r, rec.OutputKey)
		if err != nil {
			return nil, err
		}
		res.source = domain.BarterSourceRecipe
		return res, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	if !allowFallback {
		return nil, domain.ErrNoRecipe
	}
	key, source := b.rules.Resolve(in1.BaseRarity(), in2.BaseRarity())
	if key == "" {
		return nil, domain.ErrNoRecipe
	}
	res.out, err = b.enabledOutput(ctx, r, key)
	if err != nil {
		return nil, err
	}
	res.source = source
	return res, nil
}

// Preview reports what confirm would produce without touching inventory.
// strict disables the fallback table.
func (b *BarterEngine) Preview(ctx context.Context, key1, key2 string, strict bool) (*domain.BarterResolution, error) {
	res, err := b.resolve(ctx, b.store, key1, key2, b.cfg.AllowFallback && !strict)
	if err != nil {
		return nil, err
	}
	return res.view(), nil
}

// Confirm consumes one of each input and grants one output.
func (b *BarterEngine) Confirm(ctx context.Context, userID int64, key1, key2 string) (*domain.BarterConfirmResult, error) {
	ctx = logger.ContextWith(ctx, "user_id", userID)
	if !b.store.Transactional() {
		logger.WithContext(ctx).Warn("barter confirm running without transactions")
	}

	var out *domain.BarterConfirmResult
	source := "none"
	err := runUnit(ctx, b.store, "barter.confirm", func(r repository.Repos, comp *compensator) error {
		res, err := b.resolve(ctx, r, key1, key2, b.cfg.AllowFallback)
		if err != nil {
			return err
		}
		source = res.source

		for _, in := range []struct {
			item *domain.CatalogItem
			ref  ItemRef
		}{{res.in1, res.ref1}, {res.in2, res.ref2}} {
			if err := b.inventory.takeUndoable(ctx, r, comp, userID, in.ref, barterDescriptor(in.item), 1); err != nil {
				return err
			}
		}

		outDesc := barterDescriptor(res.out)
		outDesc.Rarity = domain.RarityBarterResult
		if _, err := b.inventory.grantUndoable(ctx, r, comp, userID, outDesc, 1); err != nil {
			return err
		}

		log := &domain.BarterLog{
			UserID:    userID,
			Item1:     domain.SnapshotOf(res.in1),
			Item2:     domain.SnapshotOf(res.in2),
			Result:    domain.SnapshotOf(res.out),
			Source:    res.source,
			CreatedAt: b.now(),
		}
		if err := r.Barter().CreateLog(ctx, log); err != nil {
			return fmt.Errorf("create barter log: %w", err)
		}

		if err := b.progress.AddStats(ctx, r, userID, domain.UserStats{BarterTrades: 1}); err != nil {
			return err
		}
		if _, _, err := b.progress.AwardXP(ctx, r, userID, b.cfg.XP); err != nil {
			return err
		}
		u, err := r.Users().GetByID(ctx, userID)
		if err != nil {
			return userErr(err)
		}
		out = &domain.BarterConfirmResult{Log: *log, User: u.Snapshot()}
		return nil
	})
	metrics.BarterTrades.WithLabelValues(source, metrics.Result(err)).Inc()
	if err != nil {
		return nil, err
	}

	b.progress.RecordBarter(ctx, userID)
	logger.WithContext(ctx).Info("barter confirmed", "log_id", out.Log.ID, "result", out.Log.Result.Key, "source", out.Log.Source)
	return out, nil
}

// Use redeems one barter result for points. The oldest unused trade log of
// that result is marked used and decides the points when it has any.
func (b *BarterEngine) Use(ctx context.Context, userID int64, itemKey string) (*domain.BarterUseResult, error) {
	raw := strings.TrimSpace(itemKey)
	item, err := b.lookupInput(ctx, b.store, raw)
	if err != nil {
		return nil, err
	}

	var out *domain.BarterUseResult
	err = runUnit(ctx, b.store, "barter.use", func(r repository.Repos, comp *compensator) error {
		desc := barterDescriptor(item)
		desc.Rarity = domain.RarityBarterResult
		if err := b.inventory.takeUndoable(ctx, r, comp, userID, barterRef(item, raw), desc, 1); err != nil {
			return err
		}

		points := item.GivesPoints
		ref := domain.LedgerRef{Kind: "barter_use", ID: item.Key}
		log, err := r.Barter().MarkOldestUnused(ctx, userID, item.Key, b.now())
		switch {
		case err == nil:
			ref.ID = log.ID.String()
			if log.Result.Points > 0 {
				points = log.Result.Points
			}
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		u, err := b.wallet.Post(ctx, r, userID, LedgerEntry{
			Type:  domain.TxTypeReward,
			Delta: domain.WalletDelta{Points: points, WeeklyPoints: points},
			Ref:   ref,
			Meta:  domain.LedgerMeta{Title: "Barter reward", Subtitle: item.Title, Icon: item.Icon, Direction: domain.DirectionIn, Tags: []string{"barter"}},
		})
		if err != nil {
			return err
		}
		out = &domain.BarterUseResult{ItemKey: item.Key, PointsEarned: points, User: u.Snapshot()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Grant adds qty of a catalog item to a user's inventory. Used by admins.
func (b *BarterEngine) Grant(ctx context.Context, userID int64, itemKey string, qty int64) (*domain.InventoryEntry, error) {
	item, err := b.lookupType(ctx, b.store, strings.TrimSpace(itemKey))
	if err != nil {
		return nil, err
	}
	if _, err := b.store.Users().GetByID(ctx, userID); err != nil {
		return nil, userErr(err)
	}
	return b.inventory.Grant(ctx, b.store, userID, barterDescriptor(item), qty)
}

// Catalog lists the known item types.
func (b *BarterEngine) Catalog(ctx context.Context) ([]domain.CatalogItem, error) {
	return b.store.Catalog().List(ctx)
}

// Recipes lists the explicit recipes.
func (b *BarterEngine) Recipes(ctx context.Context) ([]domain.BarterRecipe, error) {
	return b.store.Barter().ListRecipes(ctx)
}

// Rules returns the fallback configuration.
func (b *BarterEngine) Rules() domain.BarterRules {
	return b.rules
}

// History lists the newest trades of a user.
func (b *BarterEngine) History(ctx context.Context, userID int64, limit int) ([]domain.BarterLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return b.store.Barter().ListLogs(ctx, userID, limit)
}
