package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

// StockNotifier is told about stock changes after a purchase commits.
type StockNotifier interface {
	StockChanged(dropID, itemID uuid.UUID, stock int64)
}

// PurchaseLimits are the anti-hoarding caps that apply on top of an item's
// own maxPerUser.
type PurchaseLimits struct {
	// PerDropPerUser caps units per user across one drop. Zero disables it.
	PerDropPerUser int64
	// PerItemWindow allows one purchase of the same item per window.
	PerItemWindow time.Duration
}

// PurchaseRequest is one buy call.
type PurchaseRequest struct {
	UserID         int64
	DropID         uuid.UUID
	ItemID         uuid.UUID
	Qty            int64
	IdempotencyKey string
}

func (r PurchaseRequest) fingerprint() string {
	return fmt.Sprintf("drop_buy:%s:%s:%d", r.DropID, r.ItemID, r.Qty)
}

const endpointBuy = "drop_buy"

// PurchaseEngine buys drop items for dinar.
type PurchaseEngine struct {
	store     repository.Store
	wallet    *WalletService
	inventory *InventoryService
	guard     *IdempotencyGuard
	progress  *ProgressService
	notifier  StockNotifier
	limits    PurchaseLimits
	now       Clock
}

func NewPurchaseEngine(store repository.Store, wallet *WalletService, inventory *InventoryService, guard *IdempotencyGuard, progress *ProgressService, limits PurchaseLimits, clock Clock) *PurchaseEngine {
	return &PurchaseEngine{
		store:     store,
		wallet:    wallet,
		inventory: inventory,
		guard:     guard,
		progress:  progress,
		limits:    limits,
		now:       clockOrDefault(clock),
	}
}

// SetNotifier registers the receiver of committed stock changes.
func (e *PurchaseEngine) SetNotifier(n StockNotifier) {
	e.notifier = n
}

// ActiveDrops lists the drops open at the current time.
func (e *PurchaseEngine) ActiveDrops(ctx context.Context) ([]domain.Drop, error) {
	return e.store.Drops().ListActive(ctx, e.now())
}

// Buy runs one purchase. With an idempotency key a retried call returns the
// original result instead of buying again.
func (e *PurchaseEngine) Buy(ctx context.Context, req PurchaseRequest) (*domain.PurchaseResult, error) {
	start := time.Now()
	res, err := e.buy(ctx, req)
	metrics.Purchases.WithLabelValues(metrics.Result(err)).Inc()
	metrics.PurchaseDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (e *PurchaseEngine) buy(ctx context.Context, req PurchaseRequest) (*domain.PurchaseResult, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	ctx = logger.ContextWith(ctx, "user_id", req.UserID, "drop_id", req.DropID, "item_id", req.ItemID)

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		fresh, existing, err := e.guard.Reserve(ctx, req.UserID, req.IdempotencyKey, req.fingerprint())
		if err != nil {
			return nil, err
		}
		if !fresh {
			return e.replay(ctx, req, existing)
		}
		// The purchase log outlives the reservation.
		p, err := e.store.Purchases().GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		switch {
		case err == nil:
			return e.replayExpired(ctx, req, p)
		case !errors.Is(err, repository.ErrNotFound):
			e.guard.Abandon(ctx, req.UserID, req.IdempotencyKey)
			return nil, err
		}
	}

	res, err := e.execute(ctx, req)
	if err != nil {
		if req.IdempotencyKey != "" {
			e.guard.Abandon(ctx, req.UserID, req.IdempotencyKey)
		}
		return nil, err
	}

	if e.notifier != nil {
		e.notifier.StockChanged(req.DropID, req.ItemID, res.StockLeft)
	}
	return res, nil
}

func (e *PurchaseEngine) execute(ctx context.Context, req PurchaseRequest) (*domain.PurchaseResult, error) {
	now := e.now()

	drop, err := e.store.Drops().GetByID(ctx, req.DropID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrDropUnavailable
		}
		return nil, err
	}
	if !drop.OpenAt(now) {
		return nil, domain.ErrDropUnavailable
	}
	item, ok := drop.Item(req.ItemID)
	if !ok {
		return nil, domain.ErrDropUnavailable
	}
	if item.Stock < req.Qty {
		return nil, domain.ErrOutOfStock
	}

	cost := item.PriceDinar * req.Qty
	var points, xp int64
	if !item.IsBarter() {
		points = item.GivesPoints * req.Qty
		xp = item.GivesXP * req.Qty
	}

	res := &domain.PurchaseResult{PurchaseID: uuid.New()}
	err = runUnit(ctx, e.store, "purchase", func(r repository.Repos, comp *compensator) error {
		u, err := r.Users().LockForUpdate(ctx, req.UserID)
		if err != nil {
			return userErr(err)
		}
		bought, err := e.checkCaps(ctx, r, req, item, now)
		if err != nil {
			return err
		}
		if u.Wallet.Dinar < cost {
			return domain.ErrInsufficientFunds
		}

		left, err := r.Drops().DecrementStock(ctx, drop.ID, item.ID, req.Qty)
		if err != nil {
			if errors.Is(err, repository.ErrConditionFailed) {
				return domain.ErrOutOfStock
			}
			return err
		}
		comp.add(func(ctx context.Context) error {
			metrics.Compensations.WithLabelValues(comp.op).Inc()
			_, err := r.Drops().IncrementStock(ctx, drop.ID, item.ID, req.Qty)
			return err
		})

		u, err = e.wallet.postUndoable(ctx, r, comp, req.UserID, LedgerEntry{
			Type:           domain.TxTypeSpend,
			Delta:          domain.WalletDelta{Dinar: -cost, Points: points, WeeklyPoints: points},
			Ref:            domain.LedgerRef{Kind: "purchase", ID: res.PurchaseID.String()},
			Meta:           domain.LedgerMeta{Title: "Drop purchase", Subtitle: item.Title, Icon: item.Icon, Direction: domain.DirectionOut, Tags: []string{"drop", string(item.Rarity)}},
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			return err
		}

		desc := item.InventoryDescriptor()
		if _, err := e.inventory.grantUndoable(ctx, r, comp, req.UserID, desc, req.Qty); err != nil {
			return err
		}

		if err := e.progress.AddStats(ctx, r, req.UserID, domain.UserStats{DropsParticipated: 1, ItemsPurchased: req.Qty}); err != nil {
			return err
		}
		u.XP, u.Level, err = e.progress.AwardXP(ctx, r, req.UserID, xp)
		if err != nil {
			return err
		}
		after := u.Snapshot()

		if err := r.Purchases().Create(ctx, &domain.PurchaseLog{
			ID:             res.PurchaseID,
			UserID:         req.UserID,
			DropID:         drop.ID,
			ItemID:         item.ID,
			ItemTitle:      item.Title,
			Qty:            req.Qty,
			CostDinar:      cost,
			PointsGained:   points,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			StockLeft:      left,
			BoughtTotal:    bought + req.Qty,
			UserAfter:      &after,
		}); err != nil {
			return fmt.Errorf("create purchase log: %w", err)
		}

		if req.IdempotencyKey != "" {
			err := e.guard.Complete(ctx, r, req.UserID, req.IdempotencyKey, "purchase", res.PurchaseID.String())
			if err != nil && e.store.Transactional() {
				return fmt.Errorf("attach idempotency key: %w", err)
			}
			if err != nil {
				logger.WithContext(ctx).Warn("purchase done but idempotency key not attached", "error", err)
			}
		}

		res.User = after
		res.StockLeft = left
		res.InventoryDelta = inventoryDelta(desc, req.Qty)
		res.Limits = domain.PurchaseLimits{BoughtThisItem: bought + req.Qty, MaxPerUser: item.MaxPerUser}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.progress.RecordPurchase(ctx, req.UserID, req.Qty, item.Rarity)
	logger.WithContext(ctx).Info("drop purchase", "purchase_id", res.PurchaseID, "qty", req.Qty, "cost", cost, "stock_left", res.StockLeft)
	return res, nil
}

// checkCaps enforces the anti-hoarding caps and returns how many units of
// the item the user already bought. Caps only apply to items that declare
// maxPerUser.
func (e *PurchaseEngine) checkCaps(ctx context.Context, r repository.Repos, req PurchaseRequest, item *domain.DropItem, now time.Time) (int64, error) {
	itemID, dropID := item.ID, req.DropID
	bought, err := r.Purchases().SumQty(ctx, domain.PurchaseFilter{UserID: req.UserID, ItemID: &itemID})
	if err != nil {
		return 0, err
	}
	if item.MaxPerUser == nil {
		return bought, nil
	}
	if bought+req.Qty > *item.MaxPerUser {
		return 0, domain.ErrAntiHoardingLimit
	}

	if e.limits.PerDropPerUser > 0 {
		inDrop, err := r.Purchases().SumQty(ctx, domain.PurchaseFilter{UserID: req.UserID, DropID: &dropID})
		if err != nil {
			return 0, err
		}
		if inDrop+req.Qty > e.limits.PerDropPerUser {
			return 0, domain.ErrAntiHoardingLimit
		}
	}

	if e.limits.PerItemWindow > 0 {
		since := now.Add(-e.limits.PerItemWindow)
		recent, err := r.Purchases().Count(ctx, domain.PurchaseFilter{UserID: req.UserID, ItemID: &itemID, Since: &since})
		if err != nil {
			return 0, err
		}
		if recent > 0 {
			return 0, domain.ErrAntiHoardingLimit
		}
	}
	return bought, nil
}

// replay answers a request whose key is already reserved.
func (e *PurchaseEngine) replay(ctx context.Context, req PurchaseRequest, rec *domain.IdempotencyRecord) (*domain.PurchaseResult, error) {
	var (
		p   *domain.PurchaseLog
		err error
	)
	if rec.Completed() {
		id, perr := uuid.Parse(rec.RefID)
		if perr != nil {
			return nil, fmt.Errorf("idempotency record has bad ref %q: %w", rec.RefID, perr)
		}
		p, err = e.store.Purchases().GetByID(ctx, id)
	} else {
		p, err = e.store.Purchases().GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	}
	if errors.Is(err, repository.ErrNotFound) {
		e.guard.observeReplay(endpointBuy, false)
		return nil, domain.ErrIdempotentReplay
	}
	if err != nil {
		return nil, err
	}
	e.guard.observeReplay(endpointBuy, true)
	return e.replayed(ctx, req, p)
}

// replayExpired answers a retry whose reservation had expired and was
// taken again. The new reservation is pointed at the original purchase.
func (e *PurchaseEngine) replayExpired(ctx context.Context, req PurchaseRequest, p *domain.PurchaseLog) (*domain.PurchaseResult, error) {
	if p.DropID != req.DropID || p.ItemID != req.ItemID || p.Qty != req.Qty {
		e.guard.Abandon(ctx, req.UserID, req.IdempotencyKey)
		return nil, fmt.Errorf("%w: idempotency key reused for a different request", domain.ErrInvalidInput)
	}
	if err := e.guard.Complete(ctx, e.store, req.UserID, req.IdempotencyKey, "purchase", p.ID.String()); err != nil {
		logger.WithContext(ctx).Warn("failed to attach idempotency key on replay", "error", err)
	}
	e.guard.observeReplay(endpointBuy, true)
	return e.replayed(ctx, req, p)
}

// replayed rebuilds the first response from the purchase log. Logs written
// before outcomes were recorded fall back to the current state.
func (e *PurchaseEngine) replayed(ctx context.Context, req PurchaseRequest, p *domain.PurchaseLog) (*domain.PurchaseResult, error) {
	drop, err := e.store.Drops().GetByID(ctx, p.DropID)
	if err != nil {
		return nil, err
	}
	item, ok := drop.Item(p.ItemID)
	if !ok {
		return nil, fmt.Errorf("purchase %s references missing item %s", p.ID, p.ItemID)
	}
	res := &domain.PurchaseResult{
		PurchaseID:     p.ID,
		InventoryDelta: inventoryDelta(item.InventoryDescriptor(), p.Qty),
		StockLeft:      p.StockLeft,
		Limits:         domain.PurchaseLimits{BoughtThisItem: p.BoughtTotal, MaxPerUser: item.MaxPerUser},
		Replayed:       true,
	}
	if p.UserAfter != nil {
		res.User = *p.UserAfter
		return res, nil
	}

	u, err := e.store.Users().GetByID(ctx, req.UserID)
	if err != nil {
		return nil, userErr(err)
	}
	itemID := item.ID
	bought, err := e.store.Purchases().SumQty(ctx, domain.PurchaseFilter{UserID: req.UserID, ItemID: &itemID})
	if err != nil {
		return nil, err
	}
	res.User = u.Snapshot()
	res.StockLeft = item.Stock
	res.Limits.BoughtThisItem = bought
	return res, nil
}

// History lists the newest purchases of a user.
func (e *PurchaseEngine) History(ctx context.Context, userID int64, limit int) ([]domain.PurchaseLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.Purchases().ListByUser(ctx, domain.PurchaseFilter{UserID: userID}, limit)
}

// DropHistory lists a user's purchases in one drop.
func (e *PurchaseEngine) DropHistory(ctx context.Context, userID int64, dropID uuid.UUID, limit int) ([]domain.PurchaseLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.Purchases().ListByUser(ctx, domain.PurchaseFilter{UserID: userID, DropID: &dropID}, limit)
}

// CreateDrop stores a drop built from catalog items. Used by admin tooling.
func (e *PurchaseEngine) CreateDrop(ctx context.Context, d *domain.Drop) error {
	if d.Name == "" || !d.EndsAt.After(d.StartsAt) || len(d.Items) == 0 {
		return fmt.Errorf("%w: drop needs a name, a window and items", domain.ErrInvalidInput)
	}
	for _, it := range d.Items {
		if it.Stock < 0 || it.PriceDinar < 0 || it.Title == "" {
			return fmt.Errorf("%w: bad drop item %q", domain.ErrInvalidInput, it.Key)
		}
	}
	return e.store.WithTx(ctx, func(r repository.Repos) error {
		return r.Drops().Create(ctx, d)
	})
}

func inventoryDelta(desc domain.ItemDescriptor, qty int64) domain.InventoryDelta {
	return domain.InventoryDelta{TypeKey: desc.TypeKey, ItemID: desc.ItemID, Title: desc.Title, Qty: qty}
}
