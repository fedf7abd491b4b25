package memory

import (
	"context"
	"slices"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

type userRepo struct{ scope }

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	var out *domain.User
	err := r.do("users.GetByID", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

// LockForUpdate needs no extra locking: transactions are already serialized.
func (r userRepo) LockForUpdate(_ context.Context, id int64) (*domain.User, error) {
	var out *domain.User
	err := r.do("users.LockForUpdate", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

func (r userRepo) Create(_ context.Context, u *domain.User) error {
	return r.do("users.Create", func(st *state) error {
		if u.ID == 0 {
			st.nextUserID++
			u.ID = st.nextUserID
		} else if u.ID > st.nextUserID {
			st.nextUserID = u.ID
		}
		if _, exists := st.users[u.ID]; exists {
			return repository.ErrDuplicate
		}
		if u.Level == 0 {
			u.Level = 1
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		st.users[u.ID] = *u
		return nil
	})
}

func (r userRepo) ApplyDelta(_ context.Context, userID int64, d domain.WalletDelta) (*domain.User, error) {
	var out *domain.User
	err := r.do("users.ApplyDelta", func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		if u.Wallet.Dinar+d.Dinar < 0 || u.Wallet.UsdMinor+d.UsdMinor < 0 {
			return repository.ErrConditionFailed
		}
		u.Wallet.Dinar += d.Dinar
		u.Wallet.UsdMinor += d.UsdMinor
		u.Points += d.Points
		u.WeeklyPoints += d.WeeklyPoints
		st.users[userID] = u
		out = &u
		return nil
	})
	return out, err
}

func (r userRepo) AddStats(_ context.Context, userID int64, d domain.UserStats) error {
	return r.do("users.AddStats", func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		u.Stats.DropsParticipated += d.DropsParticipated
		u.Stats.ItemsPurchased += d.ItemsPurchased
		u.Stats.BarterTrades += d.BarterTrades
		u.Stats.BadgesEarned += d.BadgesEarned
		st.users[userID] = u
		return nil
	})
}

func (r userRepo) AddXP(_ context.Context, userID int64, amount int64) (int64, error) {
	var xp int64
	err := r.do("users.AddXP", func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		u.XP += amount
		st.users[userID] = u
		xp = u.XP
		return nil
	})
	return xp, err
}

func (r userRepo) SetLevel(_ context.Context, userID int64, level int) error {
	return r.do("users.SetLevel", func(st *state) error {
		u, ok := st.users[userID]
		if !ok {
			return repository.ErrNotFound
		}
		u.Level = level
		st.users[userID] = u
		return nil
	})
}

func (r userRepo) TopByWeeklyPoints(_ context.Context, limit int) ([]domain.User, error) {
	var out []domain.User
	err := r.do("users.TopByWeeklyPoints", func(st *state) error {
		out = scored(st)
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r userRepo) LockWeeklyScores(_ context.Context) ([]domain.User, error) {
	var out []domain.User
	err := r.do("users.LockWeeklyScores", func(st *state) error {
		out = scored(st)
		return nil
	})
	return out, err
}

func scored(st *state) []domain.User {
	var out []domain.User
	for _, u := range st.users {
		if u.WeeklyPoints > 0 {
			out = append(out, u)
		}
	}
	domain.RankByWeeklyPoints(out)
	return out
}

func (r userRepo) CountAboveWeeklyPoints(_ context.Context, points int64) (int64, error) {
	var n int64
	err := r.do("users.CountAboveWeeklyPoints", func(st *state) error {
		for _, u := range st.users {
			if u.WeeklyPoints > points {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r userRepo) ResetWeeklyPoints(_ context.Context, snapshot []domain.User) (int64, error) {
	var n int64
	err := r.do("users.ResetWeeklyPoints", func(st *state) error {
		for _, snap := range snapshot {
			u, ok := st.users[snap.ID]
			if !ok || snap.WeeklyPoints == 0 {
				continue
			}
			u.WeeklyPoints -= snap.WeeklyPoints
			st.users[snap.ID] = u
			n++
		}
		return nil
	})
	return n, err
}

type dropRepo struct{ scope }

func (r dropRepo) Create(_ context.Context, d *domain.Drop) error {
	return r.do("drops.Create", func(st *state) error {
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if _, exists := st.drops[d.ID]; exists {
			return repository.ErrDuplicate
		}
		for i := range d.Items {
			if d.Items[i].ID == uuid.Nil {
				d.Items[i].ID = uuid.New()
			}
			d.Items[i].DropID = d.ID
			if d.Items[i].InitialStock == 0 {
				d.Items[i].InitialStock = d.Items[i].Stock
			}
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now().UTC()
		}
		cp := *d
		cp.Items = slices.Clone(d.Items)
		st.drops[d.ID] = cp
		return nil
	})
}

func (r dropRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Drop, error) {
	var out *domain.Drop
	err := r.do("drops.GetByID", func(st *state) error {
		d, ok := st.drops[id]
		if !ok {
			return repository.ErrNotFound
		}
		d.Items = slices.Clone(d.Items)
		out = &d
		return nil
	})
	return out, err
}

func (r dropRepo) ListActive(_ context.Context, now time.Time) ([]domain.Drop, error) {
	var out []domain.Drop
	err := r.do("drops.ListActive", func(st *state) error {
		for _, d := range st.drops {
			if d.OpenAt(now) {
				d.Items = slices.Clone(d.Items)
				out = append(out, d)
			}
		}
		slices.SortFunc(out, func(a, b domain.Drop) int { return a.StartsAt.Compare(b.StartsAt) })
		return nil
	})
	return out, err
}

func (r dropRepo) adjustStock(op string, dropID, itemID uuid.UUID, delta int64) (int64, error) {
	var left int64
	err := r.do(op, func(st *state) error {
		d, ok := st.drops[dropID]
		if !ok {
			return repository.ErrNotFound
		}
		for i := range d.Items {
			if d.Items[i].ID != itemID {
				continue
			}
			if d.Items[i].Stock+delta < 0 {
				return repository.ErrConditionFailed
			}
			d.Items[i].Stock += delta
			left = d.Items[i].Stock
			st.drops[dropID] = d
			return nil
		}
		return repository.ErrNotFound
	})
	return left, err
}

func (r dropRepo) DecrementStock(_ context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error) {
	return r.adjustStock("drops.DecrementStock", dropID, itemID, -qty)
}

func (r dropRepo) IncrementStock(_ context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error) {
	return r.adjustStock("drops.IncrementStock", dropID, itemID, qty)
}

func (r dropRepo) Stock(_ context.Context, dropID, itemID uuid.UUID) (int64, error) {
	return r.adjustStock("drops.Stock", dropID, itemID, 0)
}

func (r dropRepo) ItemKey(_ context.Context, itemID uuid.UUID) (string, error) {
	var key string
	err := r.do("drops.ItemKey", func(st *state) error {
		for _, d := range st.drops {
			for _, it := range d.Items {
				if it.ID == itemID {
					key = it.Key
					return nil
				}
			}
		}
		return repository.ErrNotFound
	})
	return key, err
}

type purchaseRepo struct{ scope }

func matchPurchase(p *domain.PurchaseLog, f domain.PurchaseFilter) bool {
	if f.UserID != 0 && p.UserID != f.UserID {
		return false
	}
	if f.DropID != nil && p.DropID != *f.DropID {
		return false
	}
	if f.ItemID != nil && p.ItemID != *f.ItemID {
		return false
	}
	if f.Since != nil && p.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func (r purchaseRepo) Create(_ context.Context, p *domain.PurchaseLog) error {
	return r.do("purchases.Create", func(st *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.IdempotencyKey != "" {
			for _, existing := range st.purchases {
				if existing.UserID == p.UserID && existing.IdempotencyKey == p.IdempotencyKey {
					return repository.ErrDuplicate
				}
			}
		}
		st.purchases = append(st.purchases, *p)
		return nil
	})
}

func (r purchaseRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PurchaseLog, error) {
	var out *domain.PurchaseLog
	err := r.do("purchases.GetByID", func(st *state) error {
		for _, p := range st.purchases {
			if p.ID == id {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r purchaseRepo) GetByIdempotencyKey(_ context.Context, userID int64, key string) (*domain.PurchaseLog, error) {
	var out *domain.PurchaseLog
	err := r.do("purchases.GetByIdempotencyKey", func(st *state) error {
		for _, p := range st.purchases {
			if p.UserID == userID && p.IdempotencyKey == key {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r purchaseRepo) SumQty(_ context.Context, f domain.PurchaseFilter) (int64, error) {
	var sum int64
	err := r.do("purchases.SumQty", func(st *state) error {
		for i := range st.purchases {
			if matchPurchase(&st.purchases[i], f) {
				sum += st.purchases[i].Qty
			}
		}
		return nil
	})
	return sum, err
}

func (r purchaseRepo) Count(_ context.Context, f domain.PurchaseFilter) (int64, error) {
	var n int64
	err := r.do("purchases.Count", func(st *state) error {
		for i := range st.purchases {
			if matchPurchase(&st.purchases[i], f) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r purchaseRepo) ListByUser(_ context.Context, f domain.PurchaseFilter, limit int) ([]domain.PurchaseLog, error) {
	var out []domain.PurchaseLog
	err := r.do("purchases.ListByUser", func(st *state) error {
		for i := len(st.purchases) - 1; i >= 0; i-- {
			if matchPurchase(&st.purchases[i], f) {
				out = append(out, st.purchases[i])
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

type inventoryRepo struct{ scope }

func sameStack(e *domain.InventoryEntry, userID int64, d domain.ItemDescriptor) bool {
	if e.UserID != userID {
		return false
	}
	if d.TypeKey != "" {
		return e.TypeKey == d.TypeKey
	}
	return d.ItemID != nil && e.ItemID != nil && *e.ItemID == *d.ItemID
}

func matches(e *domain.InventoryEntry, m domain.InventoryMatch) bool {
	var have string
	switch m.Field {
	case domain.MatchTypeKey:
		have = e.TypeKey
	case domain.MatchIcon:
		have = e.Icon
	case domain.MatchItemID:
		if e.ItemID == nil {
			return false
		}
		id, err := uuid.Parse(m.Value)
		return err == nil && *e.ItemID == id
	default:
		return false
	}
	if have == "" {
		return false
	}
	if m.FoldCase {
		return domain.FoldKey(have) == domain.FoldKey(m.Value)
	}
	return have == m.Value
}

func (r inventoryRepo) Upsert(_ context.Context, userID int64, d domain.ItemDescriptor, qty int64, at time.Time) (*domain.InventoryEntry, error) {
	var out *domain.InventoryEntry
	err := r.do("inventory.Upsert", func(st *state) error {
		for i := range st.inventory {
			if sameStack(&st.inventory[i], userID, d) {
				st.inventory[i].Qty += qty
				e := st.inventory[i]
				out = &e
				return nil
			}
		}
		st.nextInvID++
		e := domain.InventoryEntry{ID: st.nextInvID, UserID: userID, ItemDescriptor: d, Qty: qty, AcquiredAt: at}
		st.inventory = append(st.inventory, e)
		out = &e
		return nil
	})
	return out, err
}

func (r inventoryRepo) DecrementMatching(_ context.Context, userID int64, m domain.InventoryMatch, qty int64) (bool, error) {
	var ok bool
	err := r.do("inventory.DecrementMatching", func(st *state) error {
		for i := range st.inventory {
			e := &st.inventory[i]
			if e.UserID == userID && e.Qty >= qty && matches(e, m) {
				e.Qty -= qty
				ok = true
				return nil
			}
		}
		return nil
	})
	return ok, err
}

func (r inventoryRepo) List(_ context.Context, userID int64) ([]domain.InventoryEntry, error) {
	var out []domain.InventoryEntry
	err := r.do("inventory.List", func(st *state) error {
		for _, e := range st.inventory {
			if e.UserID == userID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

type ledgerRepo struct{ scope }

func (r ledgerRepo) Append(_ context.Context, tx *domain.WalletTransaction) error {
	return r.do("ledger.Append", func(st *state) error {
		st.nextLedgerID++
		tx.ID = st.nextLedgerID
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = time.Now().UTC()
		}
		st.ledger = append(st.ledger, *tx)
		return nil
	})
}

func (r ledgerRepo) ListByUser(_ context.Context, userID int64, limit int) ([]domain.WalletTransaction, error) {
	var out []domain.WalletTransaction
	err := r.do("ledger.ListByUser", func(st *state) error {
		for i := len(st.ledger) - 1; i >= 0; i-- {
			if st.ledger[i].UserID == userID {
				out = append(out, st.ledger[i])
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

func (r ledgerRepo) Sums(_ context.Context, userID int64) (int64, int64, error) {
	var dinar, usd int64
	err := r.do("ledger.Sums", func(st *state) error {
		for _, tx := range st.ledger {
			if tx.UserID == userID {
				dinar += tx.AmountDinar
				usd += tx.AmountUsdMinor
			}
		}
		return nil
	})
	return dinar, usd, err
}
