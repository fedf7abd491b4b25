package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

type idempotencyRepo struct{ scope }

func (r idempotencyRepo) Reserve(_ context.Context, rec *domain.IdempotencyRecord, expiredBefore time.Time) (bool, *domain.IdempotencyRecord, error) {
	var (
		created  bool
		existing *domain.IdempotencyRecord
	)
	err := r.do("idempotency.Reserve", func(st *state) error {
		k := idemKey{rec.UserID, rec.Key}
		if cur, ok := st.idem[k]; ok && !cur.CreatedAt.Before(expiredBefore) {
			existing = &cur
			return nil
		}
		st.idem[k] = *rec
		created = true
		return nil
	})
	return created, existing, err
}

func (r idempotencyRepo) Attach(_ context.Context, userID int64, key, refKind, refID string) error {
	return r.do("idempotency.Attach", func(st *state) error {
		k := idemKey{userID, key}
		cur, ok := st.idem[k]
		if !ok {
			return repository.ErrNotFound
		}
		cur.RefKind, cur.RefID = refKind, refID
		st.idem[k] = cur
		return nil
	})
}

func (r idempotencyRepo) Release(_ context.Context, userID int64, key string) error {
	return r.do("idempotency.Release", func(st *state) error {
		delete(st.idem, idemKey{userID, key})
		return nil
	})
}

func (r idempotencyRepo) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.do("idempotency.PurgeExpired", func(st *state) error {
		for k, rec := range st.idem {
			if rec.CreatedAt.Before(before) {
				delete(st.idem, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

type catalogRepo struct{ scope }

func (r catalogRepo) Get(_ context.Context, key string) (*domain.CatalogItem, error) {
	var out *domain.CatalogItem
	err := r.do("catalog.Get", func(st *state) error {
		it, ok := st.catalog[key]
		if !ok {
			return repository.ErrNotFound
		}
		out = &it
		return nil
	})
	return out, err
}

func (r catalogRepo) Upsert(_ context.Context, item *domain.CatalogItem) error {
	return r.do("catalog.Upsert", func(st *state) error {
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = time.Now().UTC()
		}
		st.catalog[item.Key] = *item
		return nil
	})
}

func (r catalogRepo) List(_ context.Context) ([]domain.CatalogItem, error) {
	var out []domain.CatalogItem
	err := r.do("catalog.List", func(st *state) error {
		for _, it := range st.catalog {
			out = append(out, it)
		}
		slices.SortFunc(out, func(a, b domain.CatalogItem) int { return cmp.Compare(a.Key, b.Key) })
		return nil
	})
	return out, err
}

type barterRepo struct{ scope }

func (r barterRepo) GetRecipe(_ context.Context, inputA, inputB string) (*domain.BarterRecipe, error) {
	var out *domain.BarterRecipe
	err := r.do("barter.GetRecipe", func(st *state) error {
		rec, ok := st.recipes[domain.PairKey(inputA, inputB)]
		if !ok {
			return repository.ErrNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r barterRepo) UpsertRecipe(_ context.Context, rec *domain.BarterRecipe) error {
	return r.do("barter.UpsertRecipe", func(st *state) error {
		c := rec.Canonical()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		st.recipes[c.Key()] = c
		return nil
	})
}

func (r barterRepo) ListRecipes(_ context.Context) ([]domain.BarterRecipe, error) {
	var out []domain.BarterRecipe
	err := r.do("barter.ListRecipes", func(st *state) error {
		for _, rec := range st.recipes {
			out = append(out, rec)
		}
		slices.SortFunc(out, func(a, b domain.BarterRecipe) int { return cmp.Compare(a.Key(), b.Key()) })
		return nil
	})
	return out, err
}

func (r barterRepo) CreateLog(_ context.Context, l *domain.BarterLog) error {
	return r.do("barter.CreateLog", func(st *state) error {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		st.logs = append(st.logs, *l)
		return nil
	})
}

func (r barterRepo) MarkOldestUnused(_ context.Context, userID int64, resultKey string, at time.Time) (*domain.BarterLog, error) {
	var out *domain.BarterLog
	err := r.do("barter.MarkOldestUnused", func(st *state) error {
		for i := range st.logs {
			l := &st.logs[i]
			if l.UserID == userID && !l.Used && l.Result.Key == resultKey {
				usedAt := at
				l.Used = true
				l.UsedAt = &usedAt
				cp := *l
				out = &cp
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r barterRepo) ListLogs(_ context.Context, userID int64, limit int) ([]domain.BarterLog, error) {
	var out []domain.BarterLog
	err := r.do("barter.ListLogs", func(st *state) error {
		for i := len(st.logs) - 1; i >= 0; i-- {
			if st.logs[i].UserID == userID {
				out = append(out, st.logs[i])
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}

type seasonRepo struct{ scope }

func (r seasonRepo) Get(_ context.Context, seasonID string) (*domain.Season, error) {
	var out *domain.Season
	err := r.do("seasons.Get", func(st *state) error {
		s, ok := st.seasons[seasonID]
		if !ok {
			return repository.ErrNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r seasonRepo) OldestOpen(_ context.Context) (*domain.Season, error) {
	var out *domain.Season
	err := r.do("seasons.OldestOpen", func(st *state) error {
		for _, s := range st.seasons {
			if s.Finalized {
				continue
			}
			if out == nil || s.StartAt.Before(out.StartAt) {
				cp := s
				out = &cp
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r seasonRepo) CreateIfAbsent(_ context.Context, s *domain.Season) (bool, error) {
	var created bool
	err := r.do("seasons.CreateIfAbsent", func(st *state) error {
		if _, ok := st.seasons[s.SeasonID]; ok {
			return nil
		}
		st.seasons[s.SeasonID] = *s
		created = true
		return nil
	})
	return created, err
}

func (r seasonRepo) MarkFinalized(_ context.Context, seasonID string, winners []domain.SeasonWinner, at time.Time) error {
	return r.do("seasons.MarkFinalized", func(st *state) error {
		s, ok := st.seasons[seasonID]
		if !ok {
			return repository.ErrNotFound
		}
		if s.Finalized {
			return repository.ErrConditionFailed
		}
		finalizedAt := at
		s.Finalized = true
		s.Winners = slices.Clone(winners)
		s.FinalizedAt = &finalizedAt
		st.seasons[seasonID] = s
		return nil
	})
}

func (r seasonRepo) ListFinalized(_ context.Context, limit int) ([]domain.Season, error) {
	var out []domain.Season
	err := r.do("seasons.ListFinalized", func(st *state) error {
		for _, s := range st.seasons {
			if s.Finalized {
				out = append(out, s)
			}
		}
		slices.SortFunc(out, func(a, b domain.Season) int { return b.StartAt.Compare(a.StartAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r seasonRepo) GetConfig(_ context.Context) (*domain.LeaderboardConfig, error) {
	var out *domain.LeaderboardConfig
	err := r.do("seasons.GetConfig", func(st *state) error {
		if st.config == nil {
			return repository.ErrNotFound
		}
		cfg := *st.config
		out = &cfg
		return nil
	})
	return out, err
}

func (r seasonRepo) SaveConfig(_ context.Context, c *domain.LeaderboardConfig) error {
	return r.do("seasons.SaveConfig", func(st *state) error {
		cfg := *c
		st.config = &cfg
		return nil
	})
}

type lockRepo struct{ scope }

func (r lockRepo) Acquire(_ context.Context, lock *domain.JobLock, expiredBefore time.Time) error {
	return r.do("locks.Acquire", func(st *state) error {
		if cur, ok := st.locks[lock.Key]; ok && !cur.CreatedAt.Before(expiredBefore) {
			return repository.ErrDuplicate
		}
		st.locks[lock.Key] = *lock
		return nil
	})
}

func (r lockRepo) Release(_ context.Context, key, owner string) error {
	return r.do("locks.Release", func(st *state) error {
		if cur, ok := st.locks[key]; ok && cur.Owner == owner {
			delete(st.locks, key)
		}
		return nil
	})
}

func (r lockRepo) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.do("locks.PurgeExpired", func(st *state) error {
		for k, l := range st.locks {
			if l.CreatedAt.Before(before) {
				delete(st.locks, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

type payoutRepo struct{ scope }

func (r payoutRepo) ActivePlan(_ context.Context) (*domain.PrizePlan, error) {
	var out *domain.PrizePlan
	err := r.do("payouts.ActivePlan", func(st *state) error {
		for _, p := range st.plans {
			if p.Active && (out == nil || p.Key < out.Key) {
				cp := p
				out = &cp
			}
		}
		if out == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r payoutRepo) UpsertPlan(_ context.Context, p *domain.PrizePlan) error {
	return r.do("payouts.UpsertPlan", func(st *state) error {
		if p.Active {
			for k, other := range st.plans {
				if k != p.Key && other.Active {
					other.Active = false
					st.plans[k] = other
				}
			}
		}
		cp := *p
		cp.Tiers = slices.Clone(p.Tiers)
		st.plans[p.Key] = cp
		return nil
	})
}

func (r payoutRepo) Create(_ context.Context, p *domain.WinnerPayout) error {
	return r.do("payouts.Create", func(st *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		for _, existing := range st.payouts {
			if existing.UserID == p.UserID && existing.SeasonID == p.SeasonID {
				return repository.ErrDuplicate
			}
		}
		st.payouts = append(st.payouts, *p)
		return nil
	})
}

func (r payoutRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WinnerPayout, error) {
	var out *domain.WinnerPayout
	err := r.do("payouts.GetByID", func(st *state) error {
		for _, p := range st.payouts {
			if p.ID == id {
				out = &p
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r payoutRepo) ListByUser(_ context.Context, userID int64) ([]domain.WinnerPayout, error) {
	var out []domain.WinnerPayout
	err := r.do("payouts.ListByUser", func(st *state) error {
		for i := len(st.payouts) - 1; i >= 0; i-- {
			if st.payouts[i].UserID == userID {
				out = append(out, st.payouts[i])
			}
		}
		return nil
	})
	return out, err
}

func (r payoutRepo) ListBySeason(_ context.Context, seasonID string) ([]domain.WinnerPayout, error) {
	var out []domain.WinnerPayout
	err := r.do("payouts.ListBySeason", func(st *state) error {
		for _, p := range st.payouts {
			if p.SeasonID == seasonID {
				out = append(out, p)
			}
		}
		slices.SortFunc(out, func(a, b domain.WinnerPayout) int { return cmp.Compare(a.Rank, b.Rank) })
		return nil
	})
	return out, err
}

func (r payoutRepo) Transition(_ context.Context, id uuid.UUID, userID int64, from, to domain.PayoutStatus, at time.Time) (*domain.WinnerPayout, error) {
	var out *domain.WinnerPayout
	err := r.do("payouts.Transition", func(st *state) error {
		for i := range st.payouts {
			p := &st.payouts[i]
			if p.ID != id || p.UserID != userID {
				continue
			}
			if p.Status != from {
				return repository.ErrConditionFailed
			}
			applyStatus(p, to, at)
			cp := *p
			out = &cp
			return nil
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r payoutRepo) TransitionAll(_ context.Context, userID int64, from, to domain.PayoutStatus, at time.Time) (int64, error) {
	var n int64
	err := r.do("payouts.TransitionAll", func(st *state) error {
		for i := range st.payouts {
			p := &st.payouts[i]
			if p.UserID == userID && p.Status == from {
				applyStatus(p, to, at)
				n++
			}
		}
		return nil
	})
	return n, err
}

func applyStatus(p *domain.WinnerPayout, to domain.PayoutStatus, at time.Time) {
	p.Status = to
	if to == domain.PayoutClaimed {
		claimedAt := at
		p.ClaimedAt = &claimedAt
	}
}

type badgeRepo struct{ scope }

func (r badgeRepo) AddProgress(_ context.Context, userID int64, key string, target, delta int64, at time.Time) (*domain.UserBadge, error) {
	var out *domain.UserBadge
	err := r.do("badges.AddProgress", func(st *state) error {
		k := badgeKey{userID, key}
		b, ok := st.badges[k]
		if !ok {
			b = domain.UserBadge{UserID: userID, BadgeKey: key, Target: target, Status: domain.BadgeLocked}
		}
		b.Progress += delta
		b.UpdatedAt = at
		st.badges[k] = b
		out = &b
		return nil
	})
	return out, err
}

func (r badgeRepo) MarkEarned(_ context.Context, userID int64, key string, at time.Time) (bool, error) {
	var earned bool
	err := r.do("badges.MarkEarned", func(st *state) error {
		k := badgeKey{userID, key}
		b, ok := st.badges[k]
		if !ok || b.Status != domain.BadgeLocked {
			return nil
		}
		earnedAt := at
		b.Status = domain.BadgeEarned
		b.EarnedAt = &earnedAt
		b.UpdatedAt = at
		st.badges[k] = b
		earned = true
		return nil
	})
	return earned, err
}

func (r badgeRepo) List(_ context.Context, userID int64) ([]domain.UserBadge, error) {
	var out []domain.UserBadge
	err := r.do("badges.List", func(st *state) error {
		for k, b := range st.badges {
			if k.userID == userID {
				out = append(out, b)
			}
		}
		slices.SortFunc(out, func(a, b domain.UserBadge) int { return cmp.Compare(a.BadgeKey, b.BadgeKey) })
		return nil
	})
	return out, err
}

type auditRepo struct{ scope }

func (r auditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	return r.do("audit.Create", func(st *state) error {
		st.nextAuditID++
		log.ID = st.nextAuditID
		if log.CreatedAt.IsZero() {
			log.CreatedAt = time.Now().UTC()
		}
		st.audit = append(st.audit, *log)
		return nil
	})
}

func (r auditRepo) ListByUser(_ context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	var out []domain.AuditLog
	err := r.do("audit.ListByUser", func(st *state) error {
		for i := len(st.audit) - 1; i >= 0; i-- {
			if st.audit[i].UserID == userID {
				out = append(out, st.audit[i])
				if limit > 0 && len(out) == limit {
					break
				}
			}
		}
		return nil
	})
	return out, err
}
