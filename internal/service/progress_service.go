package service

import (
	"context"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"
)

// Profile is the read model behind the profile endpoint.
type Profile struct {
	User      domain.User          `json:"user"`
	Level     domain.LevelProgress `json:"level"`
	Badges    []domain.UserBadge   `json:"badges"`
	Inventory int64                `json:"inventory_items"`
}

// ProgressService tracks XP, levels, participation counters and badges.
type ProgressService struct {
	store repository.Store
	now   Clock
}

func NewProgressService(store repository.Store, clock Clock) *ProgressService {
	return &ProgressService{store: store, now: clockOrDefault(clock)}
}

// AwardXP adds amount and moves the level to match the new total.
func (s *ProgressService) AwardXP(ctx context.Context, r repository.Repos, userID, amount int64) (int64, int, error) {
	if amount <= 0 {
		u, err := r.Users().GetByID(ctx, userID)
		if err != nil {
			return 0, 0, userErr(err)
		}
		return u.XP, u.Level, nil
	}
	xp, err := r.Users().AddXP(ctx, userID, amount)
	if err != nil {
		return 0, 0, userErr(err)
	}
	level := domain.LevelForXP(xp)
	if err := r.Users().SetLevel(ctx, userID, level); err != nil {
		return 0, 0, userErr(err)
	}
	return xp, level, nil
}

// AddStats bumps the participation counters.
func (s *ProgressService) AddStats(ctx context.Context, r repository.Repos, userID int64, d domain.UserStats) error {
	return userErr(r.Users().AddStats(ctx, userID, d))
}

// advance adds delta to one badge and flips it to earned once the target
// is reached.
func (s *ProgressService) advance(ctx context.Context, r repository.Repos, userID int64, key string, delta int64) error {
	def, ok := domain.Badges[key]
	if !ok || delta <= 0 {
		return nil
	}
	now := s.now()
	b, err := r.Badges().AddProgress(ctx, userID, key, def.Target, delta, now)
	if err != nil {
		return err
	}
	if b.Status != domain.BadgeLocked || b.Progress < b.Target {
		return nil
	}
	earned, err := r.Badges().MarkEarned(ctx, userID, key, now)
	if err != nil || !earned {
		return err
	}
	logger.WithContext(ctx).Info("badge earned", "user_id", userID, "badge", key)
	return r.Users().AddStats(ctx, userID, domain.UserStats{BadgesEarned: 1})
}

// RecordPurchase updates badge progress after a committed purchase. Badge
// failures never fail the purchase.
func (s *ProgressService) RecordPurchase(ctx context.Context, userID, qty int64, rarity domain.Rarity) {
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		if err := s.advance(ctx, r, userID, domain.BadgeDropsRookie, qty); err != nil {
			return err
		}
		if rarity == domain.RarityLegendary {
			return s.advance(ctx, r, userID, domain.BadgeLegendaryCollector, 1)
		}
		return nil
	})
	if err != nil {
		logger.WithContext(ctx).Warn("badge update failed", "user_id", userID, "error", err)
	}
}

// RecordBarter updates badge progress after a committed trade.
func (s *ProgressService) RecordBarter(ctx context.Context, userID int64) {
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		return s.advance(ctx, r, userID, domain.BadgeBarterMaster, 1)
	})
	if err != nil {
		logger.WithContext(ctx).Warn("badge update failed", "user_id", userID, "error", err)
	}
}

// Badges lists every known badge for a user, including untouched ones.
func (s *ProgressService) Badges(ctx context.Context, userID int64) ([]domain.UserBadge, error) {
	have, err := s.store.Badges().List(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(have))
	for _, b := range have {
		seen[b.BadgeKey] = true
	}
	for _, key := range []string{domain.BadgeDropsRookie, domain.BadgeLegendaryCollector, domain.BadgeBarterMaster} {
		if !seen[key] {
			have = append(have, domain.UserBadge{UserID: userID, BadgeKey: key, Target: domain.Badges[key].Target, Status: domain.BadgeLocked})
		}
	}
	return have, nil
}

// Profile assembles the user, level progress, badges and item count.
func (s *ProgressService) Profile(ctx context.Context, userID int64) (*Profile, error) {
	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	badges, err := s.Badges(ctx, userID)
	if err != nil {
		return nil, err
	}
	inv, err := s.store.Inventory().List(ctx, userID)
	if err != nil {
		return nil, err
	}
	var items int64
	for _, e := range inv {
		items += e.Qty
	}
	return &Profile{User: *u, Level: domain.ProgressForXP(u.XP), Badges: badges, Inventory: items}, nil
}
