package service

import (
	"context"
	"fmt"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"
)

// AdminService provides operator statistics.
type AdminService struct {
	store repository.Store
	now   Clock
}

func NewAdminService(store repository.Store, clock Clock) *AdminService {
	return &AdminService{store: store, now: clockOrDefault(clock)}
}

// GetStats returns balances in circulation, open payouts and purchase
// activity for today (UTC), the last seven days and all time.
func (s *AdminService) GetStats(ctx context.Context) (*domain.EconomyStats, error) {
	stats := &domain.EconomyStats{}
	if err := s.store.Stats().Supply(ctx, stats); err != nil {
		return nil, fmt.Errorf("supply stats: %w", err)
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)
	weekAgo := today.Add(-7 * 24 * time.Hour)

	var err error
	if stats.Today, err = s.store.Stats().Activity(ctx, today); err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	if stats.Week, err = s.store.Stats().Activity(ctx, weekAgo); err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	if stats.AllTime, err = s.store.Stats().Activity(ctx, time.Time{}); err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	return stats, nil
}
