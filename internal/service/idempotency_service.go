package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"
)

const maxIdempotencyKeyLen = 128

// IdempotencyGuard reserves client keys so a retried request runs once.
// Reservations are written outside the operation's transaction and
// released again when the operation fails.
type IdempotencyGuard struct {
	store repository.Store
	ttl   time.Duration
	now   Clock
}

func NewIdempotencyGuard(store repository.Store, ttl time.Duration, clock Clock) *IdempotencyGuard {
	return &IdempotencyGuard{store: store, ttl: ttl, now: clockOrDefault(clock)}
}

// Reserve claims key for userID. When the key is already held it returns
// false and the existing record. fingerprint identifies the request; a
// held key with a different fingerprint is rejected.
func (g *IdempotencyGuard) Reserve(ctx context.Context, userID int64, key, fingerprint string) (bool, *domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > maxIdempotencyKeyLen {
		return false, nil, fmt.Errorf("%w: bad idempotency key", domain.ErrInvalidInput)
	}
	now := g.now()
	rec := &domain.IdempotencyRecord{UserID: userID, Key: key, Endpoint: fingerprint, CreatedAt: now}
	created, existing, err := g.store.Idempotency().Reserve(ctx, rec, now.Add(-g.ttl))
	if err != nil {
		return false, nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if created {
		return true, nil, nil
	}
	if existing.Endpoint != fingerprint {
		return false, nil, fmt.Errorf("%w: idempotency key reused for a different request", domain.ErrInvalidInput)
	}
	return false, existing, nil
}

// Complete links the reservation to the record it produced. It runs inside
// the operation's unit of work.
func (g *IdempotencyGuard) Complete(ctx context.Context, r repository.Repos, userID int64, key, refKind, refID string) error {
	return r.Idempotency().Attach(ctx, userID, strings.TrimSpace(key), refKind, refID)
}

// Abandon drops a reservation after the operation failed so the client can
// retry with the same key.
func (g *IdempotencyGuard) Abandon(ctx context.Context, userID int64, key string) {
	if err := g.store.Idempotency().Release(context.WithoutCancel(ctx), userID, strings.TrimSpace(key)); err != nil {
		logger.WithContext(ctx).Warn("failed to release idempotency key", "user_id", userID, "error", err)
	}
}

// Purge removes expired reservations.
func (g *IdempotencyGuard) Purge(ctx context.Context) (int64, error) {
	return g.store.Idempotency().PurgeExpired(ctx, g.now().Add(-g.ttl))
}

func (g *IdempotencyGuard) observeReplay(endpoint string, completed bool) {
	outcome := "in_flight"
	if completed {
		outcome = "replayed"
	}
	metrics.IdempotentReplays.WithLabelValues(endpoint, outcome).Inc()
}
