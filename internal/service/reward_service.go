package service

import (
	"context"
	"errors"
	"fmt"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

// RewardService lets winners claim their payouts, either as in-game dinar
// or as a withdrawal request that an operator settles later.
type RewardService struct {
	store    repository.Store
	wallet   *WalletService
	gcPerUSD int64
	now      Clock
}

// NewRewardService creates a reward service. gcPerUSD is the dinar paid
// per whole usd when a payout is claimed to the game wallet.
func NewRewardService(store repository.Store, wallet *WalletService, gcPerUSD int64, clock Clock) *RewardService {
	return &RewardService{store: store, wallet: wallet, gcPerUSD: gcPerUSD, now: clockOrDefault(clock)}
}

// List returns every payout of a user, newest first.
func (s *RewardService) List(ctx context.Context, userID int64) ([]domain.WinnerPayout, error) {
	return s.store.Payouts().ListByUser(ctx, userID)
}

// GameValue is the dinar credited for a payout claimed to the game.
func (s *RewardService) GameValue(amountMinor int64) int64 {
	return amountMinor * s.gcPerUSD / 100
}

// Claim settles one available payout.
func (s *RewardService) Claim(ctx context.Context, userID int64, payoutID uuid.UUID, mode domain.ClaimMode) (*domain.ClaimResult, error) {
	res, err := s.claim(ctx, userID, payoutID, mode)
	metrics.PayoutClaims.WithLabelValues(string(mode), metrics.Result(err)).Inc()
	return res, err
}

func (s *RewardService) claim(ctx context.Context, userID int64, payoutID uuid.UUID, mode domain.ClaimMode) (*domain.ClaimResult, error) {
	var to domain.PayoutStatus
	switch mode {
	case domain.ClaimToGame:
		to = domain.PayoutClaimed
	case domain.ClaimWithdraw:
		to = domain.PayoutPending
	default:
		return nil, fmt.Errorf("%w: unknown claim mode %q", domain.ErrInvalidInput, mode)
	}

	var out *domain.ClaimResult
	err := runUnit(ctx, s.store, "reward.claim", func(r repository.Repos, comp *compensator) error {
		p, err := r.Payouts().Transition(ctx, payoutID, userID, domain.PayoutAvailable, to, s.now())
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConditionFailed) {
				return domain.ErrPayoutNotAvailable
			}
			return err
		}
		comp.add(func(ctx context.Context) error {
			_, err := r.Payouts().Transition(ctx, payoutID, userID, to, domain.PayoutAvailable, s.now())
			return err
		})
		out = &domain.ClaimResult{Payout: *p}
		if mode != domain.ClaimToGame {
			return nil
		}

		credit := s.GameValue(p.AmountMinor)
		if credit <= 0 {
			return nil
		}
		u, err := s.wallet.Post(ctx, r, userID, LedgerEntry{
			Type:  domain.TxTypeReward,
			Delta: domain.WalletDelta{Dinar: credit},
			Ref:   domain.LedgerRef{Kind: "payout", ID: p.ID.String()},
			Meta:  domain.LedgerMeta{Title: "Weekly prize", Subtitle: p.Title, Direction: domain.DirectionIn, Tags: []string{"prize", p.SeasonID}},
		})
		if err != nil {
			return err
		}
		snap := u.Snapshot()
		out.CreditedGame = credit
		out.User = &snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx).Info("payout claimed", "user_id", userID, "payout_id", payoutID, "mode", mode)
	return out, nil
}

// ClaimAll moves every available payout of a user to pending withdrawal.
func (s *RewardService) ClaimAll(ctx context.Context, userID int64) (int64, error) {
	n, err := s.store.Payouts().TransitionAll(ctx, userID, domain.PayoutAvailable, domain.PayoutPending, s.now())
	metrics.PayoutClaims.WithLabelValues("withdraw_all", metrics.Result(err)).Inc()
	return n, err
}

// Settle records the operator's outcome for a pending withdrawal.
func (s *RewardService) Settle(ctx context.Context, userID int64, payoutID uuid.UUID, paid bool) (*domain.WinnerPayout, error) {
	to := domain.PayoutClaimed
	if !paid {
		to = domain.PayoutFailed
	}
	p, err := s.store.Payouts().Transition(ctx, payoutID, userID, domain.PayoutPending, to, s.now())
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConditionFailed) {
		return nil, domain.ErrPayoutNotAvailable
	}
	return p, err
}
