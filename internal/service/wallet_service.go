package service

import (
	"context"
	"errors"
	"fmt"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"
	"qafala_backend/internal/repository"
)

// LedgerEntry is one balance change together with the row that records it.
type LedgerEntry struct {
	Type           domain.TxType
	Delta          domain.WalletDelta
	Ref            domain.LedgerRef
	Meta           domain.LedgerMeta
	IdempotencyKey string
}

// reversal is the entry that undoes e. It is recorded as an adjustment so
// the ledger still explains the balance.
func (e LedgerEntry) reversal() LedgerEntry {
	return LedgerEntry{
		Type: domain.TxTypeAdjustment,
		Delta: domain.WalletDelta{
			Dinar:        -e.Delta.Dinar,
			UsdMinor:     -e.Delta.UsdMinor,
			Points:       -e.Delta.Points,
			WeeklyPoints: -e.Delta.WeeklyPoints,
		},
		Ref:  e.Ref,
		Meta: domain.LedgerMeta{Title: "Reversal", Subtitle: e.Meta.Title, Icon: e.Meta.Icon, Tags: []string{"reversal"}},
	}
}

// Reconciliation compares a wallet with the sum of its ledger rows.
type Reconciliation struct {
	UserID      int64         `json:"user_id"`
	Wallet      domain.Wallet `json:"wallet"`
	LedgerDinar int64         `json:"ledger_dinar"`
	LedgerUsd   int64         `json:"ledger_usd_minor"`
	Balanced    bool          `json:"balanced"`
}

// WalletService owns every balance mutation. Nothing else writes dinar or
// usd without a ledger row.
type WalletService struct {
	store          repository.Store
	usdToDinarRate int64
	now            Clock
}

// NewWalletService creates a wallet service. usdToDinarRate is the number
// of dinar one usd buys.
func NewWalletService(store repository.Store, usdToDinarRate int64, clock Clock) *WalletService {
	return &WalletService{store: store, usdToDinarRate: usdToDinarRate, now: clockOrDefault(clock)}
}

// Post applies e to the user row with a guarded update and appends the
// ledger row, both through r.
func (s *WalletService) Post(ctx context.Context, r repository.Repos, userID int64, e LedgerEntry) (*domain.User, error) {
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown ledger type %q", domain.ErrInvalidInput, e.Type)
	}

	u, err := r.Users().ApplyDelta(ctx, userID, e.Delta)
	if err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return nil, domain.ErrInsufficientFunds
		}
		return nil, userErr(err)
	}

	row := &domain.WalletTransaction{
		UserID:          userID,
		Type:            e.Type,
		AmountDinar:     e.Delta.Dinar,
		AmountUsdMinor:  e.Delta.UsdMinor,
		BalanceAfter:    u.Wallet.Dinar,
		BalanceUsdAfter: u.Wallet.UsdMinor,
		Ref:             e.Ref,
		Meta:            e.Meta,
		IdempotencyKey:  e.IdempotencyKey,
		CreatedAt:       s.now(),
	}
	if err := r.Ledger().Append(ctx, row); err != nil {
		if !s.store.Transactional() {
			if _, rerr := r.Users().ApplyDelta(context.WithoutCancel(ctx), userID, e.reversal().Delta); rerr != nil {
				logger.WithContext(ctx).Error("wallet left without ledger row", "user_id", userID, "type", e.Type, "error", rerr)
			}
		}
		return nil, fmt.Errorf("append ledger row: %w", err)
	}

	metrics.LedgerEntries.WithLabelValues(string(e.Type)).Inc()
	return u, nil
}

// postUndoable posts e and records its reversal on comp.
func (s *WalletService) postUndoable(ctx context.Context, r repository.Repos, comp *compensator, userID int64, e LedgerEntry) (*domain.User, error) {
	u, err := s.Post(ctx, r, userID, e)
	if err != nil {
		return nil, err
	}
	comp.add(func(ctx context.Context) error {
		metrics.Compensations.WithLabelValues(comp.op).Inc()
		_, err := s.Post(ctx, r, userID, e.reversal())
		return err
	})
	return u, nil
}

// Balance returns the user with its current wallet.
func (s *WalletService) Balance(ctx context.Context, userID int64) (*domain.User, error) {
	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	return u, nil
}

// TopUp credits amount of currency to a user. An empty currency means
// dinar.
func (s *WalletService) TopUp(ctx context.Context, userID, amount int64, currency domain.Currency, reason string) (*domain.User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput)
	}
	var delta domain.WalletDelta
	switch currency {
	case "", domain.CurrencyDinar:
		delta.Dinar = amount
	case domain.CurrencyUSD:
		delta.UsdMinor = amount
	default:
		return nil, fmt.Errorf("%w: unknown currency %q", domain.ErrInvalidInput, currency)
	}
	var out *domain.User
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		u, err := s.Post(ctx, r, userID, LedgerEntry{
			Type:  domain.TxTypeTopup,
			Delta: delta,
			Ref:   domain.LedgerRef{Kind: "topup"},
			Meta:  domain.LedgerMeta{Title: "Top up", Subtitle: reason, Direction: domain.DirectionIn, Tags: []string{"topup"}},
		})
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Adjust applies a signed dinar correction. A debit never takes the wallet
// below zero.
func (s *WalletService) Adjust(ctx context.Context, userID, amount int64, reason string) (*domain.User, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must not be zero", domain.ErrInvalidInput)
	}
	direction := domain.DirectionIn
	if amount < 0 {
		direction = domain.DirectionOut
	}
	var out *domain.User
	err := s.store.WithTx(ctx, func(r repository.Repos) error {
		u, err := s.Post(ctx, r, userID, LedgerEntry{
			Type:  domain.TxTypeAdjustment,
			Delta: domain.WalletDelta{Dinar: amount},
			Ref:   domain.LedgerRef{Kind: "adjustment"},
			Meta:  domain.LedgerMeta{Title: "Adjustment", Subtitle: reason, Direction: direction, Tags: []string{"admin"}},
		})
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExchangeQuote returns the dinar credited for usdMinor.
func (s *WalletService) ExchangeQuote(usdMinor int64) int64 {
	return usdMinor * s.usdToDinarRate / 100
}

// Exchange converts usd minor units to dinar as two ledger rows in one unit
// of work.
func (s *WalletService) Exchange(ctx context.Context, userID, usdMinor int64) (*domain.User, error) {
	if usdMinor <= 0 {
		return nil, fmt.Errorf("%w: usd amount must be positive", domain.ErrInvalidInput)
	}
	dinar := s.ExchangeQuote(usdMinor)
	if dinar <= 0 {
		return nil, fmt.Errorf("%w: amount too small to exchange", domain.ErrInvalidInput)
	}

	var out *domain.User
	err := runUnit(ctx, s.store, "wallet.exchange", func(r repository.Repos, comp *compensator) error {
		ref := domain.LedgerRef{Kind: "exchange"}
		if _, err := s.postUndoable(ctx, r, comp, userID, LedgerEntry{
			Type:  domain.TxTypeExchangeOut,
			Delta: domain.WalletDelta{UsdMinor: -usdMinor},
			Ref:   ref,
			Meta:  domain.LedgerMeta{Title: "Exchange", Subtitle: "USD to dinar", Direction: domain.DirectionOut, Tags: []string{"exchange"}},
		}); err != nil {
			return err
		}
		u, err := s.Post(ctx, r, userID, LedgerEntry{
			Type:  domain.TxTypeExchangeIn,
			Delta: domain.WalletDelta{Dinar: dinar},
			Ref:   ref,
			Meta:  domain.LedgerMeta{Title: "Exchange", Subtitle: "USD to dinar", Direction: domain.DirectionIn, Tags: []string{"exchange"}},
		})
		out = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the newest ledger rows of a user.
func (s *WalletService) History(ctx context.Context, userID int64, limit int) ([]domain.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Ledger().ListByUser(ctx, userID, limit)
}

// Reconcile checks that the ledger explains the wallet.
func (s *WalletService) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	u, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, userErr(err)
	}
	dinar, usd, err := s.store.Ledger().Sums(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Reconciliation{
		UserID:      userID,
		Wallet:      u.Wallet,
		LedgerDinar: dinar,
		LedgerUsd:   usd,
		Balanced:    dinar == u.Wallet.Dinar && usd == u.Wallet.UsdMinor,
	}, nil
}
