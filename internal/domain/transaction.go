package domain

import "time"

// TxType is the kind of a ledger row.
type TxType string

const (
	TxTypeTopup           TxType = "topup"
	TxTypeSpend           TxType = "spend"
	TxTypeReward          TxType = "reward"
	TxTypeExchangeIn      TxType = "exchange_in"
	TxTypeExchangeOut     TxType = "exchange_out"
	TxTypeWithdrawHold    TxType = "withdraw_hold"
	TxTypeWithdrawRelease TxType = "withdraw_release"
	TxTypeAdjustment      TxType = "adjustment"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeTopup, TxTypeSpend, TxTypeReward, TxTypeExchangeIn, TxTypeExchangeOut,
		TxTypeWithdrawHold, TxTypeWithdrawRelease, TxTypeAdjustment:
		return true
	}
	return false
}

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// LedgerRef points at the record that caused a ledger row.
type LedgerRef struct {
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`
}

// LedgerMeta is display data only.
type LedgerMeta struct {
	Title     string   `json:"title,omitempty"`
	Subtitle  string   `json:"subtitle,omitempty"`
	Icon      string   `json:"icon,omitempty"`
	Direction string   `json:"direction,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// WalletTransaction is an immutable ledger row.
type WalletTransaction struct {
	ID              int64      `db:"id" json:"id"`
	UserID          int64      `db:"user_id" json:"user_id"`
	Type            TxType     `db:"type" json:"type"`
	AmountDinar     int64      `db:"amount_dinar" json:"amount_dinar"`
	AmountUsdMinor  int64      `db:"amount_usd_minor" json:"amount_usd_minor"`
	BalanceAfter    int64      `db:"balance_after" json:"balance_after"`
	BalanceUsdAfter int64      `db:"balance_usd_after" json:"balance_usd_after"`
	Ref             LedgerRef  `json:"ref"`
	Meta            LedgerMeta `json:"meta"`
	IdempotencyKey  string     `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}
