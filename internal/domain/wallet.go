package domain

// Wallet holds both currencies of a user. Both fields are never negative.
type Wallet struct {
	Dinar    int64 `db:"dinar" json:"dinar"`
	UsdMinor int64 `db:"usd_minor" json:"usd_minor"`
}

type Currency string

const (
	CurrencyDinar Currency = "dinar"
	CurrencyUSD   Currency = "usd"
)

// WalletDelta is a signed change applied to a user row in one guarded update.
type WalletDelta struct {
	Dinar        int64
	UsdMinor     int64
	Points       int64
	WeeklyPoints int64
}

func (d WalletDelta) IsZero() bool {
	return d == WalletDelta{}
}

// ExchangeRequest converts usd minor units into dinar.
type ExchangeRequest struct {
	UsdMinor int64 `json:"usd_minor" binding:"required,min=1"`
}

// AdminCreditRequest is used by admin topup and adjustment endpoints.
type AdminCreditRequest struct {
	UserID   int64    `json:"user_id" binding:"required"`
	Amount   int64    `json:"amount" binding:"required"`
	Currency Currency `json:"currency"`
	Reason   string   `json:"reason"`
}
