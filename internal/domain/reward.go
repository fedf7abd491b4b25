package domain

import (
	"time"

	"github.com/google/uuid"
)

type PrizeTier struct {
	MinRank     int   `json:"min_rank" yaml:"min_rank"`
	MaxRank     int   `json:"max_rank" yaml:"max_rank"`
	AmountMinor int64 `json:"amount_minor" yaml:"amount_minor"`
}

// PrizePlan pays ranked winners from fixed tiers under a weekly cap.
type PrizePlan struct {
	Key            string      `db:"key" json:"key" yaml:"key"`
	Currency       string      `db:"currency" json:"currency" yaml:"currency"`
	WeeklyCapMinor int64       `db:"weekly_cap_minor" json:"weekly_cap_minor" yaml:"weekly_cap_minor"`
	Tiers          []PrizeTier `json:"tiers" yaml:"tiers"`
	Active         bool        `db:"active" json:"active" yaml:"active"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at" yaml:"-"`
}

// TierFor returns the first tier whose range contains rank.
func (p *PrizePlan) TierFor(rank int) (PrizeTier, bool) {
	for _, t := range p.Tiers {
		if rank >= t.MinRank && rank <= t.MaxRank {
			return t, true
		}
	}
	return PrizeTier{}, false
}

func (p *PrizePlan) Validate() error {
	if p.Key == "" || p.WeeklyCapMinor < 0 {
		return ErrInvalidInput
	}
	for _, t := range p.Tiers {
		if t.MinRank < 1 || t.MaxRank < t.MinRank || t.AmountMinor < 0 {
			return ErrInvalidInput
		}
	}
	return nil
}

type PayoutStatus string

const (
	PayoutAvailable PayoutStatus = "available"
	PayoutPending   PayoutStatus = "pending"
	PayoutClaimed   PayoutStatus = "claimed"
	PayoutFailed    PayoutStatus = "failed"
)

type WinnerPayout struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	UserID      int64        `db:"user_id" json:"user_id"`
	SeasonID    string       `db:"season_id" json:"season_id"`
	Rank        int          `db:"rank" json:"rank"`
	AmountMinor int64        `db:"amount_minor" json:"amount_minor"`
	Currency    string       `db:"currency" json:"currency"`
	Title       string       `db:"title" json:"title"`
	Status      PayoutStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	ClaimedAt   *time.Time   `db:"claimed_at" json:"claimed_at,omitempty"`
}

type ClaimMode string

const (
	ClaimToGame   ClaimMode = "to_game"
	ClaimWithdraw ClaimMode = "withdraw"
)

type ClaimRequest struct {
	Mode ClaimMode `json:"mode" binding:"required"`
}

type ClaimResult struct {
	Payout       WinnerPayout  `json:"payout"`
	CreditedGame int64         `json:"credited_game,omitempty"`
	User         *UserSnapshot `json:"user,omitempty"`
}
