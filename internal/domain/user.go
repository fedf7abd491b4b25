package domain

import "time"

// UserStats are participation counters consumed by badge awarding.
type UserStats struct {
	DropsParticipated int64 `db:"drops_participated" json:"drops_participated"`
	ItemsPurchased    int64 `db:"items_purchased" json:"items_purchased"`
	BarterTrades      int64 `db:"barter_trades" json:"barter_trades"`
	BadgesEarned      int64 `db:"badges_earned" json:"badges_earned"`
}

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Wallet       Wallet    `json:"wallet"`
	Points       int64     `db:"points" json:"points"`
	WeeklyPoints int64     `db:"weekly_points" json:"weekly_points"`
	XP           int64     `db:"xp" json:"xp"`
	Level        int       `db:"level" json:"level"`
	Stats        UserStats `json:"stats"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// UserSnapshot is the balance view returned after a mutation.
type UserSnapshot struct {
	Wallet       Wallet `json:"wallet"`
	Points       int64  `json:"points"`
	WeeklyPoints int64  `json:"weekly_points"`
	XP           int64  `json:"xp"`
	Level        int    `json:"level"`
}

func (u *User) Snapshot() UserSnapshot {
	return UserSnapshot{
		Wallet:       u.Wallet,
		Points:       u.Points,
		WeeklyPoints: u.WeeklyPoints,
		XP:           u.XP,
		Level:        u.Level,
	}
}
