package domain

import "time"

type BadgeStatus string

const (
	BadgeLocked BadgeStatus = "locked"
	BadgeEarned BadgeStatus = "earned"
)

const (
	BadgeDropsRookie        = "drops_rookie"
	BadgeLegendaryCollector = "legendary_collector"
	BadgeBarterMaster       = "barter_master"
)

type BadgeDefinition struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Target int64  `json:"target"`
}

var Badges = map[string]BadgeDefinition{
	BadgeDropsRookie:        {Key: BadgeDropsRookie, Title: "Drops Rookie", Target: 10},
	BadgeLegendaryCollector: {Key: BadgeLegendaryCollector, Title: "Legendary Collector", Target: 1},
	BadgeBarterMaster:       {Key: BadgeBarterMaster, Title: "Barter Master", Target: 5},
}

type UserBadge struct {
	UserID    int64       `db:"user_id" json:"user_id"`
	BadgeKey  string      `db:"badge_key" json:"badge_key"`
	Progress  int64       `db:"progress" json:"progress"`
	Target    int64       `db:"target" json:"target"`
	Status    BadgeStatus `db:"status" json:"status"`
	EarnedAt  *time.Time  `db:"earned_at" json:"earned_at,omitempty"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
