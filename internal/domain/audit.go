package domain

import "time"

// AuditLog records an operator action against the economy.
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

const (
	AuditCategoryWallet      = "wallet"
	AuditCategoryLeaderboard = "leaderboard"
	AuditCategoryBarter      = "barter"
)

const (
	AuditActionTopup         = "wallet_topup"
	AuditActionAdjust        = "wallet_adjust"
	AuditActionFinalize      = "leaderboard_finalize"
	AuditActionConfigUpdate  = "leaderboard_config_update"
	AuditActionPrizePlanSave = "prize_plan_upsert"
	AuditActionBarterGrant   = "barter_grant"
)
