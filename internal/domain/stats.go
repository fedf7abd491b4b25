package domain

import "time"

// EconomyStats is the operator overview of the economy.
type EconomyStats struct {
	TotalUsers       int64 `json:"total_users"`
	DinarSupply      int64 `json:"dinar_supply"`
	UsdMinorSupply   int64 `json:"usd_minor_supply"`
	OpenPayouts      int64 `json:"open_payouts"`
	OpenPayoutsMinor int64 `json:"open_payouts_minor"`

	Today   ActivityStats `json:"today"`
	Week    ActivityStats `json:"week"`
	AllTime ActivityStats `json:"all_time"`
}

// ActivityStats counts purchases and barters since a point in time.
type ActivityStats struct {
	Since        time.Time `json:"since"`
	ActiveBuyers int64     `json:"active_buyers"`
	Purchases    int64     `json:"purchases"`
	UnitsSold    int64     `json:"units_sold"`
	DinarSpent   int64     `json:"dinar_spent"`
	Barters      int64     `json:"barters"`
}
