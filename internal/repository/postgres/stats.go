package postgres

import (
	"context"
	"time"

	"qafala_backend/internal/domain"
)

type statsRepo struct{ db DBTX }

func (r statsRepo) Supply(ctx context.Context, out *domain.EconomyStats) error {
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(dinar), 0), COALESCE(SUM(usd_minor), 0) FROM users`,
	).Scan(&out.TotalUsers, &out.DinarSupply, &out.UsdMinorSupply); err != nil {
		return err
	}
	return r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount_minor), 0)
		FROM winner_payouts WHERE status IN ($1, $2)`,
		string(domain.PayoutAvailable), string(domain.PayoutPending),
	).Scan(&out.OpenPayouts, &out.OpenPayoutsMinor)
}

func (r statsRepo) Activity(ctx context.Context, since time.Time) (domain.ActivityStats, error) {
	a := domain.ActivityStats{Since: since}
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id), COUNT(*), COALESCE(SUM(qty), 0), COALESCE(SUM(cost_dinar), 0)
		FROM purchases WHERE created_at >= $1`, since,
	).Scan(&a.ActiveBuyers, &a.Purchases, &a.UnitsSold, &a.DinarSpent); err != nil {
		return a, err
	}
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM barter_logs WHERE created_at >= $1`, since).Scan(&a.Barters)
	return a, err
}
