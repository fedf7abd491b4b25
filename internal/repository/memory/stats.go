package memory

import (
	"context"
	"time"

	"qafala_backend/internal/domain"
)

type statsRepo struct{ scope }

func (r statsRepo) Supply(_ context.Context, out *domain.EconomyStats) error {
	return r.do("stats.Supply", func(st *state) error {
		out.TotalUsers = int64(len(st.users))
		for _, u := range st.users {
			out.DinarSupply += u.Wallet.Dinar
			out.UsdMinorSupply += u.Wallet.UsdMinor
		}
		for _, p := range st.payouts {
			if p.Status == domain.PayoutAvailable || p.Status == domain.PayoutPending {
				out.OpenPayouts++
				out.OpenPayoutsMinor += p.AmountMinor
			}
		}
		return nil
	})
}

func (r statsRepo) Activity(_ context.Context, since time.Time) (domain.ActivityStats, error) {
	a := domain.ActivityStats{Since: since}
	err := r.do("stats.Activity", func(st *state) error {
		buyers := make(map[int64]struct{})
		for _, p := range st.purchases {
			if p.CreatedAt.Before(since) {
				continue
			}
			buyers[p.UserID] = struct{}{}
			a.Purchases++
			a.UnitsSold += p.Qty
			a.DinarSpent += p.CostDinar
		}
		a.ActiveBuyers = int64(len(buyers))
		for _, l := range st.logs {
			if !l.CreatedAt.Before(since) {
				a.Barters++
			}
		}
		return nil
	})
	return a, err
}
