package service

import (
	"testing"

	"qafala_backend/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) payout(t *testing.T, userID int64, season string, amount int64) uuid.UUID {
	t.Helper()
	p := &domain.WinnerPayout{UserID: userID, SeasonID: season, Rank: 1, AmountMinor: amount, Currency: "USD", Status: domain.PayoutAvailable, CreatedAt: t0}
	require.NoError(t, f.store.Payouts().Create(f.ctx, p))
	return p.ID
}

func TestClaimToGame(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, 0)
	id := f.payout(t, uid, "2025-W46", 5000)

	res, err := f.rewards.Claim(f.ctx, uid, id, domain.ClaimToGame)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutClaimed, res.Payout.Status)
	require.NotNil(t, res.Payout.ClaimedAt)
	assert.Equal(t, int64(1000), res.CreditedGame)
	require.NotNil(t, res.User)
	assert.Equal(t, int64(1000), res.User.Wallet.Dinar)

	rows, err := f.wallet.History(f.ctx, uid, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.TxTypeReward, rows[0].Type)
	assert.Equal(t, id.String(), rows[0].Ref.ID)
	f.requireBalanced(t, uid)

	_, err = f.rewards.Claim(f.ctx, uid, id, domain.ClaimToGame)
	assert.ErrorIs(t, err, domain.ErrPayoutNotAvailable)
	assert.Equal(t, int64(1000), f.get(t, uid).Wallet.Dinar)
}

func TestClaimWithdrawAndSettle(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, 0)
	id := f.payout(t, uid, "2025-W46", 3000)

	res, err := f.rewards.Claim(f.ctx, uid, id, domain.ClaimWithdraw)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutPending, res.Payout.Status)
	assert.Nil(t, res.User)
	assert.Zero(t, f.get(t, uid).Wallet.Dinar)

	_, err = f.rewards.Claim(f.ctx, uid, id, domain.ClaimToGame)
	assert.ErrorIs(t, err, domain.ErrPayoutNotAvailable)

	p, err := f.rewards.Settle(f.ctx, uid, id, true)
	require.NoError(t, err)
	assert.Equal(t, domain.PayoutClaimed, p.Status)

	_, err = f.rewards.Settle(f.ctx, uid, id, false)
	assert.ErrorIs(t, err, domain.ErrPayoutNotAvailable)
}

func TestClaimRejectsForeignAndUnknown(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, 0)
	thief := f.user(t, 0)
	id := f.payout(t, owner, "2025-W46", 3000)

	_, err := f.rewards.Claim(f.ctx, thief, id, domain.ClaimToGame)
	assert.ErrorIs(t, err, domain.ErrPayoutNotAvailable)
	_, err = f.rewards.Claim(f.ctx, owner, uuid.New(), domain.ClaimToGame)
	assert.ErrorIs(t, err, domain.ErrPayoutNotAvailable)
	_, err = f.rewards.Claim(f.ctx, owner, id, domain.ClaimMode("crypto"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClaimAll(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, 0)
	f.payout(t, uid, "2025-W45", 1000)
	f.payout(t, uid, "2025-W46", 2000)
	claimed := f.payout(t, uid, "2025-W47", 500)
	_, err := f.rewards.Claim(f.ctx, uid, claimed, domain.ClaimToGame)
	require.NoError(t, err)

	n, err := f.rewards.ClaimAll(f.ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := f.rewards.List(f.ctx, uid)
	require.NoError(t, err)
	statuses := map[domain.PayoutStatus]int{}
	for _, p := range list {
		statuses[p.Status]++
	}
	assert.Equal(t, 2, statuses[domain.PayoutPending])
	assert.Equal(t, 1, statuses[domain.PayoutClaimed])
}
