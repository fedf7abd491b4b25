package postgres

import (
	"context"
	"errors"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, username, dinar, usd_minor, points, weekly_points, xp, level,
	drops_participated, items_purchased, barter_trades, badges_earned, created_at`

type userRepo struct{ db DBTX }

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Wallet.Dinar,
		&u.Wallet.UsdMinor,
		&u.Points,
		&u.WeeklyPoints,
		&u.XP,
		&u.Level,
		&u.Stats.DropsParticipated,
		&u.Stats.ItemsPurchased,
		&u.Stats.BarterTrades,
		&u.Stats.BadgesEarned,
		&u.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r userRepo) LockForUpdate(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (r userRepo) Create(ctx context.Context, u *domain.User) error {
	if u.Level == 0 {
		u.Level = 1
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.ID != 0 {
		_, err := r.db.Exec(ctx,
			`INSERT INTO users (id, username, level, created_at) VALUES ($1, $2, $3, $4)`,
			u.ID, u.Username, u.Level, u.CreatedAt,
		)
		return mapErr(err)
	}
	return mapErr(r.db.QueryRow(ctx,
		`INSERT INTO users (username, level, created_at) VALUES ($1, $2, $3) RETURNING id`,
		u.Username, u.Level, u.CreatedAt,
	).Scan(&u.ID))
}

func (r userRepo) ApplyDelta(ctx context.Context, userID int64, d domain.WalletDelta) (*domain.User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `
		UPDATE users
		SET dinar = dinar + $2,
		    usd_minor = usd_minor + $3,
		    points = points + $4,
		    weekly_points = weekly_points + $5
		WHERE id = $1 AND dinar + $2 >= 0 AND usd_minor + $3 >= 0
		RETURNING `+userColumns,
		userID, d.Dinar, d.UsdMinor, d.Points, d.WeeklyPoints,
	))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, missingOr(ctx, r.db, `SELECT 1 FROM users WHERE id = $1`, userID)
	}
	return u, err
}

func (r userRepo) AddStats(ctx context.Context, userID int64, d domain.UserStats) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET drops_participated = drops_participated + $2,
		    items_purchased = items_purchased + $3,
		    barter_trades = barter_trades + $4,
		    badges_earned = badges_earned + $5
		WHERE id = $1`,
		userID, d.DropsParticipated, d.ItemsPurchased, d.BarterTrades, d.BadgesEarned,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r userRepo) AddXP(ctx context.Context, userID int64, amount int64) (int64, error) {
	var xp int64
	err := r.db.QueryRow(ctx, `UPDATE users SET xp = xp + $2 WHERE id = $1 RETURNING xp`, userID, amount).Scan(&xp)
	return xp, mapErr(err)
}

func (r userRepo) SetLevel(ctx context.Context, userID int64, level int) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET level = $2 WHERE id = $1`, userID, level)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r userRepo) TopByWeeklyPoints(ctx context.Context, limit int) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE weekly_points > 0
		ORDER BY weekly_points DESC, id ASC
		LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

// LockWeeklyScores locks in id order and ranks in Go: under FOR UPDATE a
// row updated while waiting comes back with its new value, out of any
// ORDER BY on that value.
func (r userRepo) LockWeeklyScores(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE weekly_points > 0
		ORDER BY id
		FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	out, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	domain.RankByWeeklyPoints(out)
	return out, nil
}

func collectUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r userRepo) CountAboveWeeklyPoints(ctx context.Context, points int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE weekly_points > $1`, points).Scan(&n)
	return n, err
}

func (r userRepo) ResetWeeklyPoints(ctx context.Context, snapshot []domain.User) (int64, error) {
	if len(snapshot) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(snapshot))
	points := make([]int64, len(snapshot))
	for i, u := range snapshot {
		ids[i], points[i] = u.ID, u.WeeklyPoints
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE users AS u
		SET weekly_points = u.weekly_points - s.points
		FROM unnest($1::bigint[], $2::bigint[]) AS s(id, points)
		WHERE u.id = s.id AND s.points <> 0`, ids, points)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
