package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type catalogRepo struct{ db DBTX }

const catalogColumns = `key, title, description, rarity, price_dinar, gives_points, gives_xp, barter, max_per_user, icon, enabled, updated_at`

func scanCatalogItem(row pgx.Row) (*domain.CatalogItem, error) {
	var it domain.CatalogItem
	if err := row.Scan(
		&it.Key, &it.Title, &it.Description, &it.Rarity, &it.PriceDinar, &it.GivesPoints, &it.GivesXP,
		&it.Barter, &it.MaxPerUser, &it.Icon, &it.Enabled, &it.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &it, nil
}

func (r catalogRepo) Get(ctx context.Context, key string) (*domain.CatalogItem, error) {
	return scanCatalogItem(r.db.QueryRow(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE key = $1`, key))
}

func (r catalogRepo) Upsert(ctx context.Context, it *domain.CatalogItem) error {
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO catalog_items (`+catalogColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (key) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			rarity = EXCLUDED.rarity,
			price_dinar = EXCLUDED.price_dinar,
			gives_points = EXCLUDED.gives_points,
			gives_xp = EXCLUDED.gives_xp,
			barter = EXCLUDED.barter,
			max_per_user = EXCLUDED.max_per_user,
			icon = EXCLUDED.icon,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		it.Key, it.Title, it.Description, it.Rarity, it.PriceDinar, it.GivesPoints, it.GivesXP,
		it.Barter, it.MaxPerUser, it.Icon, it.Enabled, it.UpdatedAt,
	)
	return err
}

func (r catalogRepo) List(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+catalogColumns+` FROM catalog_items ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CatalogItem
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

type barterRepo struct{ db DBTX }

func (r barterRepo) GetRecipe(ctx context.Context, inputA, inputB string) (*domain.BarterRecipe, error) {
	a, b := domain.SortPair(inputA, inputB)
	var rec domain.BarterRecipe
	err := r.db.QueryRow(ctx,
		`SELECT input_a, input_b, output_key, created_at FROM barter_recipes WHERE input_a = $1 AND input_b = $2`,
		a, b,
	).Scan(&rec.InputA, &rec.InputB, &rec.OutputKey, &rec.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (r barterRepo) UpsertRecipe(ctx context.Context, rec *domain.BarterRecipe) error {
	c := rec.Canonical()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO barter_recipes (input_a, input_b, output_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (input_a, input_b) DO UPDATE SET output_key = EXCLUDED.output_key`,
		c.InputA, c.InputB, c.OutputKey, c.CreatedAt,
	)
	return err
}

func (r barterRepo) ListRecipes(ctx context.Context) ([]domain.BarterRecipe, error) {
	rows, err := r.db.Query(ctx, `SELECT input_a, input_b, output_key, created_at FROM barter_recipes ORDER BY input_a, input_b`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BarterRecipe
	for rows.Next() {
		var rec domain.BarterRecipe
		if err := rows.Scan(&rec.InputA, &rec.InputB, &rec.OutputKey, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const barterLogColumns = `id, user_id, item1, item2, result, source, used, used_at, created_at`

func scanBarterLog(row pgx.Row) (*domain.BarterLog, error) {
	var (
		l                    domain.BarterLog
		item1, item2, result []byte
	)
	if err := row.Scan(&l.ID, &l.UserID, &item1, &item2, &result, &l.Source, &l.Used, &l.UsedAt, &l.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	for _, f := range []struct {
		raw []byte
		dst *domain.ItemSnapshot
	}{{item1, &l.Item1}, {item2, &l.Item2}, {result, &l.Result}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode barter log %s: %w", l.ID, err)
		}
	}
	return &l, nil
}

func (r barterRepo) CreateLog(ctx context.Context, l *domain.BarterLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	item1, err := json.Marshal(l.Item1)
	if err != nil {
		return err
	}
	item2, err := json.Marshal(l.Item2)
	if err != nil {
		return err
	}
	result, err := json.Marshal(l.Result)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO barter_logs (id, user_id, item1, item2, result, result_key, source, used, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.UserID, item1, item2, result, l.Result.Key, l.Source, l.Used, l.UsedAt, l.CreatedAt,
	)
	return err
}

func (r barterRepo) MarkOldestUnused(ctx context.Context, userID int64, resultKey string, at time.Time) (*domain.BarterLog, error) {
	return scanBarterLog(r.db.QueryRow(ctx, `
		UPDATE barter_logs SET used = TRUE, used_at = $3
		WHERE NOT used AND id = (
			SELECT id FROM barter_logs
			WHERE user_id = $1 AND result_key = $2 AND NOT used
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE
		)
		RETURNING `+barterLogColumns,
		userID, resultKey, at,
	))
}

func (r barterRepo) ListLogs(ctx context.Context, userID int64, limit int) ([]domain.BarterLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+barterLogColumns+` FROM barter_logs WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		userID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BarterLog
	for rows.Next() {
		l, err := scanBarterLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type seasonRepo struct{ db DBTX }

const seasonColumns = `season_id, start_at, end_at, finalized, winners, finalized_at`

func scanSeason(row pgx.Row) (*domain.Season, error) {
	var (
		s       domain.Season
		winners []byte
	)
	if err := row.Scan(&s.SeasonID, &s.StartAt, &s.EndAt, &s.Finalized, &winners, &s.FinalizedAt); err != nil {
		return nil, mapErr(err)
	}
	if len(winners) > 0 {
		if err := json.Unmarshal(winners, &s.Winners); err != nil {
			return nil, fmt.Errorf("decode winners of %s: %w", s.SeasonID, err)
		}
	}
	return &s, nil
}

func (r seasonRepo) Get(ctx context.Context, seasonID string) (*domain.Season, error) {
	return scanSeason(r.db.QueryRow(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE season_id = $1`, seasonID))
}

func (r seasonRepo) OldestOpen(ctx context.Context) (*domain.Season, error) {
	return scanSeason(r.db.QueryRow(ctx,
		`SELECT `+seasonColumns+` FROM seasons WHERE NOT finalized ORDER BY start_at LIMIT 1`))
}

func (r seasonRepo) CreateIfAbsent(ctx context.Context, s *domain.Season) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO seasons (season_id, start_at, end_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (season_id) DO NOTHING`,
		s.SeasonID, s.StartAt, s.EndAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r seasonRepo) MarkFinalized(ctx context.Context, seasonID string, winners []domain.SeasonWinner, at time.Time) error {
	if winners == nil {
		winners = []domain.SeasonWinner{}
	}
	raw, err := json.Marshal(winners)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE seasons SET finalized = TRUE, winners = $2, finalized_at = $3
		WHERE season_id = $1 AND NOT finalized`,
		seasonID, raw, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return missingOr(ctx, r.db, `SELECT 1 FROM seasons WHERE season_id = $1`, seasonID)
	}
	return nil
}

func (r seasonRepo) ListFinalized(ctx context.Context, limit int) ([]domain.Season, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+seasonColumns+` FROM seasons WHERE finalized ORDER BY start_at DESC LIMIT $1`, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r seasonRepo) GetConfig(ctx context.Context) (*domain.LeaderboardConfig, error) {
	var c domain.LeaderboardConfig
	err := r.db.QueryRow(ctx, `SELECT number_of_winners, updated_at FROM leaderboard_config WHERE id = 1`).
		Scan(&c.NumberOfWinners, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r seasonRepo) SaveConfig(ctx context.Context, c *domain.LeaderboardConfig) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO leaderboard_config (id, number_of_winners, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET number_of_winners = EXCLUDED.number_of_winners, updated_at = EXCLUDED.updated_at`,
		c.NumberOfWinners, c.UpdatedAt,
	)
	return err
}

type lockRepo struct{ db DBTX }

func (r lockRepo) Acquire(ctx context.Context, lock *domain.JobLock, expiredBefore time.Time) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO job_locks (key, owner, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET owner = EXCLUDED.owner, created_at = EXCLUDED.created_at
		WHERE job_locks.created_at < $4`,
		lock.Key, lock.Owner, lock.CreatedAt, expiredBefore,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

func (r lockRepo) Release(ctx context.Context, key, owner string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM job_locks WHERE key = $1 AND owner = $2`, key, owner)
	return err
}

func (r lockRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM job_locks WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type payoutRepo struct{ db DBTX }

func (r payoutRepo) ActivePlan(ctx context.Context) (*domain.PrizePlan, error) {
	var (
		p     domain.PrizePlan
		tiers []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT key, currency, weekly_cap_minor, tiers, active, updated_at
		FROM prize_plans WHERE active ORDER BY key LIMIT 1`,
	).Scan(&p.Key, &p.Currency, &p.WeeklyCapMinor, &tiers, &p.Active, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(tiers, &p.Tiers); err != nil {
		return nil, fmt.Errorf("decode prize tiers: %w", err)
	}
	return &p, nil
}

func (r payoutRepo) UpsertPlan(ctx context.Context, p *domain.PrizePlan) error {
	tiers, err := json.Marshal(p.Tiers)
	if err != nil {
		return err
	}
	if p.Active {
		if _, err := r.db.Exec(ctx, `UPDATE prize_plans SET active = FALSE WHERE active AND key <> $1`, p.Key); err != nil {
			return err
		}
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO prize_plans (key, currency, weekly_cap_minor, tiers, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			currency = EXCLUDED.currency,
			weekly_cap_minor = EXCLUDED.weekly_cap_minor,
			tiers = EXCLUDED.tiers,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		p.Key, p.Currency, p.WeeklyCapMinor, tiers, p.Active, p.UpdatedAt,
	)
	return mapErr(err)
}

const payoutColumns = `id, user_id, season_id, rank, amount_minor, currency, title, status, created_at, claimed_at`

func scanPayout(row pgx.Row) (*domain.WinnerPayout, error) {
	var p domain.WinnerPayout
	if err := row.Scan(
		&p.ID, &p.UserID, &p.SeasonID, &p.Rank, &p.AmountMinor, &p.Currency, &p.Title, &p.Status,
		&p.CreatedAt, &p.ClaimedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (r payoutRepo) listPayouts(ctx context.Context, query string, args ...any) ([]domain.WinnerPayout, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WinnerPayout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r payoutRepo) Create(ctx context.Context, p *domain.WinnerPayout) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO winner_payouts (`+payoutColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.UserID, p.SeasonID, p.Rank, p.AmountMinor, p.Currency, p.Title, p.Status, p.CreatedAt, p.ClaimedAt,
	)
	return mapErr(err)
}

func (r payoutRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WinnerPayout, error) {
	return scanPayout(r.db.QueryRow(ctx, `SELECT `+payoutColumns+` FROM winner_payouts WHERE id = $1`, id))
}

func (r payoutRepo) ListByUser(ctx context.Context, userID int64) ([]domain.WinnerPayout, error) {
	return r.listPayouts(ctx, `SELECT `+payoutColumns+` FROM winner_payouts WHERE user_id = $1 ORDER BY created_at DESC, season_id DESC`, userID)
}

func (r payoutRepo) ListBySeason(ctx context.Context, seasonID string) ([]domain.WinnerPayout, error) {
	return r.listPayouts(ctx, `SELECT `+payoutColumns+` FROM winner_payouts WHERE season_id = $1 ORDER BY rank`, seasonID)
}

func (r payoutRepo) Transition(ctx context.Context, id uuid.UUID, userID int64, from, to domain.PayoutStatus, at time.Time) (*domain.WinnerPayout, error) {
	p, err := scanPayout(r.db.QueryRow(ctx, `
		UPDATE winner_payouts
		SET status = $4, claimed_at = CASE WHEN $4 = 'claimed' THEN $5 ELSE claimed_at END
		WHERE id = $1 AND user_id = $2 AND status = $3
		RETURNING `+payoutColumns,
		id, userID, from, to, at,
	))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, missingOr(ctx, r.db, `SELECT 1 FROM winner_payouts WHERE id = $1 AND user_id = $2`, id, userID)
	}
	return p, err
}

func (r payoutRepo) TransitionAll(ctx context.Context, userID int64, from, to domain.PayoutStatus, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE winner_payouts
		SET status = $3, claimed_at = CASE WHEN $3 = 'claimed' THEN $4 ELSE claimed_at END
		WHERE user_id = $1 AND status = $2`,
		userID, from, to, at,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type badgeRepo struct{ db DBTX }

const badgeColumns = `user_id, badge_key, progress, target, status, earned_at, updated_at`

func scanBadge(row pgx.Row) (*domain.UserBadge, error) {
	var b domain.UserBadge
	if err := row.Scan(&b.UserID, &b.BadgeKey, &b.Progress, &b.Target, &b.Status, &b.EarnedAt, &b.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

func (r badgeRepo) AddProgress(ctx context.Context, userID int64, key string, target, delta int64, at time.Time) (*domain.UserBadge, error) {
	return scanBadge(r.db.QueryRow(ctx, `
		INSERT INTO user_badges (user_id, badge_key, progress, target, status, updated_at)
		VALUES ($1, $2, $3, $4, 'locked', $5)
		ON CONFLICT (user_id, badge_key) DO UPDATE
		SET progress = user_badges.progress + EXCLUDED.progress, updated_at = EXCLUDED.updated_at
		RETURNING `+badgeColumns,
		userID, key, delta, target, at,
	))
}

func (r badgeRepo) MarkEarned(ctx context.Context, userID int64, key string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE user_badges SET status = 'earned', earned_at = $3, updated_at = $3
		WHERE user_id = $1 AND badge_key = $2 AND status = 'locked'`,
		userID, key, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r badgeRepo) List(ctx context.Context, userID int64) ([]domain.UserBadge, error) {
	rows, err := r.db.Query(ctx, `SELECT `+badgeColumns+` FROM user_badges WHERE user_id = $1 ORDER BY badge_key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.UserBadge
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type auditRepo struct{ db DBTX }

func (r auditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	details, err := json.Marshal(log.Details)
	if err != nil {
		details = []byte("{}")
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, action, category, details, ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		log.UserID, log.Action, log.Category, details, log.IP, log.UserAgent, log.CreatedAt,
	).Scan(&log.ID)
}

func (r auditRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, action, category, details, ip, user_agent, created_at
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var (
			l       domain.AuditLog
			details []byte
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Action, &l.Category, &details, &l.IP, &l.UserAgent, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &l.Details)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
