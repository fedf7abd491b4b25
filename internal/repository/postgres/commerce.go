package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type dropRepo struct{ db DBTX }

const dropItemColumns = `id, drop_id, key, title, description, rarity, price_dinar, gives_points,
	gives_xp, barter, stock, initial_stock, max_per_user, icon`

func (r dropRepo) Create(ctx context.Context, d *domain.Drop) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO drops (id, name, slot, starts_at, ends_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Name, d.Slot, d.StartsAt, d.EndsAt, d.IsActive, d.CreatedAt,
	); err != nil {
		return mapErr(err)
	}

	for i := range d.Items {
		it := &d.Items[i]
		if it.ID == uuid.Nil {
			it.ID = uuid.New()
		}
		it.DropID = d.ID
		if it.InitialStock == 0 {
			it.InitialStock = it.Stock
		}
		if _, err := r.db.Exec(ctx, `
			INSERT INTO drop_items (id, drop_id, position, key, title, description, rarity, price_dinar,
				gives_points, gives_xp, barter, stock, initial_stock, max_per_user, icon)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			it.ID, it.DropID, i, it.Key, it.Title, it.Description, it.Rarity, it.PriceDinar,
			it.GivesPoints, it.GivesXP, it.Barter, it.Stock, it.InitialStock, it.MaxPerUser, it.Icon,
		); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (r dropRepo) items(ctx context.Context, dropID uuid.UUID) ([]domain.DropItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+dropItemColumns+` FROM drop_items WHERE drop_id = $1 ORDER BY position`, dropID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DropItem
	for rows.Next() {
		var it domain.DropItem
		if err := rows.Scan(
			&it.ID, &it.DropID, &it.Key, &it.Title, &it.Description, &it.Rarity, &it.PriceDinar, &it.GivesPoints,
			&it.GivesXP, &it.Barter, &it.Stock, &it.InitialStock, &it.MaxPerUser, &it.Icon,
		); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func scanDrop(row pgx.Row) (*domain.Drop, error) {
	var d domain.Drop
	if err := row.Scan(&d.ID, &d.Name, &d.Slot, &d.StartsAt, &d.EndsAt, &d.IsActive, &d.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &d, nil
}

func (r dropRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Drop, error) {
	d, err := scanDrop(r.db.QueryRow(ctx,
		`SELECT id, name, slot, starts_at, ends_at, is_active, created_at FROM drops WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if d.Items, err = r.items(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func (r dropRepo) ListActive(ctx context.Context, now time.Time) ([]domain.Drop, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, slot, starts_at, ends_at, is_active, created_at
		FROM drops
		WHERE is_active AND starts_at <= $1 AND ends_at > $1
		ORDER BY starts_at`, now)
	if err != nil {
		return nil, err
	}
	var out []domain.Drop
	for rows.Next() {
		d, err := scanDrop(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, *d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r dropRepo) DecrementStock(ctx context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error) {
	return r.adjust(ctx, dropID, itemID, -qty)
}

func (r dropRepo) IncrementStock(ctx context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error) {
	return r.adjust(ctx, dropID, itemID, qty)
}

func (r dropRepo) adjust(ctx context.Context, dropID, itemID uuid.UUID, delta int64) (int64, error) {
	var left int64
	err := r.db.QueryRow(ctx, `
		UPDATE drop_items SET stock = stock + $3
		WHERE drop_id = $1 AND id = $2 AND stock + $3 >= 0
		RETURNING stock`,
		dropID, itemID, delta,
	).Scan(&left)
	if errors.Is(mapErr(err), repository.ErrNotFound) {
		return 0, missingOr(ctx, r.db, `SELECT 1 FROM drop_items WHERE drop_id = $1 AND id = $2`, dropID, itemID)
	}
	return left, err
}

func (r dropRepo) Stock(ctx context.Context, dropID, itemID uuid.UUID) (int64, error) {
	var left int64
	err := r.db.QueryRow(ctx, `SELECT stock FROM drop_items WHERE drop_id = $1 AND id = $2`, dropID, itemID).Scan(&left)
	return left, mapErr(err)
}

func (r dropRepo) ItemKey(ctx context.Context, itemID uuid.UUID) (string, error) {
	var key string
	err := r.db.QueryRow(ctx, `SELECT key FROM drop_items WHERE id = $1`, itemID).Scan(&key)
	return key, mapErr(err)
}

type purchaseRepo struct{ db DBTX }

const purchaseColumns = `id, user_id, drop_id, item_id, item_title, qty, cost_dinar, points_gained, idempotency_key, created_at,
	stock_left, bought_total, user_after`

func scanPurchase(row pgx.Row) (*domain.PurchaseLog, error) {
	var (
		p         domain.PurchaseLog
		userAfter []byte
	)
	if err := row.Scan(
		&p.ID, &p.UserID, &p.DropID, &p.ItemID, &p.ItemTitle, &p.Qty, &p.CostDinar, &p.PointsGained,
		&p.IdempotencyKey, &p.CreatedAt, &p.StockLeft, &p.BoughtTotal, &userAfter,
	); err != nil {
		return nil, mapErr(err)
	}
	if len(userAfter) > 0 {
		p.UserAfter = &domain.UserSnapshot{}
		if err := json.Unmarshal(userAfter, p.UserAfter); err != nil {
			return nil, fmt.Errorf("decode purchase %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// purchaseWhere renders f as a WHERE clause and its arguments.
func purchaseWhere(f domain.PurchaseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != 0 {
		add("user_id = $%d", f.UserID)
	}
	if f.DropID != nil {
		add("drop_id = $%d", *f.DropID)
	}
	if f.ItemID != nil {
		add("item_id = $%d", *f.ItemID)
	}
	if f.Since != nil {
		add("created_at >= $%d", *f.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r purchaseRepo) Create(ctx context.Context, p *domain.PurchaseLog) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var userAfter []byte
	if p.UserAfter != nil {
		raw, err := json.Marshal(p.UserAfter)
		if err != nil {
			return err
		}
		userAfter = raw
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.UserID, p.DropID, p.ItemID, p.ItemTitle, p.Qty, p.CostDinar, p.PointsGained,
		p.IdempotencyKey, p.CreatedAt, p.StockLeft, p.BoughtTotal, userAfter,
	)
	return mapErr(err)
}

func (r purchaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseLog, error) {
	return scanPurchase(r.db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

func (r purchaseRepo) GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.PurchaseLog, error) {
	return scanPurchase(r.db.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE user_id = $1 AND idempotency_key = $2 AND idempotency_key <> ''`,
		userID, key))
}

func (r purchaseRepo) SumQty(ctx context.Context, f domain.PurchaseFilter) (int64, error) {
	where, args := purchaseWhere(f)
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM purchases`+where, args...).Scan(&sum)
	return sum, err
}

func (r purchaseRepo) Count(ctx context.Context, f domain.PurchaseFilter) (int64, error) {
	where, args := purchaseWhere(f)
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM purchases`+where, args...).Scan(&n)
	return n, err
}

func (r purchaseRepo) ListByUser(ctx context.Context, f domain.PurchaseFilter, limit int) ([]domain.PurchaseLog, error) {
	where, args := purchaseWhere(f)
	args = append(args, limitArg(limit))
	rows, err := r.db.Query(ctx,
		`SELECT `+purchaseColumns+` FROM purchases`+where+fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d`, len(args)),
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PurchaseLog
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type inventoryRepo struct{ db DBTX }

const inventoryColumns = `id, user_id, kind, type_key, item_id, title, icon, rarity, points, barter_allowed, qty, acquired_at`

func scanInventory(row pgx.Row) (*domain.InventoryEntry, error) {
	var (
		e       domain.InventoryEntry
		typeKey *string
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Kind, &typeKey, &e.ItemID, &e.Title, &e.Icon, &e.Rarity, &e.Points,
		&e.BarterAllowed, &e.Qty, &e.AcquiredAt,
	); err != nil {
		return nil, mapErr(err)
	}
	if typeKey != nil {
		e.TypeKey = *typeKey
	}
	return &e, nil
}

func (r inventoryRepo) Upsert(ctx context.Context, userID int64, d domain.ItemDescriptor, qty int64, at time.Time) (*domain.InventoryEntry, error) {
	conflict := `(user_id, type_key) WHERE type_key IS NOT NULL`
	var typeKey *string
	if d.TypeKey != "" {
		typeKey = &d.TypeKey
	} else {
		conflict = `(user_id, item_id) WHERE item_id IS NOT NULL AND type_key IS NULL`
	}
	return scanInventory(r.db.QueryRow(ctx, `
		INSERT INTO inventory (user_id, kind, type_key, item_id, title, icon, rarity, points, barter_allowed, qty, acquired_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT `+conflict+` DO UPDATE SET qty = inventory.qty + EXCLUDED.qty
		RETURNING `+inventoryColumns,
		userID, d.Kind, typeKey, d.ItemID, d.Title, d.Icon, d.Rarity, d.Points, d.BarterAllowed, qty, at,
	))
}

func matchColumn(f domain.MatchField) (string, error) {
	switch f {
	case domain.MatchTypeKey, domain.MatchIcon:
		return string(f), nil
	case domain.MatchItemID:
		return "item_id", nil
	}
	return "", fmt.Errorf("unknown inventory match field %q", f)
}

func (r inventoryRepo) DecrementMatching(ctx context.Context, userID int64, m domain.InventoryMatch, qty int64) (bool, error) {
	col, err := matchColumn(m.Field)
	if err != nil {
		return false, err
	}
	if m.FoldCase && m.Field != domain.MatchItemID {
		return r.decrementFolded(ctx, userID, col, m.Value, qty)
	}
	cond := col + " = $3"
	if m.Field == domain.MatchItemID {
		cond = "item_id = $3::uuid"
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		UPDATE inventory SET qty = qty - $2
		WHERE qty >= $2 AND id = (
			SELECT id FROM inventory
			WHERE user_id = $1 AND qty >= $2 AND `+cond+`
			ORDER BY acquired_at, id
			LIMIT 1
			FOR UPDATE
		)
		RETURNING id`,
		userID, qty, m.Value,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// decrementFolded compares with domain.FoldKey in Go. SQL lower() folds
// differently for some scripts.
func (r inventoryRepo) decrementFolded(ctx context.Context, userID int64, col, value string, qty int64) (bool, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, `+col+` FROM inventory
		WHERE user_id = $1 AND qty >= $2 AND `+col+` IS NOT NULL AND `+col+` <> ''
		ORDER BY acquired_at, id
		FOR UPDATE`,
		userID, qty,
	)
	if err != nil {
		return false, err
	}
	want := domain.FoldKey(value)
	var target int64
	for rows.Next() {
		var (
			id   int64
			have string
		)
		if err := rows.Scan(&id, &have); err != nil {
			rows.Close()
			return false, err
		}
		if target == 0 && domain.FoldKey(have) == want {
			target = id
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	if target == 0 {
		return false, nil
	}

	tag, err := r.db.Exec(ctx, `UPDATE inventory SET qty = qty - $2 WHERE id = $1 AND qty >= $2`, target, qty)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r inventoryRepo) List(ctx context.Context, userID int64) ([]domain.InventoryEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE user_id = $1 ORDER BY acquired_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.InventoryEntry
	for rows.Next() {
		e, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type ledgerRepo struct{ db DBTX }

const ledgerColumns = `id, user_id, type, amount_dinar, amount_usd_minor, balance_after, balance_usd_after,
	ref_kind, ref_id, meta, idempotency_key, created_at`

func (r ledgerRepo) Append(ctx context.Context, tx *domain.WalletTransaction) error {
	meta, err := json.Marshal(tx.Meta)
	if err != nil {
		meta = []byte("{}")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO wallet_transactions (user_id, type, amount_dinar, amount_usd_minor, balance_after, balance_usd_after,
			ref_kind, ref_id, meta, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		tx.UserID, tx.Type, tx.AmountDinar, tx.AmountUsdMinor, tx.BalanceAfter, tx.BalanceUsdAfter,
		tx.Ref.Kind, tx.Ref.ID, meta, tx.IdempotencyKey, tx.CreatedAt,
	).Scan(&tx.ID)
}

func (r ledgerRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.WalletTransaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ledgerColumns+` FROM wallet_transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2`,
		userID, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WalletTransaction
	for rows.Next() {
		var (
			tx   domain.WalletTransaction
			meta []byte
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Type, &tx.AmountDinar, &tx.AmountUsdMinor, &tx.BalanceAfter, &tx.BalanceUsdAfter,
			&tx.Ref.Kind, &tx.Ref.ID, &meta, &tx.IdempotencyKey, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &tx.Meta)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r ledgerRepo) Sums(ctx context.Context, userID int64) (int64, int64, error) {
	var dinar, usd int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_dinar), 0), COALESCE(SUM(amount_usd_minor), 0)
		FROM wallet_transactions WHERE user_id = $1`, userID,
	).Scan(&dinar, &usd)
	return dinar, usd, err
}

type idempotencyRepo struct{ db DBTX }

func (r idempotencyRepo) Reserve(ctx context.Context, rec *domain.IdempotencyRecord, expiredBefore time.Time) (bool, *domain.IdempotencyRecord, error) {
	// A concurrent Release can remove the row between the insert and the
	// read, so the pair is retried once.
	for attempt := 0; attempt < 2; attempt++ {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO idempotency_keys (user_id, key, endpoint, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, key) DO UPDATE
			SET endpoint = EXCLUDED.endpoint, ref_kind = '', ref_id = '', created_at = EXCLUDED.created_at
			WHERE idempotency_keys.created_at < $5`,
			rec.UserID, rec.Key, rec.Endpoint, rec.CreatedAt, expiredBefore,
		)
		if err != nil {
			return false, nil, err
		}
		if tag.RowsAffected() == 1 {
			return true, nil, nil
		}

		var cur domain.IdempotencyRecord
		err = r.db.QueryRow(ctx, `
			SELECT user_id, key, endpoint, ref_kind, ref_id, created_at
			FROM idempotency_keys WHERE user_id = $1 AND key = $2`,
			rec.UserID, rec.Key,
		).Scan(&cur.UserID, &cur.Key, &cur.Endpoint, &cur.RefKind, &cur.RefID, &cur.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, nil, err
		}
		return false, &cur, nil
	}
	return false, nil, repository.ErrConditionFailed
}

func (r idempotencyRepo) Attach(ctx context.Context, userID int64, key, refKind, refID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE idempotency_keys SET ref_kind = $3, ref_id = $4 WHERE user_id = $1 AND key = $2`,
		userID, key, refKind, refID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r idempotencyRepo) Release(ctx context.Context, userID int64, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE user_id = $1 AND key = $2`, userID, key)
	return err
}

func (r idempotencyRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
