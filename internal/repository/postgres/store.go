// Package postgres implements repository.Store on pgx. Guarded updates
// carry the invariants; transactions make each unit of work atomic.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"qafala_backend/internal/db"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repos struct{ db DBTX }

func (r repos) Users() repository.UserRepository { return userRepo{r.db} }
func (r repos) Drops() repository.DropRepository { return dropRepo{r.db} }
func (r repos) Purchases() repository.PurchaseRepository { return purchaseRepo{r.db} }
func (r repos) Inventory() repository.InventoryRepository { return inventoryRepo{r.db} }
func (r repos) Ledger() repository.LedgerRepository { return ledgerRepo{r.db} }
func (r repos) Idempotency() repository.IdempotencyRepository { return idempotencyRepo{r.db} }
func (r repos) Catalog() repository.CatalogRepository { return catalogRepo{r.db} }
func (r repos) Barter() repository.BarterRepository { return barterRepo{r.db} }
func (r repos) Seasons() repository.SeasonRepository { return seasonRepo{r.db} }
func (r repos) Locks() repository.JobLockRepository { return lockRepo{r.db} }
func (r repos) Payouts() repository.PayoutRepository { return payoutRepo{r.db} }
func (r repos) Badges() repository.BadgeRepository { return badgeRepo{r.db} }
func (r repos) Audit() repository.AuditRepository { return auditRepo{r.db} }
func (r repos) Stats() repository.StatsRepository { return statsRepo{r.db} }

type Store struct {
	repos
	pool          *pgxpool.Pool
	transactional bool
}

// New returns a store on pool. With useTx false, WithTx runs against the
// pool and every statement autocommits.
func New(pool *pgxpool.Pool, useTx bool) *Store {
	if !useTx {
		logger.Warn("postgres store running without transactions; engines will compensate on failure")
	}
	return &Store{repos: repos{pool}, pool: pool, transactional: useTx}
}

func (s *Store) Transactional() bool { return s.transactional }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repos) error) error {
	if !s.transactional {
		return fn(s.repos)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.WithContext(ctx).Warn("rollback failed", "error", err)
		}
	}()

	if err := fn(repos{tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mapErr converts driver errors to repository contract errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return repository.ErrNotFound
	case db.IsUniqueViolation(err):
		return repository.ErrDuplicate
	}
	return err
}

// missingOr returns ErrNotFound if the row probed by query does not exist
// and ErrConditionFailed if it does. It explains a guarded update that
// touched nothing.
func missingOr(ctx context.Context, q DBTX, query string, args ...any) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(`+query+`)`, args...).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConditionFailed
}

// limitArg maps "no limit" to NULL so LIMIT $n accepts it.
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
