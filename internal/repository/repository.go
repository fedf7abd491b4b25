// Package repository defines the storage contracts used by the economy
// services. Implementations live in the postgres and memory subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"qafala_backend/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConditionFailed means a guarded update matched no row.
	ErrConditionFailed = errors.New("condition failed")
	ErrDuplicate       = errors.New("duplicate")
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	// LockForUpdate reads the user row and, inside a transaction, holds
	// its lock until commit.
	LockForUpdate(ctx context.Context, id int64) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// ApplyDelta adds d to the user row only if no balance goes negative.
	ApplyDelta(ctx context.Context, userID int64, d domain.WalletDelta) (*domain.User, error)
	AddStats(ctx context.Context, userID int64, d domain.UserStats) error
	// AddXP returns the new total.
	AddXP(ctx context.Context, userID int64, amount int64) (int64, error)
	SetLevel(ctx context.Context, userID int64, level int) error
	TopByWeeklyPoints(ctx context.Context, limit int) ([]domain.User, error)
	CountAboveWeeklyPoints(ctx context.Context, points int64) (int64, error)
	// LockWeeklyScores returns every user with weekly points, ranked. Inside
	// a transaction the rows stay locked until commit.
	LockWeeklyScores(ctx context.Context) ([]domain.User, error)
	// ResetWeeklyPoints subtracts each snapshot user's weekly points. Points
	// earned after the snapshot carry over.
	ResetWeeklyPoints(ctx context.Context, snapshot []domain.User) (int64, error)
}

type DropRepository interface {
	Create(ctx context.Context, d *domain.Drop) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Drop, error)
	ListActive(ctx context.Context, now time.Time) ([]domain.Drop, error)
	// DecrementStock returns the remaining stock or ErrConditionFailed.
	DecrementStock(ctx context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error)
	IncrementStock(ctx context.Context, dropID, itemID uuid.UUID, qty int64) (int64, error)
	Stock(ctx context.Context, dropID, itemID uuid.UUID) (int64, error)
	// ItemKey returns the catalog key of a drop item.
	ItemKey(ctx context.Context, itemID uuid.UUID) (string, error)
}

type PurchaseRepository interface {
	Create(ctx context.Context, p *domain.PurchaseLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PurchaseLog, error)
	GetByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.PurchaseLog, error)
	SumQty(ctx context.Context, f domain.PurchaseFilter) (int64, error)
	Count(ctx context.Context, f domain.PurchaseFilter) (int64, error)
	ListByUser(ctx context.Context, f domain.PurchaseFilter, limit int) ([]domain.PurchaseLog, error)
}

type InventoryRepository interface {
	// Upsert increments the stack identified by desc, creating it if absent.
	Upsert(ctx context.Context, userID int64, desc domain.ItemDescriptor, qty int64, at time.Time) (*domain.InventoryEntry, error)
	// DecrementMatching removes qty from the oldest stack matching m that
	// holds at least qty. It reports false when nothing matched.
	DecrementMatching(ctx context.Context, userID int64, m domain.InventoryMatch, qty int64) (bool, error)
	List(ctx context.Context, userID int64) ([]domain.InventoryEntry, error)
}

type LedgerRepository interface {
	Append(ctx context.Context, tx *domain.WalletTransaction) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.WalletTransaction, error)
	// Sums returns the total dinar and usd deltas recorded for a user.
	Sums(ctx context.Context, userID int64) (int64, int64, error)
}

type IdempotencyRepository interface {
	// Reserve inserts rec unless a live record exists. Records created
	// before expiredBefore are replaced. The second return value is the
	// existing record when the reservation was not created.
	Reserve(ctx context.Context, rec *domain.IdempotencyRecord, expiredBefore time.Time) (bool, *domain.IdempotencyRecord, error)
	Attach(ctx context.Context, userID int64, key, refKind, refID string) error
	Release(ctx context.Context, userID int64, key string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type CatalogRepository interface {
	Get(ctx context.Context, key string) (*domain.CatalogItem, error)
	Upsert(ctx context.Context, item *domain.CatalogItem) error
	List(ctx context.Context) ([]domain.CatalogItem, error)
}

type BarterRepository interface {
	GetRecipe(ctx context.Context, inputA, inputB string) (*domain.BarterRecipe, error)
	UpsertRecipe(ctx context.Context, r *domain.BarterRecipe) error
	ListRecipes(ctx context.Context) ([]domain.BarterRecipe, error)
	CreateLog(ctx context.Context, l *domain.BarterLog) error
	// MarkOldestUnused flips used on the oldest unredeemed log for the
	// result key. It returns ErrNotFound when there is none.
	MarkOldestUnused(ctx context.Context, userID int64, resultKey string, at time.Time) (*domain.BarterLog, error)
	ListLogs(ctx context.Context, userID int64, limit int) ([]domain.BarterLog, error)
}

type SeasonRepository interface {
	Get(ctx context.Context, seasonID string) (*domain.Season, error)
	// OldestOpen returns the earliest season that is not finalized.
	OldestOpen(ctx context.Context) (*domain.Season, error)
	CreateIfAbsent(ctx context.Context, s *domain.Season) (bool, error)
	// MarkFinalized stores winners and flips finalized. It returns
	// ErrConditionFailed if the season was already finalized.
	MarkFinalized(ctx context.Context, seasonID string, winners []domain.SeasonWinner, at time.Time) error
	ListFinalized(ctx context.Context, limit int) ([]domain.Season, error)
	GetConfig(ctx context.Context) (*domain.LeaderboardConfig, error)
	SaveConfig(ctx context.Context, c *domain.LeaderboardConfig) error
}

type JobLockRepository interface {
	// Acquire inserts the lock row. Rows created before expiredBefore are
	// taken over. It returns ErrDuplicate when a live lock exists.
	Acquire(ctx context.Context, lock *domain.JobLock, expiredBefore time.Time) error
	Release(ctx context.Context, key, owner string) error
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type PayoutRepository interface {
	ActivePlan(ctx context.Context) (*domain.PrizePlan, error)
	// UpsertPlan saves p; an active plan deactivates all others.
	UpsertPlan(ctx context.Context, p *domain.PrizePlan) error
	Create(ctx context.Context, p *domain.WinnerPayout) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WinnerPayout, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.WinnerPayout, error)
	ListBySeason(ctx context.Context, seasonID string) ([]domain.WinnerPayout, error)
	// Transition moves one payout of userID from one status to another.
	Transition(ctx context.Context, id uuid.UUID, userID int64, from, to domain.PayoutStatus, at time.Time) (*domain.WinnerPayout, error)
	TransitionAll(ctx context.Context, userID int64, from, to domain.PayoutStatus, at time.Time) (int64, error)
}

type BadgeRepository interface {
	// AddProgress upserts the badge and adds delta to its progress.
	AddProgress(ctx context.Context, userID int64, key string, target, delta int64, at time.Time) (*domain.UserBadge, error)
	// MarkEarned flips locked to earned once and reports whether it did.
	MarkEarned(ctx context.Context, userID int64, key string, at time.Time) (bool, error)
	List(ctx context.Context, userID int64) ([]domain.UserBadge, error)
}

type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error)
}

// StatsRepository aggregates read-only totals for operators.
type StatsRepository interface {
	// Supply fills the balance and open payout totals.
	Supply(ctx context.Context, out *domain.EconomyStats) error
	// Activity counts purchases and barters at or after since.
	Activity(ctx context.Context, since time.Time) (domain.ActivityStats, error)
}

// Repos groups every repository bound to one connection or transaction.
type Repos interface {
	Users() UserRepository
	Drops() DropRepository
	Purchases() PurchaseRepository
	Inventory() InventoryRepository
	Ledger() LedgerRepository
	Idempotency() IdempotencyRepository
	Catalog() CatalogRepository
	Barter() BarterRepository
	Seasons() SeasonRepository
	Locks() JobLockRepository
	Payouts() PayoutRepository
	Badges() BadgeRepository
	Audit() AuditRepository
	Stats() StatsRepository
}

// Store is the unit of work. Repos used directly run in autocommit mode.
type Store interface {
	Repos
	// WithTx runs fn inside one transaction and commits if fn returns nil.
	// When Transactional is false fn runs against autocommit repositories.
	WithTx(ctx context.Context, fn func(Repos) error) error
	Transactional() bool
	Ping(ctx context.Context) error
}
