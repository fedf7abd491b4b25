// Package memory is an in-process implementation of repository.Store.
// Transactions are serialized: WithTx works on a copy of the whole state
// and swaps it in on success.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/repository"

	"github.com/google/uuid"
)

type idemKey struct {
	userID int64
	key    string
}

type badgeKey struct {
	userID int64
	key    string
}

type state struct {
	users      map[int64]domain.User
	nextUserID int64

	drops     map[uuid.UUID]domain.Drop
	purchases []domain.PurchaseLog

	inventory []domain.InventoryEntry
	nextInvID int64

	ledger       []domain.WalletTransaction
	nextLedgerID int64

	idem    map[idemKey]domain.IdempotencyRecord
	catalog map[string]domain.CatalogItem
	recipes map[string]domain.BarterRecipe
	logs    []domain.BarterLog

	seasons map[string]domain.Season
	config  *domain.LeaderboardConfig
	locks   map[string]domain.JobLock
	plans   map[string]domain.PrizePlan
	payouts []domain.WinnerPayout
	badges  map[badgeKey]domain.UserBadge

	audit       []domain.AuditLog
	nextAuditID int64
}

func newState() *state {
	return &state{
		users:   make(map[int64]domain.User),
		drops:   make(map[uuid.UUID]domain.Drop),
		idem:    make(map[idemKey]domain.IdempotencyRecord),
		catalog: make(map[string]domain.CatalogItem),
		recipes: make(map[string]domain.BarterRecipe),
		seasons: make(map[string]domain.Season),
		locks:   make(map[string]domain.JobLock),
		plans:   make(map[string]domain.PrizePlan),
		badges:  make(map[badgeKey]domain.UserBadge),
	}
}

// clone copies everything a repository method may mutate in place.
func (s *state) clone() *state {
	c := *s
	c.users = maps.Clone(s.users)
	c.drops = make(map[uuid.UUID]domain.Drop, len(s.drops))
	for id, d := range s.drops {
		d.Items = slices.Clone(d.Items)
		c.drops[id] = d
	}
	c.purchases = slices.Clone(s.purchases)
	c.inventory = slices.Clone(s.inventory)
	c.ledger = slices.Clone(s.ledger)
	c.idem = maps.Clone(s.idem)
	c.catalog = maps.Clone(s.catalog)
	c.recipes = maps.Clone(s.recipes)
	c.logs = slices.Clone(s.logs)
	c.seasons = maps.Clone(s.seasons)
	if s.config != nil {
		cfg := *s.config
		c.config = &cfg
	}
	c.locks = maps.Clone(s.locks)
	c.plans = maps.Clone(s.plans)
	c.payouts = slices.Clone(s.payouts)
	c.badges = maps.Clone(s.badges)
	c.audit = slices.Clone(s.audit)
	return &c
}

// Hook is called before every repository operation with its name
// ("users.ApplyDelta", "drops.DecrementStock", ...). A non-nil error is
// returned from the operation without touching state.
type Hook func(op string) error

type Store struct {
	mu            sync.Mutex
	st            *state
	transactional bool

	hookMu sync.RWMutex
	hook   Hook
}

type Option func(*Store)

// WithoutTransactions makes WithTx run its function against autocommit
// repositories, like a deployment without multi-document transactions.
func WithoutTransactions() Option {
	return func(s *Store) { s.transactional = false }
}

func New(opts ...Option) *Store {
	s := &Store{st: newState(), transactional: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHook installs h for subsequent operations. Pass nil to clear it.
func (s *Store) SetHook(h Hook) {
	s.hookMu.Lock()
	s.hook = h
	s.hookMu.Unlock()
}

func (s *Store) runHook(op string) error {
	s.hookMu.RLock()
	h := s.hook
	s.hookMu.RUnlock()
	if h == nil {
		return nil
	}
	return h(op)
}

func (s *Store) Transactional() bool { return s.transactional }

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) WithTx(ctx context.Context, fn func(repository.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.transactional {
		return fn(repos{scope{store: s}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(repos{scope{store: s, tx: work}}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// scope runs an operation either on a transaction's private state or on
// the shared state under the store mutex.
type scope struct {
	store *Store
	tx    *state
}

func (sc scope) do(op string, fn func(st *state) error) error {
	if err := sc.store.runHook(op); err != nil {
		return err
	}
	if sc.tx != nil {
		return fn(sc.tx)
	}
	sc.store.mu.Lock()
	defer sc.store.mu.Unlock()
	return fn(sc.store.st)
}

type repos struct{ scope }

func (r repos) Users() repository.UserRepository { return userRepo{r.scope} }
func (r repos) Drops() repository.DropRepository { return dropRepo{r.scope} }
func (r repos) Purchases() repository.PurchaseRepository { return purchaseRepo{r.scope} }
func (r repos) Inventory() repository.InventoryRepository { return inventoryRepo{r.scope} }
func (r repos) Ledger() repository.LedgerRepository { return ledgerRepo{r.scope} }
func (r repos) Idempotency() repository.IdempotencyRepository { return idempotencyRepo{r.scope} }
func (r repos) Catalog() repository.CatalogRepository { return catalogRepo{r.scope} }
func (r repos) Barter() repository.BarterRepository { return barterRepo{r.scope} }
func (r repos) Seasons() repository.SeasonRepository { return seasonRepo{r.scope} }
func (r repos) Locks() repository.JobLockRepository { return lockRepo{r.scope} }
func (r repos) Payouts() repository.PayoutRepository { return payoutRepo{r.scope} }
func (r repos) Badges() repository.BadgeRepository { return badgeRepo{r.scope} }
func (r repos) Audit() repository.AuditRepository { return auditRepo{r.scope} }
func (r repos) Stats() repository.StatsRepository { return statsRepo{r.scope} }

func (s *Store) autocommit() repos { return repos{scope{store: s}} }

func (s *Store) Users() repository.UserRepository { return s.autocommit().Users() }
func (s *Store) Drops() repository.DropRepository { return s.autocommit().Drops() }
func (s *Store) Purchases() repository.PurchaseRepository { return s.autocommit().Purchases() }
func (s *Store) Inventory() repository.InventoryRepository { return s.autocommit().Inventory() }
func (s *Store) Ledger() repository.LedgerRepository { return s.autocommit().Ledger() }
func (s *Store) Idempotency() repository.IdempotencyRepository { return s.autocommit().Idempotency() }
func (s *Store) Catalog() repository.CatalogRepository { return s.autocommit().Catalog() }
func (s *Store) Barter() repository.BarterRepository { return s.autocommit().Barter() }
func (s *Store) Seasons() repository.SeasonRepository { return s.autocommit().Seasons() }
func (s *Store) Locks() repository.JobLockRepository { return s.autocommit().Locks() }
func (s *Store) Payouts() repository.PayoutRepository { return s.autocommit().Payouts() }
func (s *Store) Badges() repository.BadgeRepository { return s.autocommit().Badges() }
func (s *Store) Audit() repository.AuditRepository { return s.autocommit().Audit() }
func (s *Store) Stats() repository.StatsRepository { return s.autocommit().Stats() }

var _ repository.Store = (*Store)(nil)
