// Package service implements the economy operations on top of a
// repository.Store. Every multi-step mutation runs through Store.WithTx and
// uses only the repositories handed to its callback.
package service

import (
	"context"
	"errors"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"
)

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

// SystemClock is the default Clock.
func SystemClock() time.Time { return time.Now().UTC() }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// userErr maps repository lookups on users to the business error.
func userErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.ErrUserNotFound
	}
	return err
}

// compensator collects undo steps for a unit of work that may run
// without a real transaction. Steps run in reverse order.
type compensator struct {
	op    string
	steps []func(context.Context) error
}

func newCompensator(op string) *compensator {
	return &compensator{op: op}
}

func (c *compensator) add(step func(context.Context) error) {
	c.steps = append(c.steps, step)
}

// run undoes every recorded step. It uses a context that survives the
// cancellation of the request that failed.
func (c *compensator) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(c.steps) - 1; i >= 0; i-- {
		if err := c.steps[i](ctx); err != nil {
			logger.WithContext(ctx).Error("compensation step failed", "op", c.op, "step", i, "error", err)
		}
	}
	if len(c.steps) > 0 {
		logger.WithContext(ctx).Warn("compensated partial write", "op", c.op, "steps", len(c.steps))
	}
}

// runUnit executes fn through store.WithTx. When the store has no real
// transactions and fn fails, the compensations recorded by fn are applied.
func runUnit(ctx context.Context, store repository.Store, op string, fn func(repository.Repos, *compensator) error) error {
	comp := newCompensator(op)
	err := store.WithTx(ctx, func(r repository.Repos) error {
		return fn(r, comp)
	})
	if err != nil && !store.Transactional() {
		comp.run(ctx)
	}
	return err
}
