// Package jobs runs the economy's background work on a cron schedule:
// the weekly leaderboard finalize and the hourly TTL purge.
package jobs

import (
	"context"
	"fmt"
	"time"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/metrics"

	"github.com/robfig/cron/v3"
)

// MaxCatchUp bounds how many missed seasons one trigger finalizes.
const MaxCatchUp = 8

const purgeSpec = "0 * * * *"

type Finalizer interface {
	CatchUp(ctx context.Context, maxRuns int) ([]domain.FinalizeResult, error)
	PurgeLocks(ctx context.Context) (int64, error)
}

type KeyPurger interface {
	Purge(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron  *cron.Cron
	board Finalizer
	keys  KeyPurger
	spec  string
	loc   *time.Location
}

// NewScheduler validates finalizeSpec, a standard five-field cron
// expression evaluated in loc.
func NewScheduler(finalizeSpec string, loc *time.Location, board Finalizer, keys KeyPurger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(finalizeSpec); err != nil {
		return nil, fmt.Errorf("finalize schedule %q: %w", finalizeSpec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		cron:  cron.New(cron.WithLocation(loc)),
		board: board,
		keys:  keys,
		spec:  finalizeSpec,
		loc:   loc,
	}
	return s, nil
}

// Start registers the jobs and starts the cron loop. Jobs run with ctx
// until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunFinalize(ctx) }); err != nil {
		return fmt.Errorf("finalize schedule %q: %w", s.spec, err)
	}
	if _, err := s.cron.AddFunc(purgeSpec, func() { s.RunPurge(ctx) }); err != nil {
		return fmt.Errorf("purge schedule: %w", err)
	}
	s.cron.Start()
	logger.Info("scheduler started", "finalize", s.spec, "timezone", s.loc.String())
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("scheduler stopped")
}

// RunFinalize finalizes every ended season, oldest first.
func (s *Scheduler) RunFinalize(ctx context.Context) []domain.FinalizeResult {
	done, err := s.board.CatchUp(ctx, MaxCatchUp)
	metrics.JobRuns.WithLabelValues("finalize", metrics.Result(err)).Inc()
	if err != nil {
		if domain.CodeOf(err) == domain.CodeAlreadyRunning {
			logger.Info("[CRON] finalize already running elsewhere")
		} else {
			logger.Error("[CRON] finalize failed", "error", err, "finalized", len(done))
		}
		return done
	}
	for _, r := range done {
		logger.Info("[CRON] season finalized", "season_id", r.SeasonID, "winners", len(r.Winners))
	}
	return done
}

// RunPurge deletes expired idempotency keys and job locks.
func (s *Scheduler) RunPurge(ctx context.Context) {
	keys, err := s.keys.Purge(ctx)
	metrics.JobRuns.WithLabelValues("purge_idempotency", metrics.Result(err)).Inc()
	if err != nil {
		logger.Error("[CRON] idempotency purge failed", "error", err)
	}
	locks, err := s.board.PurgeLocks(ctx)
	metrics.JobRuns.WithLabelValues("purge_locks", metrics.Result(err)).Inc()
	if err != nil {
		logger.Error("[CRON] lock purge failed", "error", err)
	}
	logger.Debug("[CRON] purge done", "idempotency_keys", keys, "locks", locks)
}
