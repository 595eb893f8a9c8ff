// Package scheduler runs periodic lifecycle sweeps.
//
// A sweep walks the catalog tier by tier in cursor pages, evaluates each
// entry against the placement policy and hands the resulting work
// (demotions, promotions, expiries) to a bounded worker pool. The sweep
// itself never blocks on a single slow migration; records whose
// migration is already in flight are skipped and picked up next sweep.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/catalog"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/migration"
	"github.com/xtxerr/logtier/internal/tiering/policy"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var log = logging.Component("scheduler")

// Result summarizes one sweep.
type Result struct {
	StartedAtMs  int64
	FinishedAtMs int64
	DryRun       bool

	Scanned  int64
	Demoted  int64
	Promoted int64
	Expired  int64
	Stayed   int64
	InFlight int64 // records skipped: migration already running
	Failed   int64
}

// Decision is a single dry-run outcome.
type Decision struct {
	RecordID string
	Tier     types.Tier
	Action   string
	Target   types.Tier
	Reason   string
}

// counters aggregates worker outcomes for one sweep.
type counters struct {
	demoted  atomic.Int64
	promoted atomic.Int64
	expired  atomic.Int64
	inFlight atomic.Int64
	failed   atomic.Int64
}

// job is one unit of sweep work.
type job struct {
	recordID string
	tier     types.Tier
	decision policy.Decision
	wg       *sync.WaitGroup
	counts   *counters
}

// Scheduler owns the sweep cron and worker pool.
type Scheduler struct {
	cfg     config.SweepConfig
	catalog *catalog.Catalog
	policy  *policy.Policy
	engine  *migration.Engine

	cron *cron.Cron
	jobs chan job

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  atomic.Bool
	sweeping atomic.Bool

	mu         sync.Mutex
	lastResult Result
	sweepCount int64
}

// New creates a scheduler. Sweeps do not run until Start.
func New(cfg config.SweepConfig, cat *catalog.Catalog, pol *policy.Policy, eng *migration.Engine) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		catalog: cat,
		policy:  pol,
		engine:  eng,
		jobs:    make(chan job, cfg.QueueSize),
	}
}

// Start launches the worker pool and the sweep cron.
func (s *Scheduler) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Cron, s.cronSweep); err != nil {
		s.running.Store(false)
		s.cancel()
		close(s.jobs)
		s.wg.Wait()
		return errors.Wrap(err, "schedule sweep")
	}
	s.cron.Start()

	log.Info("scheduler started",
		"cron", s.cfg.Cron,
		"workers", s.cfg.Workers,
		"page_size", s.cfg.PageSize)
	return nil
}

// Stop stops the cron and drains the worker pool, waiting up to the
// configured drain timeout for in-flight jobs.
func (s *Scheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	s.cancel()

	// Wait for an active sweep to observe the cancel before closing the
	// jobs channel it sends on.
	for s.sweeping.Load() {
		time.Sleep(10 * time.Millisecond)
	}
	close(s.jobs)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("scheduler stopped")
		return nil
	case <-time.After(s.cfg.DrainTimeout):
		log.Warn("scheduler drain timeout, abandoning in-flight jobs")
		return errors.ErrTimeout
	}
}

// cronSweep is the cron entrypoint. Overlapping sweeps are skipped.
func (s *Scheduler) cronSweep() {
	if _, err := s.Sweep(s.ctx); err != nil && err != errors.ErrAlreadyRunning {
		log.Error("scheduled sweep failed", "error", err)
	}
}

// Sweep runs one full sweep and returns its result.
// Only one sweep runs at a time; a second call returns ErrAlreadyRunning.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	if !s.running.Load() {
		return Result{}, errors.ErrNotRunning
	}
	if !s.sweeping.CompareAndSwap(false, true) {
		return Result{}, errors.ErrAlreadyRunning
	}
	defer s.sweeping.Store(false)

	result := Result{StartedAtMs: time.Now().UnixMilli()}
	counts := &counters{}
	var jobWG sync.WaitGroup

	now := time.Now()

	for _, tier := range types.AllTiers() {
		scanned, stayed, err := s.sweepTier(ctx, tier, now, &jobWG, counts)
		result.Scanned += scanned
		result.Stayed += stayed
		if err != nil {
			jobWG.Wait()
			return result, err
		}
	}

	jobWG.Wait()

	result.Demoted = counts.demoted.Load()
	result.Promoted = counts.promoted.Load()
	result.Expired = counts.expired.Load()
	result.InFlight = counts.inFlight.Load()
	result.Failed = counts.failed.Load()
	result.FinishedAtMs = time.Now().UnixMilli()

	s.mu.Lock()
	s.lastResult = result
	s.sweepCount++
	s.mu.Unlock()

	log.Info("sweep finished",
		"scanned", result.Scanned,
		"demoted", result.Demoted,
		"promoted", result.Promoted,
		"expired", result.Expired,
		"in_flight", result.InFlight,
		"failed", result.Failed,
		"duration_ms", result.FinishedAtMs-result.StartedAtMs)

	return result, nil
}

// sweepTier pages through one tier's records and dispatches work.
func (s *Scheduler) sweepTier(ctx context.Context, tier types.Tier, now time.Time, jobWG *sync.WaitGroup, counts *counters) (scanned, stayed int64, err error) {
	cursor := ""

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scanned, stayed, ctxErr
		}

		ids, next, err := s.catalog.ListByTier(tier, cursor, s.cfg.PageSize)
		if err != nil {
			return scanned, stayed, err
		}

		for _, id := range ids {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return scanned, stayed, ctxErr
			}

			entry, err := s.catalog.Get(id)
			if err != nil {
				// Expired or migrated since the page was listed.
				if errors.IsNotFound(err) {
					continue
				}
				return scanned, stayed, err
			}
			// A record migrated since listing belongs to another
			// tier's pass now.
			if entry.Tier != tier {
				continue
			}

			scanned++
			decision := s.policy.Evaluate(entry, now)
			if decision.Action == policy.Stay {
				stayed++
				continue
			}

			jobWG.Add(1)
			select {
			case s.jobs <- job{recordID: id, tier: tier, decision: decision, wg: jobWG, counts: counts}:
			case <-ctx.Done():
				jobWG.Done()
				return scanned, stayed, ctx.Err()
			}
		}

		if next == "" {
			return scanned, stayed, nil
		}
		cursor = next
	}
}

// DryRun evaluates every record without moving anything and returns the
// decisions that would have been acted on.
func (s *Scheduler) DryRun(ctx context.Context) ([]Decision, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}

	var decisions []Decision
	now := time.Now()

	for _, tier := range types.AllTiers() {
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			ids, next, err := s.catalog.ListByTier(tier, cursor, s.cfg.PageSize)
			if err != nil {
				return nil, err
			}

			for _, id := range ids {
				entry, err := s.catalog.Get(id)
				if err != nil {
					if errors.IsNotFound(err) {
						continue
					}
					return nil, err
				}
				if entry.Tier != tier {
					continue
				}

				d := s.policy.Evaluate(entry, now)
				if d.Action == policy.Stay {
					continue
				}
				decisions = append(decisions, Decision{
					RecordID: id,
					Tier:     tier,
					Action:   d.Action.String(),
					Target:   d.Target,
					Reason:   d.Reason,
				})
			}

			if next == "" {
				break
			}
			cursor = next
		}
	}

	return decisions, nil
}

// worker executes sweep jobs until the jobs channel closes.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for j := range s.jobs {
		s.execute(j)
		j.wg.Done()
	}
}

// execute runs one placement decision through the migration engine.
func (s *Scheduler) execute(j job) {
	switch j.decision.Action {
	case policy.Demote, policy.Promote:
		_, err := s.engine.Migrate(s.ctx, j.recordID, j.tier, j.decision.Target)
		switch {
		case err == nil:
			if j.decision.Action == policy.Promote {
				j.counts.promoted.Add(1)
			} else {
				j.counts.demoted.Add(1)
			}
		case errors.Is(err, errors.ErrMigrationInFlight):
			j.counts.inFlight.Add(1)
		default:
			j.counts.failed.Add(1)
			log.Warn("sweep migration failed",
				"record_id", j.recordID,
				"action", j.decision.Action.String(),
				"target", j.decision.Target.String(),
				"error", err)
		}

	case policy.Expire:
		err := s.engine.Expire(s.ctx, j.recordID)
		switch {
		case err == nil:
			j.counts.expired.Add(1)
		case errors.Is(err, errors.ErrMigrationInFlight):
			j.counts.inFlight.Add(1)
		default:
			j.counts.failed.Add(1)
			log.Warn("sweep expiry failed", "record_id", j.recordID, "error", err)
		}
	}
}

// LastResult returns the most recent sweep result and the total number
// of sweeps run.
func (s *Scheduler) LastResult() (Result, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult, s.sweepCount
}
