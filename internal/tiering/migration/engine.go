// Package migration moves records between tiers.
//
// The engine owns the only code path that changes a record's placement.
// A migration copies the record to the destination store, verifies the
// copy by reading it back, and then commits by updating the catalog
// entry. The catalog update is the single commit point: before it the
// record is served from the source and a failed migration leaves at most
// orphaned destination bytes; after it the record is served from the
// destination and only the stale source copy remains to clean up.
package migration

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/store"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var log = logging.Component("migration")

// Catalog is the slice of the catalog the engine needs: entry lookup,
// the commit write and entry removal.
type Catalog interface {
	Get(id string) (types.CatalogEntry, error)
	Put(entry types.CatalogEntry) error
	Delete(id string) error
}

// sketchAccuracy is the DDSketch relative accuracy for latency quantiles.
const sketchAccuracy = 0.01

// cleanupTask is a post-commit deletion that failed and must be retried.
type cleanupTask struct {
	RecordID string
	Tier     types.Tier
}

// Stats holds migration engine counters.
type Stats struct {
	Started         int64
	Committed       int64
	Failed          int64
	Expired         int64
	CleanupsPending int64
	CleanupsDone    int64
	InFlight        int

	LatencyP50Ms float64
	LatencyP95Ms float64
	LatencyP99Ms float64
}

// Engine executes migrations and record expiry.
type Engine struct {
	cfg     config.MigrationConfig
	catalog Catalog
	stores  map[types.Tier]store.Store
	locks   *lockTable

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	cleanupCh chan cleanupTask

	mu      sync.Mutex
	history []types.MigrationJob
	latency *ddsketch.DDSketch
	stats   Stats
}

// New creates a migration engine over the catalog and tier stores.
func New(cfg config.MigrationConfig, cat Catalog, stores map[types.Tier]store.Store) (*Engine, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy)
	if err != nil {
		return nil, fmt.Errorf("create latency sketch: %w", err)
	}

	return &Engine{
		cfg:       cfg,
		catalog:   cat,
		stores:    stores,
		locks:     newLockTable(),
		cleanupCh: make(chan cleanupTask, 64),
		latency:   sketch,
	}, nil
}

// Start launches the cleanup worker.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go e.cleanupLoop()

	log.Info("migration engine started",
		"max_attempts", e.cfg.MaxAttempts,
		"attempt_timeout", e.cfg.AttemptTimeout)
	return nil
}

// Stop stops the engine. In-flight cleanup retries are abandoned; they
// are rediscovered from store/catalog divergence on the next run's
// sweeps, never served, so abandoning them is safe.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	e.cancel()
	e.wg.Wait()

	log.Info("migration engine stopped")
	return nil
}

// Migrate moves one record from source to dest.
//
// Returns ErrMigrationInFlight without doing anything if another
// migration holds the record. A failure before the catalog commit is
// reported as ErrMigrationIncomplete: the record is still intact at the
// source and the call may be retried. A failure after the commit never
// fails the call: the record is served from dest, the job carries
// CleanupPending, and the engine retries the source deletion in the
// background.
func (e *Engine) Migrate(ctx context.Context, id string, source, dest types.Tier) (types.MigrationJob, error) {
	job := types.MigrationJob{
		RecordID:    id,
		Source:      source,
		Dest:        dest,
		State:       types.JobPending,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	if !e.running.Load() {
		return job, errors.ErrNotRunning
	}
	if source == dest {
		return job, fmt.Errorf("record '%s': %w", id, errors.ErrSameTier)
	}
	srcStore, ok := e.stores[source]
	if !ok {
		return job, errors.NewUnknownTier(source.String())
	}
	dstStore, ok := e.stores[dest]
	if !ok {
		return job, errors.NewUnknownTier(dest.String())
	}

	if !e.locks.TryAcquire(id) {
		return job, fmt.Errorf("record '%s': %w", id, errors.ErrMigrationInFlight)
	}
	defer e.locks.Release(id)

	ctx = logging.ContextWithRecordID(ctx, id)
	ctx = logging.ContextWithTier(ctx, dest.String())

	e.mu.Lock()
	e.stats.Started++
	e.stats.InFlight = e.locks.Held()
	e.mu.Unlock()

	job.State = types.JobInFlight
	start := time.Now()

	err := e.runAttempts(ctx, &job, srcStore, dstStore)
	job.FinishedAtMs = time.Now().UnixMilli()

	if err != nil {
		job.State = types.JobFailed
		job.Error = err.Error()
		e.finishJob(job, 0)
		return job, err
	}

	job.State = types.JobCommitted
	e.finishJob(job, time.Since(start))

	log.Debug("migration committed",
		"record_id", id,
		"source", source.String(),
		"dest", dest.String(),
		"attempts", job.Attempts,
		"duration", time.Since(start))

	return job, nil
}

// runAttempts runs the copy-verify-commit loop, then the source cleanup.
func (e *Engine) runAttempts(ctx context.Context, job *types.MigrationJob, srcStore, dstStore store.Store) error {
	mlog := logging.WithContext(ctx).With("component", "migration")
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		job.Attempts = attempt

		if attempt > 1 {
			backoff := e.cfg.RetryBackoff << (attempt - 2)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			case <-e.ctx.Done():
				return errors.ErrNotRunning
			}
		}

		committed, err := e.attempt(ctx, job, srcStore, dstStore)
		if committed {
			e.cleanupSource(ctx, job, srcStore)
			return nil
		}

		lastErr = err
		// An attempt that hit its own deadline is retriable; a canceled
		// parent context is not.
		if errors.Is(err, context.Canceled) || !(errors.IsRetriable(err) || errors.Is(err, context.DeadlineExceeded)) {
			mlog.Warn("migration failed terminally",
				"attempt", attempt,
				"error", err)
			return err
		}

		mlog.Warn("migration attempt failed",
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"error", err)
	}

	// All attempts exhausted before the commit point: the source copy is
	// authoritative and untouched. Drop any orphaned destination bytes.
	if err := dstStore.Delete(ctx, job.RecordID); err != nil {
		mlog.Warn("orphaned destination bytes not removed",
			"error", err)
	}

	return fmt.Errorf("record '%s' after %d attempts: %w (last: %v)",
		job.RecordID, e.cfg.MaxAttempts, errors.ErrMigrationIncomplete, lastErr)
}

// attempt runs one copy-verify-commit cycle under the attempt timeout.
func (e *Engine) attempt(ctx context.Context, job *types.MigrationJob, srcStore, dstStore store.Store) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	entry, err := e.catalog.Get(job.RecordID)
	if err != nil {
		return false, err
	}
	if entry.Tier != job.Source {
		return false, fmt.Errorf("record '%s' is in tier %s, not %s: %w",
			job.RecordID, entry.Tier, job.Source, errors.ErrInvalidRecord)
	}

	rec, err := srcStore.Read(ctx, job.RecordID)
	if err != nil {
		return false, errors.Wrap(err, "read source")
	}

	location, err := dstStore.Write(ctx, rec)
	if err != nil {
		return false, errors.Wrap(err, "write destination")
	}

	// Verify the copy is readable before the catalog switches over.
	verified, err := dstStore.Read(ctx, job.RecordID)
	if err != nil {
		return false, errors.Wrap(err, "verify destination")
	}
	if verified.ID != rec.ID || verified.CreatedAtMs != rec.CreatedAtMs {
		return false, fmt.Errorf("destination verification mismatch for record '%s': %w",
			job.RecordID, errors.ErrCorruptRecord)
	}

	// Commit point.
	entry.Tier = job.Dest
	entry.Location = location
	entry.LastMigratedAtMs = time.Now().UnixMilli()
	entry.WindowStartMs = 0
	entry.WindowCount = 0

	if err := e.catalog.Put(entry); err != nil {
		return false, errors.Wrap(err, "commit catalog entry")
	}

	return true, nil
}

// cleanupSource deletes the stale source copy after the commit.
// A failure here never fails the migration: the commit already happened
// and the stale copy is unreachable, so the deletion is retried in the
// background and the job is marked CleanupPending.
func (e *Engine) cleanupSource(ctx context.Context, job *types.MigrationJob, srcStore store.Store) {
	if err := srcStore.Delete(ctx, job.RecordID); err != nil {
		job.CleanupPending = true
		e.enqueueCleanup(cleanupTask{RecordID: job.RecordID, Tier: job.Source})
		logging.WithContext(ctx).Warn("source cleanup deferred",
			"component", "migration",
			"source", job.Source.String(),
			"error", err)
	}
}

// Expire deletes a record from the catalog and its tier store.
// The catalog entry goes first: once it is gone the record is
// unreachable, and leftover bytes are reclaimed by cleanup retries.
func (e *Engine) Expire(ctx context.Context, id string) error {
	if !e.running.Load() {
		return errors.ErrNotRunning
	}

	if !e.locks.TryAcquire(id) {
		return fmt.Errorf("record '%s': %w", id, errors.ErrMigrationInFlight)
	}
	defer e.locks.Release(id)

	entry, err := e.catalog.Get(id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if err := e.catalog.Delete(id); err != nil {
		return errors.Wrap(err, "delete catalog entry")
	}

	e.mu.Lock()
	e.stats.Expired++
	e.mu.Unlock()

	st, ok := e.stores[entry.Tier]
	if !ok {
		log.Warn("expired record referenced unknown tier", "record_id", id, "tier", entry.Tier.String())
		return nil
	}
	if err := st.Delete(ctx, id); err != nil {
		e.enqueueCleanup(cleanupTask{RecordID: id, Tier: entry.Tier})
	}

	log.Debug("record expired", "record_id", id, "tier", entry.Tier.String())
	return nil
}

// enqueueCleanup hands a failed deletion to the background worker.
// If the queue is full the task is dropped; leftover bytes are inert
// (the catalog no longer points at them) and cost only space.
func (e *Engine) enqueueCleanup(task cleanupTask) {
	e.mu.Lock()
	e.stats.CleanupsPending++
	e.mu.Unlock()

	select {
	case e.cleanupCh <- task:
	default:
		log.Warn("cleanup queue full, dropping task",
			"record_id", task.RecordID,
			"tier", task.Tier.String())
	}
}

// cleanupLoop retries failed post-commit deletions until they succeed
// or the engine stops.
func (e *Engine) cleanupLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.CleanupRetryInterval)
	defer ticker.Stop()

	var pending []cleanupTask

	for {
		select {
		case <-e.ctx.Done():
			return

		case task := <-e.cleanupCh:
			pending = append(pending, task)

		case <-ticker.C:
			remaining := pending[:0]
			for _, task := range pending {
				st, ok := e.stores[task.Tier]
				if !ok {
					continue
				}
				if err := st.Delete(e.ctx, task.RecordID); err != nil {
					remaining = append(remaining, task)
					continue
				}
				e.mu.Lock()
				e.stats.CleanupsPending--
				e.stats.CleanupsDone++
				e.mu.Unlock()
				log.Debug("stale source copy cleaned up",
					"record_id", task.RecordID,
					"tier", task.Tier.String())
			}
			pending = remaining
		}
	}
}

// finishJob records the job in the bounded history and latency sketch.
func (e *Engine) finishJob(job types.MigrationJob, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if job.State == types.JobCommitted {
		e.stats.Committed++
		if err := e.latency.Add(float64(duration.Milliseconds())); err != nil {
			log.Warn("latency sketch add", "error", err)
		}
	} else {
		e.stats.Failed++
	}
	e.stats.InFlight = e.locks.Held()

	e.history = append(e.history, job)
	if max := e.cfg.HistorySize; max > 0 && len(e.history) > max {
		e.history = e.history[len(e.history)-max:]
	}
}

// History returns a copy of the recent job history, newest last.
func (e *Engine) History() []types.MigrationJob {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.MigrationJob, len(e.history))
	copy(out, e.history)
	return out
}

// GetStats returns a snapshot of engine statistics, including migration
// latency quantiles.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.stats
	stats.InFlight = e.locks.Held()

	if e.latency.GetCount() > 0 {
		if v, err := e.latency.GetValueAtQuantile(0.50); err == nil {
			stats.LatencyP50Ms = v
		}
		if v, err := e.latency.GetValueAtQuantile(0.95); err == nil {
			stats.LatencyP95Ms = v
		}
		if v, err := e.latency.GetValueAtQuantile(0.99); err == nil {
			stats.LatencyP99Ms = v
		}
	}

	return stats
}
