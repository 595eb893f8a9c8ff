package types

import "time"

// CatalogEntry maps a record id to its current tier and physical location.
// The catalog is the single source of truth: a record is queryable at the
// location the entry points to, and nowhere else.
type CatalogEntry struct {
	// RecordID is the record's unique id (catalog key).
	RecordID string `badgerhold:"key"`

	// Tier is the tier that currently owns the record's bytes.
	Tier Tier `badgerhold:"index"`

	// Location is the physical location key within the owning tier's store.
	Location string

	// SizeBytes is the stored size of the record.
	SizeBytes int64

	// CreatedAtMs is the record's ingestion timestamp in Unix milliseconds.
	CreatedAtMs int64

	// LastMigratedAtMs is when the record last changed tiers.
	// Zero until the first migration.
	LastMigratedAtMs int64

	// Access statistics, maintained by the query path.
	LastAccessAtMs int64
	AccessCount    int64

	// Trailing-window access counter used for reheat decisions.
	// WindowCount accumulates accesses since WindowStartMs; the window is
	// reset whenever it has fully elapsed at the next access.
	WindowStartMs int64
	WindowCount   int64
}

// Age returns the time elapsed since the record was created.
func (e *CatalogEntry) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.CreatedAtMs))
}

// TimeInTier returns how long the record has resided in its current tier.
func (e *CatalogEntry) TimeInTier(now time.Time) time.Duration {
	since := e.CreatedAtMs
	if e.LastMigratedAtMs > since {
		since = e.LastMigratedAtMs
	}
	return now.Sub(time.UnixMilli(since))
}

// WindowAccesses returns the access count within the trailing window,
// or zero if the window has fully elapsed.
func (e *CatalogEntry) WindowAccesses(window time.Duration, now time.Time) int64 {
	if e.WindowStartMs == 0 {
		return 0
	}
	if now.Sub(time.UnixMilli(e.WindowStartMs)) > window {
		return 0
	}
	return e.WindowCount
}

// JobState is the lifecycle state of a migration job.
type JobState int

const (
	// JobPending is a job created but not yet picked up by a worker.
	JobPending JobState = iota
	// JobInFlight is a job whose migration attempt is executing.
	JobInFlight
	// JobCommitted is a job whose catalog commit succeeded.
	JobCommitted
	// JobFailed is a job that exhausted its retry budget before committing.
	JobFailed
)

// String returns the string representation of the state.
func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobInFlight:
		return "in-flight"
	case JobCommitted:
		return "committed"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal returns true for committed and failed states.
func (s JobState) Terminal() bool {
	return s == JobCommitted || s == JobFailed
}

// MigrationJob tracks one record's transition between two tiers.
// At most one job per record id is ever in flight at a time.
type MigrationJob struct {
	RecordID string
	Source   Tier
	Dest     Tier
	State    JobState
	Attempts int
	Error    string

	// CleanupPending is set on a committed job whose stale source copy
	// could not be deleted yet. The deletion is retried in the
	// background; the record is already served from Dest.
	CleanupPending bool

	CreatedAtMs  int64
	FinishedAtMs int64
}
