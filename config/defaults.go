// Package config provides configuration defaults and utilities
// for the logtier application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Tier Defaults
// =============================================================================

const (
	// DefaultHotAgeThreshold is the record age that triggers demotion out
	// of the hot tier.
	// Override via config: tiers[hot].age_threshold
	DefaultHotAgeThreshold = 7 * 24 * time.Hour

	// DefaultWarmAgeThreshold is the record age that triggers demotion out
	// of the warm tier.
	// Override via config: tiers[warm].age_threshold
	DefaultWarmAgeThreshold = 30 * 24 * time.Hour

	// DefaultColdAgeThreshold is the record age that triggers demotion out
	// of the cold tier.
	// Override via config: tiers[cold].age_threshold
	DefaultColdAgeThreshold = 90 * 24 * time.Hour

	// DefaultArchiveRetention is how long records live in the archive tier
	// before expiry deletes them entirely.
	// Override via config: tiers[archive].retention
	DefaultArchiveRetention = 365 * 24 * time.Hour
)

// =============================================================================
// Reheat Defaults
// =============================================================================

const (
	// DefaultReheatThreshold is the number of reads within the reheat
	// window that promotes a record one tier warmer.
	// Override via config: reheat.threshold
	DefaultReheatThreshold = 10

	// DefaultReheatWindow is the trailing window over which reheat
	// accesses are counted.
	// Override via config: reheat.window
	DefaultReheatWindow = time.Hour
)

// =============================================================================
// Migration Defaults
// =============================================================================

const (
	// DefaultMigrationMaxAttempts is the per-migration retry budget.
	// A migration that fails this many times before its catalog commit
	// is abandoned and retried on a later sweep.
	// Override via config: migration.max_attempts
	DefaultMigrationMaxAttempts = 3

	// DefaultMigrationRetryBackoff is the initial delay between migration
	// attempts. The delay doubles per attempt.
	// Override via config: migration.retry_backoff
	DefaultMigrationRetryBackoff = 200 * time.Millisecond

	// DefaultMigrationAttemptTimeout bounds one copy-verify-commit cycle.
	// Override via config: migration.attempt_timeout
	DefaultMigrationAttemptTimeout = 30 * time.Second

	// DefaultCleanupRetryInterval is how often failed post-commit source
	// deletions are retried in the background.
	// Override via config: migration.cleanup_retry_interval
	DefaultCleanupRetryInterval = 10 * time.Second
)

// =============================================================================
// Sweep Defaults
// =============================================================================

const (
	// DefaultSweepCron runs a lifecycle sweep every five minutes.
	// Override via config: sweep.cron
	DefaultSweepCron = "*/5 * * * *"

	// DefaultSweepWorkers is the number of concurrent migration workers
	// the sweep dispatches to.
	// Override via config: sweep.workers
	DefaultSweepWorkers = 4

	// DefaultSweepPageSize is the number of catalog entries fetched per
	// page while scanning a tier. Bounds sweep memory regardless of
	// catalog size.
	// Override via config: sweep.page_size
	DefaultSweepPageSize = 512
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultArchiveFlushRows is the memtable size at which the archive
	// store writes a new parquet segment.
	// Override via config: archive.flush_rows
	DefaultArchiveFlushRows = 1024

	// DefaultArchiveMemoryLimit caps the archive query engine's memory.
	// Override via config: archive.memory_limit
	DefaultArchiveMemoryLimit = "512MB"
)
