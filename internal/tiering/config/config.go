package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/logtier/config"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

// Config represents the complete tiering configuration.
type Config struct {
	// DataDir is the root directory for all tier stores and the catalog.
	DataDir string `yaml:"data_dir"`

	// Tiers defines the four tiers in rank order (hot, warm, cold, archive).
	// Loaded once at startup, immutable thereafter.
	Tiers []TierDefinition `yaml:"tiers"`

	// Reheat configures access-pattern-driven promotion.
	Reheat ReheatConfig `yaml:"reheat"`

	// Migration configures the migration engine.
	Migration MigrationConfig `yaml:"migration"`

	// Sweep configures the background placement sweep.
	Sweep SweepConfig `yaml:"sweep"`

	// Archive configures the archive tier store.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the query router.
	Query QueryConfig `yaml:"query"`
}

// Adapter kinds selectable per tier.
const (
	// AdapterFastDisk writes without fsync for lowest latency.
	AdapterFastDisk = "fast-disk"
	// AdapterDisk fsyncs every write.
	AdapterDisk = "disk"
	// AdapterArchive stores records in parquet segments.
	AdapterArchive = "archive"
)

// TierDefinition describes one tier's media and lifecycle thresholds.
type TierDefinition struct {
	// Name is the tier name: hot, warm, cold or archive.
	Name string `yaml:"name"`

	// Adapter selects the physical medium: fast-disk, disk or archive.
	Adapter string `yaml:"adapter"`

	// Path overrides the tier's store directory. Defaults to {DataDir}/{Name}.
	Path string `yaml:"path"`

	// MaxLatency is the tier's read latency budget.
	MaxLatency time.Duration `yaml:"max_latency"`

	// CostPerGBMonth is the tier's storage cost, used for reporting.
	CostPerGBMonth float64 `yaml:"cost_per_gb_month"`

	// AgeThreshold is the record age that triggers demotion out of this tier.
	AgeThreshold time.Duration `yaml:"age_threshold"`

	// MinResidency is the minimum time a record must stay in this tier
	// before it may be demoted again. Prevents thrashing.
	MinResidency time.Duration `yaml:"min_residency"`

	// Retention is how long records may live in this tier before expiry.
	// Only meaningful on the archive tier, where it triggers deletion.
	Retention time.Duration `yaml:"retention"`
}

// ReheatConfig configures access-pattern-driven promotion.
// When disabled, migrations are monotonic (cold direction only).
type ReheatConfig struct {
	// Enabled enables reheat promotion.
	Enabled bool `yaml:"enabled"`

	// Threshold is the trailing-window access count that triggers promotion.
	Threshold int64 `yaml:"threshold"`

	// Window is the trailing window length.
	Window time.Duration `yaml:"window"`
}

// MigrationConfig configures the migration engine.
type MigrationConfig struct {
	// MaxAttempts bounds retries of a migration attempt before its
	// catalog commit.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the initial backoff between attempts; it doubles
	// per attempt.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// AttemptTimeout is the wall-clock budget for a single attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// CleanupRetryInterval is the delay between best-effort retries of
	// post-commit source cleanup.
	CleanupRetryInterval time.Duration `yaml:"cleanup_retry_interval"`

	// HistorySize bounds the in-memory ring of terminal jobs.
	HistorySize int `yaml:"history_size"`
}

// SweepConfig configures the background placement sweep.
type SweepConfig struct {
	// Cron is the sweep schedule in cron syntax (e.g. "*/5 * * * *").
	Cron string `yaml:"cron"`

	// Workers is the number of concurrent migration workers.
	Workers int `yaml:"workers"`

	// QueueSize is the migration job queue capacity.
	QueueSize int `yaml:"queue_size"`

	// PageSize is how many catalog entries are enumerated per page.
	PageSize int `yaml:"page_size"`

	// DrainTimeout is how long to wait for in-flight migrations on stop.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// ArchiveConfig configures the archive tier store.
type ArchiveConfig struct {
	// FlushRows is the memtable size that triggers a segment flush.
	FlushRows int `yaml:"flush_rows"`

	// MemoryLimit is the DuckDB memory limit for archive searches.
	MemoryLimit string `yaml:"memory_limit"`
}

// QueryConfig configures the query router.
type QueryConfig struct {
	// MaxResults caps the number of records a search returns.
	MaxResults int `yaml:"max_results"`

	// Timeout is the per-search timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/logtier",
		Tiers: []TierDefinition{
			{
				Name:           "hot",
				Adapter:        AdapterFastDisk,
				MaxLatency:     5 * time.Millisecond,
				CostPerGBMonth: 0.25,
				AgeThreshold:   defaults.DefaultHotAgeThreshold,
				MinResidency:   24 * time.Hour,
			},
			{
				Name:           "warm",
				Adapter:        AdapterDisk,
				MaxLatency:     50 * time.Millisecond,
				CostPerGBMonth: 0.10,
				AgeThreshold:   defaults.DefaultWarmAgeThreshold,
				MinResidency:   2 * 24 * time.Hour,
			},
			{
				Name:           "cold",
				Adapter:        AdapterDisk,
				MaxLatency:     500 * time.Millisecond,
				CostPerGBMonth: 0.04,
				AgeThreshold:   defaults.DefaultColdAgeThreshold,
				MinResidency:   7 * 24 * time.Hour,
			},
			{
				Name:           "archive",
				Adapter:        AdapterArchive,
				MaxLatency:     5 * time.Second,
				CostPerGBMonth: 0.01,
				MinResidency:   30 * 24 * time.Hour,
				Retention:      defaults.DefaultArchiveRetention,
			},
		},
		Reheat: ReheatConfig{
			Enabled:   true,
			Threshold: defaults.DefaultReheatThreshold,
			Window:    defaults.DefaultReheatWindow,
		},
		Migration: MigrationConfig{
			MaxAttempts:          defaults.DefaultMigrationMaxAttempts,
			RetryBackoff:         defaults.DefaultMigrationRetryBackoff,
			AttemptTimeout:       defaults.DefaultMigrationAttemptTimeout,
			CleanupRetryInterval: defaults.DefaultCleanupRetryInterval,
			HistorySize:          256,
		},
		Sweep: SweepConfig{
			Cron:         defaults.DefaultSweepCron,
			Workers:      defaults.DefaultSweepWorkers,
			QueueSize:    256,
			PageSize:     defaults.DefaultSweepPageSize,
			DrainTimeout: 30 * time.Second,
		},
		Archive: ArchiveConfig{
			FlushRows:   defaults.DefaultArchiveFlushRows,
			MemoryLimit: defaults.DefaultArchiveMemoryLimit,
		},
		Query: QueryConfig{
			MaxResults: 1000,
			Timeout:    30 * time.Second,
		},
	}
}

// TierDir returns the store directory for a tier.
func (c *Config) TierDir(name string) string {
	for i := range c.Tiers {
		if c.Tiers[i].Name == name && c.Tiers[i].Path != "" {
			return c.Tiers[i].Path
		}
	}
	return filepath.Join(c.DataDir, name)
}

// CatalogDir returns the catalog database directory.
func (c *Config) CatalogDir() string {
	return filepath.Join(c.DataDir, "catalog")
}

// Definition returns the definition for a tier.
// The second return value is false if the tier is not configured.
func (c *Config) Definition(t types.Tier) (TierDefinition, bool) {
	for i := range c.Tiers {
		if c.Tiers[i].Name == t.String() {
			return c.Tiers[i], true
		}
	}
	return TierDefinition{}, false
}

// EnsureDirectories creates all configured directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.CatalogDir()}
	for _, td := range c.Tiers {
		dirs = append(dirs, c.TierDir(td.Name))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	return nil
}
