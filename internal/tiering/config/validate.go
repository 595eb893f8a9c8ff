package config

import (
	"fmt"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	v := errors.NewValidationErrors()

	if c.DataDir == "" {
		v.AddMissing("data_dir")
	}

	if err := c.validateTiers(); err != nil {
		v.Add(errors.Wrap(err, "tiers"))
	}
	if err := c.Reheat.Validate(); err != nil {
		v.Add(errors.Wrap(err, "reheat"))
	}
	if err := c.Migration.Validate(); err != nil {
		v.Add(errors.Wrap(err, "migration"))
	}
	if err := c.Sweep.Validate(); err != nil {
		v.Add(errors.Wrap(err, "sweep"))
	}
	if err := c.Archive.Validate(); err != nil {
		v.Add(errors.Wrap(err, "archive"))
	}
	if err := c.Query.Validate(); err != nil {
		v.Add(errors.Wrap(err, "query"))
	}

	return v.Err()
}

// validateTiers checks the tier definitions.
// All four tiers must be present, in rank order, each with a known adapter.
func (c *Config) validateTiers() error {
	all := types.AllTiers()
	if len(c.Tiers) != len(all) {
		return fmt.Errorf("expected %d tier definitions, got %d", len(all), len(c.Tiers))
	}

	v := errors.NewValidationErrors()

	for i, td := range c.Tiers {
		tier, err := types.ParseTier(td.Name)
		if err != nil {
			v.Add(errors.Wrapf(err, "tier %d", i))
			continue
		}
		if tier != all[i] {
			v.Add(fmt.Errorf("tier %d: expected %s, got %s: %w", i, all[i], td.Name, errors.ErrInvalidTierOrder))
		}

		switch td.Adapter {
		case AdapterFastDisk, AdapterDisk, AdapterArchive:
		case "":
			v.AddMissing(fmt.Sprintf("tier %s adapter", td.Name))
		default:
			v.Add(errors.NewInvalidValue("adapter", td.Adapter,
				fmt.Sprintf("tier %s accepts %s, %s or %s", td.Name, AdapterFastDisk, AdapterDisk, AdapterArchive)))
		}

		if td.MinResidency < 0 {
			v.AddField(fmt.Sprintf("tier %s min_residency", td.Name), "must not be negative")
		}

		// Every tier except the coldest needs an age threshold to demote by.
		if !tier.IsColdest() && td.AgeThreshold <= 0 {
			v.AddField(fmt.Sprintf("tier %s age_threshold", td.Name), "must be positive")
		}

		// The coldest tier needs a retention period to expire by.
		if tier.IsColdest() && td.Retention <= 0 {
			v.AddField(fmt.Sprintf("tier %s retention", td.Name), "must be positive")
		}
	}

	return v.Err()
}

// Validate checks the reheat configuration.
func (c *ReheatConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	v := errors.NewValidationErrors()

	if c.Threshold <= 0 {
		v.AddField("threshold", "must be positive when enabled")
	}
	if c.Window <= 0 {
		v.AddField("window", "must be positive when enabled")
	}

	return v.Err()
}

// Validate checks the migration configuration.
func (c *MigrationConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.MaxAttempts <= 0 {
		v.AddField("max_attempts", "must be positive")
	}
	if c.RetryBackoff <= 0 {
		v.AddField("retry_backoff", "must be positive")
	}
	if c.AttemptTimeout <= 0 {
		v.AddField("attempt_timeout", "must be positive")
	}
	// The cleanup worker tickers on this interval; zero would panic it.
	if c.CleanupRetryInterval <= 0 {
		v.AddField("cleanup_retry_interval", "must be positive")
	}
	if c.HistorySize < 0 {
		v.AddField("history_size", "must not be negative")
	}

	return v.Err()
}

// Validate checks the sweep configuration.
func (c *SweepConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.Cron == "" {
		v.AddMissing("cron")
	}
	if c.Workers <= 0 {
		v.AddField("workers", "must be positive")
	}
	if c.QueueSize <= 0 {
		v.AddField("queue_size", "must be positive")
	}
	if c.PageSize <= 0 {
		v.AddField("page_size", "must be positive")
	}
	if c.DrainTimeout <= 0 {
		v.AddField("drain_timeout", "must be positive")
	}

	return v.Err()
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if c.FlushRows <= 0 {
		return errors.NewValidation("flush_rows", "must be positive")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	v := errors.NewValidationErrors()

	if c.MaxResults <= 0 {
		v.AddField("max_results", "must be positive")
	}
	// Every Find and Search runs under this deadline; zero would expire
	// them before the first catalog lookup.
	if c.Timeout <= 0 {
		v.AddField("timeout", "must be positive")
	}

	return v.Err()
}
