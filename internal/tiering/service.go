// Package tiering wires the lifecycle engine together.
//
// Service is the composition root: it owns the catalog, the per-tier
// stores, the placement policy, the migration engine, the sweep
// scheduler and the query router, and exposes the public surface the
// daemon serves (ingest, find, search, delete, sweeps, stats).
package tiering

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/catalog"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/migration"
	"github.com/xtxerr/logtier/internal/tiering/policy"
	"github.com/xtxerr/logtier/internal/tiering/query"
	"github.com/xtxerr/logtier/internal/tiering/scheduler"
	"github.com/xtxerr/logtier/internal/tiering/store"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var log = logging.Component("tiering")

// Service is the tiered storage lifecycle engine.
type Service struct {
	cfg *config.Config

	catalog   *catalog.Catalog
	stores    map[types.Tier]store.Store
	policy    *policy.Policy
	engine    *migration.Engine
	scheduler *scheduler.Scheduler
	router    *query.Router

	running   atomic.Bool
	startedAt time.Time
}

// TierStats describes one tier's usage.
type TierStats struct {
	Tier      string  `json:"tier"`
	Records   int64   `json:"records"`
	Bytes     int64   `json:"bytes"`
	BytesStr  string  `json:"bytes_human"`
	CostPerGB float64 `json:"cost_per_gb_month"`
}

// Stats is the full service statistics snapshot.
type Stats struct {
	Running       bool             `json:"running"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Tiers         []TierStats      `json:"tiers"`
	Migration     migration.Stats  `json:"migration"`
	Query         query.Stats      `json:"query"`
	LastSweep     scheduler.Result `json:"last_sweep"`
	SweepCount    int64            `json:"sweep_count"`
}

// New builds a service from configuration. Nothing runs until Start.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, "ensure directories")
	}

	cat, err := catalog.Open(cfg.CatalogDir(), types.AllTiers())
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}

	stores := make(map[types.Tier]store.Store, len(cfg.Tiers))
	for _, def := range cfg.Tiers {
		tier, err := types.ParseTier(def.Name)
		if err != nil {
			cat.Close()
			return nil, err
		}
		if def.Path == "" {
			def.Path = cfg.TierDir(def.Name)
		}

		st, err := store.Open(def, cfg.Archive)
		if err != nil {
			for _, open := range stores {
				open.Close()
			}
			cat.Close()
			return nil, errors.Wrapf(err, "open %s store", def.Name)
		}
		stores[tier] = st
	}

	pol := policy.New(cfg)

	eng, err := migration.New(cfg.Migration, cat, stores)
	if err != nil {
		for _, open := range stores {
			open.Close()
		}
		cat.Close()
		return nil, errors.Wrap(err, "create migration engine")
	}

	return &Service{
		cfg:       cfg,
		catalog:   cat,
		stores:    stores,
		policy:    pol,
		engine:    eng,
		scheduler: scheduler.New(cfg.Sweep, cat, pol, eng),
		router:    query.New(cfg.Query, cfg.Reheat, cat, stores),
	}, nil
}

// Start brings up the migration engine and the sweep scheduler.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	if err := s.engine.Start(); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "start migration engine")
	}
	if err := s.scheduler.Start(); err != nil {
		s.engine.Stop()
		s.running.Store(false)
		return errors.Wrap(err, "start scheduler")
	}

	s.startedAt = time.Now()
	log.Info("tiering service started", "data_dir", s.cfg.DataDir)
	return nil
}

// Stop shuts everything down in dependency order: no new sweeps, then no
// new migrations, then the stores and catalog.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	var firstErr error

	if err := s.scheduler.Stop(); err != nil && err != errors.ErrTimeout {
		firstErr = err
	}
	if err := s.engine.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	for tier, st := range s.stores {
		if err := st.Close(); err != nil {
			log.Error("close store", "tier", tier.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := s.catalog.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	log.Info("tiering service stopped")
	return firstErr
}

// Ingest stores a new record in the hot tier and registers it in the
// catalog. A record without an id gets one assigned; the stored record
// is returned.
//
// Ingest is hot-or-nothing: if the hot tier cannot take the write the
// ingest fails loudly rather than silently landing the record in a
// colder tier with different latency guarantees.
func (s *Service) Ingest(ctx context.Context, rec types.Record) (types.Record, error) {
	if !s.running.Load() {
		return types.Record{}, errors.ErrNotRunning
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAtMs == 0 {
		rec.CreatedAtMs = time.Now().UnixMilli()
	}
	if rec.Service == "" {
		return types.Record{}, errors.NewMissingField("service")
	}

	if _, err := s.catalog.Get(rec.ID); err == nil {
		return types.Record{}, fmt.Errorf("record '%s': %w", rec.ID, errors.ErrRecordAlreadyExists)
	}

	hot := s.stores[types.TierHot]
	location, err := hot.Write(ctx, rec)
	if err != nil {
		return types.Record{}, errors.Wrap(err, "hot tier write")
	}

	entry := types.CatalogEntry{
		RecordID:    rec.ID,
		Tier:        types.TierHot,
		Location:    location,
		SizeBytes:   rec.SizeBytes(),
		CreatedAtMs: rec.CreatedAtMs,
	}
	if err := s.catalog.Put(entry); err != nil {
		// The record was never visible; take the bytes back out.
		if delErr := hot.Delete(ctx, rec.ID); delErr != nil {
			log.Warn("rollback of hot write failed", "record_id", rec.ID, "error", delErr)
		}
		return types.Record{}, errors.Wrap(err, "register record")
	}

	return rec, nil
}

// IngestBatch ingests every record in the batch in order and returns
// the stored records. Ingestion stops at the first failure; records
// already ingested stay, and the returned slice says how far it got.
func (s *Service) IngestBatch(ctx context.Context, batch *types.RecordBatch) ([]types.Record, error) {
	if !s.running.Load() {
		return nil, errors.ErrNotRunning
	}

	stored := make([]types.Record, 0, batch.Len())
	for i := range batch.Records {
		rec, err := s.Ingest(ctx, batch.Records[i])
		if err != nil {
			return stored, errors.Wrapf(err, "ingest record %d of %d", i+1, batch.Len())
		}
		stored = append(stored, rec)
	}

	return stored, nil
}

// Find returns a record by id.
func (s *Service) Find(ctx context.Context, id string) (types.Record, error) {
	if !s.running.Load() {
		return types.Record{}, errors.ErrNotRunning
	}
	return s.router.Find(ctx, id)
}

// Search runs a predicate across tiers. A nil tiers slice searches all
// of them, warmest first.
func (s *Service) Search(ctx context.Context, pred store.Predicate, tiers []types.Tier, limit int) (query.SearchResult, error) {
	if !s.running.Load() {
		return query.SearchResult{}, errors.ErrNotRunning
	}
	return s.router.Search(ctx, pred, tiers, limit)
}

// Delete removes a record from the catalog and its tier store.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.running.Load() {
		return errors.ErrNotRunning
	}
	return s.engine.Expire(ctx, id)
}

// Migrate moves one record explicitly, outside any sweep.
func (s *Service) Migrate(ctx context.Context, id string, dest types.Tier) (types.MigrationJob, error) {
	if !s.running.Load() {
		return types.MigrationJob{}, errors.ErrNotRunning
	}

	entry, err := s.catalog.Get(id)
	if err != nil {
		return types.MigrationJob{}, err
	}
	return s.engine.Migrate(ctx, id, entry.Tier, dest)
}

// RunSweep triggers a sweep immediately.
func (s *Service) RunSweep(ctx context.Context) (scheduler.Result, error) {
	return s.scheduler.Sweep(ctx)
}

// DryRunSweep reports what a sweep would do without moving anything.
func (s *Service) DryRunSweep(ctx context.Context) ([]scheduler.Decision, error) {
	return s.scheduler.DryRun(ctx)
}

// CompactArchive rewrites archive segments, reclaiming tombstoned space.
func (s *Service) CompactArchive(ctx context.Context) error {
	arch, ok := s.stores[types.TierArchive].(*store.ArchiveStore)
	if !ok {
		return errors.NewUnknownTier(types.TierArchive.String())
	}
	return arch.Compact(ctx)
}

// MigrationHistory returns the recent migration jobs, newest last.
func (s *Service) MigrationHistory() []types.MigrationJob {
	return s.engine.History()
}

// GetStats returns a full statistics snapshot.
func (s *Service) GetStats() (Stats, error) {
	usage, err := s.catalog.UsageByTier()
	if err != nil {
		return Stats{}, errors.Wrap(err, "catalog usage")
	}

	stats := Stats{
		Running:   s.running.Load(),
		Migration: s.engine.GetStats(),
		Query:     s.router.GetStats(),
	}
	if stats.Running {
		stats.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	stats.LastSweep, stats.SweepCount = s.scheduler.LastResult()

	for _, tier := range types.AllTiers() {
		u := usage[tier]
		ts := TierStats{
			Tier:     tier.String(),
			Records:  u.Records,
			Bytes:    u.Bytes,
			BytesStr: formatBytes(u.Bytes),
		}
		if def, ok := s.cfg.Definition(tier); ok {
			ts.CostPerGB = def.CostPerGBMonth
		}
		stats.Tiers = append(stats.Tiers, ts)
	}

	return stats, nil
}

// formatBytes renders a byte count for humans.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
