// Package query answers reads without callers knowing where a record
// lives.
//
// Find resolves a record id through the catalog to the right tier store
// and records the access for reheat tracking. Search fans a predicate
// out across tiers warmest-first and degrades gracefully when a colder
// tier is unreachable.
package query

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/catalog"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/store"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var log = logging.Component("query")

// Stats holds query router counters.
type Stats struct {
	Finds           int64
	FindMisses      int64
	Searches        int64
	DegradedResults int64
	RowsReturned    int64
}

// SearchResult is the outcome of a cross-tier search.
//
// Degraded is set when one or more tiers could not be searched; the
// records present are still correct, just not exhaustive. FailedTiers
// names the tiers that were skipped.
type SearchResult struct {
	Records     []types.Record
	Degraded    bool
	FailedTiers []types.Tier
}

// Router resolves reads across the tier stores.
type Router struct {
	cfg     config.QueryConfig
	reheat  config.ReheatConfig
	catalog *catalog.Catalog
	stores  map[types.Tier]store.Store

	// flight collapses concurrent Finds for the same record into one
	// store read.
	flight singleflight.Group

	finds      atomic.Int64
	findMisses atomic.Int64
	searches   atomic.Int64
	degraded   atomic.Int64
	rows       atomic.Int64
}

// New creates a query router.
func New(cfg config.QueryConfig, reheat config.ReheatConfig, cat *catalog.Catalog, stores map[types.Tier]store.Store) *Router {
	return &Router{
		cfg:     cfg,
		reheat:  reheat,
		catalog: cat,
		stores:  stores,
	}
}

// Find returns a record by id, wherever it lives.
//
// The lookup is catalog-first: the entry names the owning tier, the
// tier's store serves the bytes. Every successful Find is recorded as an
// access on the catalog entry so the reheat policy sees real usage.
// Concurrent Finds for the same id share one store read.
func (r *Router) Find(ctx context.Context, id string) (types.Record, error) {
	r.finds.Add(1)

	v, err, _ := r.flight.Do(id, func() (interface{}, error) {
		return r.find(ctx, id)
	})
	if err != nil {
		if errors.IsNotFound(err) {
			r.findMisses.Add(1)
		}
		return types.Record{}, err
	}

	r.rows.Add(1)
	return v.(types.Record), nil
}

func (r *Router) find(ctx context.Context, id string) (types.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	entry, err := r.catalog.Get(id)
	if err != nil {
		return types.Record{}, err
	}

	st, ok := r.stores[entry.Tier]
	if !ok {
		return types.Record{}, errors.NewUnknownTier(entry.Tier.String())
	}

	rec, err := st.Read(ctx, id)
	if err != nil {
		return types.Record{}, err
	}

	// Access tracking feeds the reheat policy. A failed touch never
	// fails the read.
	if _, err := r.catalog.Touch(id, r.reheat.Window, time.Now()); err != nil {
		log.Warn("access tracking failed", "record_id", id, "error", err)
	}

	return rec, nil
}

// Search runs a predicate across tiers, warmest first.
//
// tiers narrows the search; nil means all tiers. The scan stops as soon
// as the limit is filled. A tier whose store cannot be reached is
// skipped and reported in the result instead of failing the whole
// search: partial answers from the tiers that are up beat no answer.
func (r *Router) Search(ctx context.Context, pred store.Predicate, tiers []types.Tier, limit int) (SearchResult, error) {
	r.searches.Add(1)

	if limit <= 0 || limit > r.cfg.MaxResults {
		limit = r.cfg.MaxResults
	}
	if tiers == nil {
		tiers = types.AllTiers()
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var result SearchResult

	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(result.Records) >= limit {
			break
		}

		st, ok := r.stores[tier]
		if !ok {
			return result, errors.NewUnknownTier(tier.String())
		}
		searcher, ok := st.(store.Searcher)
		if !ok {
			continue
		}

		records, err := searcher.Search(ctx, pred, limit-len(result.Records))
		if err != nil {
			if errors.Is(err, errors.ErrStoreUnavailable) {
				result.Degraded = true
				result.FailedTiers = append(result.FailedTiers, tier)
				log.Warn("tier unavailable during search, continuing degraded",
					"tier", tier.String(),
					"error", err)
				continue
			}
			return result, errors.Wrapf(err, "search tier %s", tier)
		}

		result.Records = append(result.Records, records...)
	}

	if result.Degraded {
		r.degraded.Add(1)
	}
	r.rows.Add(int64(len(result.Records)))

	return result, nil
}

// GetStats returns a snapshot of router statistics.
func (r *Router) GetStats() Stats {
	return Stats{
		Finds:           r.finds.Load(),
		FindMisses:      r.findMisses.Load(),
		Searches:        r.searches.Load(),
		DegradedResults: r.degraded.Load(),
		RowsReturned:    r.rows.Load(),
	}
}
