// Package catalog provides the persistent metadata index for the tiering
// system.
//
// The catalog maps record ids to CatalogEntry values and is the single
// source of truth for record placement: a record's bytes are queryable at
// the tier and location its entry points to, and nowhere else. Entries are
// persisted in a Badger database; concurrent reads are lock-free (Badger
// MVCC) and writes to the same record id are serialized through a striped
// lock table.
package catalog

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var log = logging.Component("catalog")

// lockStripes is the size of the striped write-lock table.
const lockStripes = 64

// Catalog is the persistent record id → CatalogEntry index.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	store *badgerhold.Store
	known map[types.Tier]struct{}

	locks [lockStripes]sync.Mutex

	mu     sync.Mutex
	closed bool
}

// Usage holds per-tier aggregate statistics.
type Usage struct {
	Records int64
	Bytes   int64
}

// Open opens (or creates) a catalog in the given directory.
// Only the given tiers are accepted in Put calls.
func Open(dir string, tiers []types.Tier) (*Catalog, error) {
	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(dir).WithLogger(nil)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	known := make(map[types.Tier]struct{}, len(tiers))
	for _, t := range tiers {
		known[t] = struct{}{}
	}

	log.Debug("catalog opened", "dir", dir, "tiers", len(tiers))

	return &Catalog{
		store: store,
		known: known,
	}, nil
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.store.Close()
}

// stripe returns the write lock for a record id.
func (c *Catalog) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &c.locks[h.Sum32()%lockStripes]
}

// Get returns the entry for a record id.
// Returns ErrEntryNotFound if no entry exists.
func (c *Catalog) Get(id string) (types.CatalogEntry, error) {
	var entry types.CatalogEntry

	err := c.store.Get(id, &entry)
	if err == badgerhold.ErrNotFound {
		return types.CatalogEntry{}, fmt.Errorf("record '%s': %w", id, errors.ErrEntryNotFound)
	}
	if err != nil {
		return types.CatalogEntry{}, fmt.Errorf("catalog get %s: %w: %w", id, errors.ErrCatalog, err)
	}

	entry.RecordID = id
	return entry, nil
}

// Put upserts an entry. Used only by ingestion and the migration engine.
//
// Entries referencing a tier that is not configured are rejected with
// ErrUnknownTier — a catalog that points records at nonexistent tiers is
// never silently accepted.
func (c *Catalog) Put(entry types.CatalogEntry) error {
	if entry.RecordID == "" {
		return errors.NewMissingField("record_id")
	}
	if _, ok := c.known[entry.Tier]; !ok {
		return errors.NewUnknownTier(entry.Tier.String())
	}

	mu := c.stripe(entry.RecordID)
	mu.Lock()
	defer mu.Unlock()

	// Persistence failures are tagged ErrCatalog: they are transient from
	// the caller's point of view and safe to retry, unlike the rejections
	// above.
	if err := c.store.Upsert(entry.RecordID, &entry); err != nil {
		return fmt.Errorf("catalog put %s: %w: %w", entry.RecordID, errors.ErrCatalog, err)
	}

	return nil
}

// Delete removes an entry. Missing entries are not an error.
func (c *Catalog) Delete(id string) error {
	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	err := c.store.Delete(id, types.CatalogEntry{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("catalog delete %s: %w: %w", id, errors.ErrCatalog, err)
	}

	return nil
}

// Touch records a read access on the entry: last access timestamp, total
// count and the trailing window counter used for reheat decisions. The
// window restarts once it has fully elapsed.
func (c *Catalog) Touch(id string, window time.Duration, now time.Time) (types.CatalogEntry, error) {
	mu := c.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	var entry types.CatalogEntry
	err := c.store.Get(id, &entry)
	if err == badgerhold.ErrNotFound {
		return types.CatalogEntry{}, fmt.Errorf("record '%s': %w", id, errors.ErrEntryNotFound)
	}
	if err != nil {
		return types.CatalogEntry{}, fmt.Errorf("catalog touch %s: %w: %w", id, errors.ErrCatalog, err)
	}
	entry.RecordID = id

	nowMs := now.UnixMilli()
	entry.LastAccessAtMs = nowMs
	entry.AccessCount++

	if entry.WindowStartMs == 0 || now.Sub(time.UnixMilli(entry.WindowStartMs)) > window {
		entry.WindowStartMs = nowMs
		entry.WindowCount = 1
	} else {
		entry.WindowCount++
	}

	if err := c.store.Upsert(id, &entry); err != nil {
		return types.CatalogEntry{}, fmt.Errorf("catalog touch %s: %w: %w", id, errors.ErrCatalog, err)
	}

	return entry, nil
}

// ListByTier returns up to limit record ids owned by a tier, starting
// strictly after the cursor. The returned cursor resumes the enumeration;
// an empty cursor means the enumeration is complete.
//
// Badger iterates entries in key order, so pages are stable under
// concurrent writes to other records and the scheduler never has to hold
// a full tier's ids in memory.
func (c *Catalog) ListByTier(tier types.Tier, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 1
	}

	query := badgerhold.Where("Tier").Eq(tier).Index("Tier")
	if cursor != "" {
		query = badgerhold.Where("Tier").Eq(tier).Index("Tier").
			And(badgerhold.Key).Gt(cursor)
	}
	query = query.Limit(limit)

	var entries []types.CatalogEntry
	if err := c.store.Find(&entries, query); err != nil {
		return nil, "", fmt.Errorf("catalog list tier %s: %w: %w", tier, errors.ErrCatalog, err)
	}

	ids := make([]string, 0, len(entries))
	for i := range entries {
		ids = append(ids, entries[i].RecordID)
	}

	next := ""
	if len(ids) == limit {
		next = ids[len(ids)-1]
	}

	return ids, next, nil
}

// UsageByTier returns record counts and byte totals per tier.
// Consumed by the stats surface; the dashboard that renders it is an
// external collaborator.
func (c *Catalog) UsageByTier() (map[types.Tier]Usage, error) {
	usage := make(map[types.Tier]Usage)

	err := c.store.ForEach(&badgerhold.Query{}, func(entry *types.CatalogEntry) error {
		u := usage[entry.Tier]
		u.Records++
		u.Bytes += entry.SizeBytes
		usage[entry.Tier] = u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog usage scan: %w: %w", errors.ErrCatalog, err)
	}

	return usage, nil
}
