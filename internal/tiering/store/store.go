// Package store implements the per-tier storage adapters.
//
// Every tier is backed by a Store: hot and warm by disk stores (with and
// without fsync-on-write), cold by a synced disk store, and archive by a
// parquet segment store. The migration engine and query router speak only
// the Store interface; adapter-specific behavior stays behind it.
package store

import (
	"context"
	"strings"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

// Store is the contract every tier backend implements.
//
// Write is durable on return per the adapter's durability class and
// returns an opaque location string for the catalog. Read and Delete
// address records by id. All methods honor context cancellation and
// return ErrStoreUnavailable (wrapped) when the backend cannot be
// reached, so callers can distinguish "not there" from "can't tell".
type Store interface {
	// Read returns the record stored under the id.
	// Returns ErrRecordNotFound if the store does not hold it.
	Read(ctx context.Context, id string) (types.Record, error)

	// Write stores the record and returns its location.
	Write(ctx context.Context, rec types.Record) (string, error)

	// Delete removes the record. Missing records are not an error:
	// migration cleanup must be idempotent.
	Delete(ctx context.Context, id string) error

	// Exists reports whether the store holds the record.
	Exists(ctx context.Context, id string) (bool, error)

	// Close releases the store's resources.
	Close() error
}

// Searcher is implemented by stores that can scan their contents.
// The query router uses it for predicate search across tiers.
type Searcher interface {
	Search(ctx context.Context, pred Predicate, limit int) ([]types.Record, error)
}

// Predicate filters records during a search. Zero-valued fields match
// everything.
type Predicate struct {
	Service  string
	Level    string
	SinceMs  int64 // inclusive lower bound on created_at
	UntilMs  int64 // exclusive upper bound on created_at
	Contains string
}

// Matches reports whether a record satisfies the predicate.
func (p Predicate) Matches(rec types.Record) bool {
	if p.Service != "" && rec.Service != p.Service {
		return false
	}
	if p.Level != "" && rec.Level != p.Level {
		return false
	}
	if p.SinceMs > 0 && rec.CreatedAtMs < p.SinceMs {
		return false
	}
	if p.UntilMs > 0 && rec.CreatedAtMs >= p.UntilMs {
		return false
	}
	if p.Contains != "" && !strings.Contains(rec.Message, p.Contains) {
		return false
	}
	return true
}

// Open builds the store for a tier definition.
func Open(def config.TierDefinition, archive config.ArchiveConfig) (Store, error) {
	switch def.Adapter {
	case config.AdapterFastDisk:
		return OpenDisk(def.Path, DiskOptions{SyncOnWrite: false})
	case config.AdapterDisk:
		return OpenDisk(def.Path, DiskOptions{SyncOnWrite: true})
	case config.AdapterArchive:
		return OpenArchive(def.Path, archive)
	default:
		return nil, errors.NewValidation("adapter", "unknown adapter kind: "+def.Adapter)
	}
}
