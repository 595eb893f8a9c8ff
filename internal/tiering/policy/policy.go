// Package policy decides where a record should live.
//
// The policy is pure: it looks at a catalog entry, the tier definitions
// and a clock, and returns a decision. It never touches stores or the
// catalog, which keeps every placement rule unit-testable with nothing
// but a struct literal and a timestamp.
package policy

import (
	"time"

	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

// Action is the outcome class of a placement decision.
type Action int

const (
	// Stay leaves the record where it is.
	Stay Action = iota
	// Demote moves the record one tier colder.
	Demote
	// Promote moves the record one tier warmer (reheat).
	Promote
	// Expire deletes the record entirely.
	Expire
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case Stay:
		return "stay"
	case Demote:
		return "demote"
	case Promote:
		return "promote"
	case Expire:
		return "expire"
	default:
		return "unknown"
	}
}

// Decision is the outcome of evaluating a single record.
type Decision struct {
	Action Action
	Target types.Tier // destination tier for Demote/Promote
	Reason string
}

// Policy evaluates catalog entries against the configured tier
// definitions and reheat settings.
type Policy struct {
	tiers  map[types.Tier]config.TierDefinition
	reheat config.ReheatConfig
}

// New builds a policy from configuration.
func New(cfg *config.Config) *Policy {
	tiers := make(map[types.Tier]config.TierDefinition, len(cfg.Tiers))
	for _, def := range cfg.Tiers {
		tier, _ := types.ParseTier(def.Name)
		tiers[tier] = def
	}
	return &Policy{
		tiers:  tiers,
		reheat: cfg.Reheat,
	}
}

// Evaluate returns the placement decision for an entry at the given time.
//
// Rules, in precedence order:
//
//  1. Reheat: if enabled and the entry's trailing-window access count has
//     reached the threshold, promote one tier warmer. Reheat outranks
//     demotion, so a record that is both old and hot stays warm-bound.
//  2. Expiry: a record past the coldest tier's retention is deleted.
//  3. Demotion: a record older than its tier's age threshold moves one
//     tier colder, but never before its minimum residency has elapsed.
//     Residency also shields freshly promoted records from bouncing
//     straight back down.
func (p *Policy) Evaluate(entry types.CatalogEntry, now time.Time) Decision {
	def, ok := p.tiers[entry.Tier]
	if !ok {
		// A tier the policy was not configured for: leave it alone,
		// the sweep reports it as skipped.
		return Decision{Action: Stay, Reason: "unconfigured tier"}
	}

	if p.reheatDue(entry, now) {
		if entry.Tier.IsWarmest() {
			return Decision{Action: Stay, Reason: "reheat: already warmest"}
		}
		return Decision{
			Action: Promote,
			Target: entry.Tier.Warmer(),
			Reason: "reheat threshold reached",
		}
	}

	age := entry.Age(now)

	if entry.Tier.IsColdest() {
		if def.Retention > 0 && age > def.Retention && p.residencyMet(entry, def, now) {
			return Decision{Action: Expire, Reason: "retention elapsed"}
		}
		return Decision{Action: Stay}
	}

	if def.AgeThreshold > 0 && age > def.AgeThreshold {
		if !p.residencyMet(entry, def, now) {
			return Decision{Action: Stay, Reason: "minimum residency"}
		}
		return Decision{
			Action: Demote,
			Target: entry.Tier.Colder(),
			Reason: "age threshold exceeded",
		}
	}

	return Decision{Action: Stay}
}

// reheatDue reports whether the entry's recent access pattern qualifies
// it for promotion.
func (p *Policy) reheatDue(entry types.CatalogEntry, now time.Time) bool {
	if !p.reheat.Enabled || p.reheat.Threshold <= 0 {
		return false
	}
	return entry.WindowAccesses(p.reheat.Window, now) >= int64(p.reheat.Threshold)
}

// residencyMet reports whether the entry has lived in its current tier
// for at least the tier's minimum residency.
func (p *Policy) residencyMet(entry types.CatalogEntry, def config.TierDefinition, now time.Time) bool {
	if def.MinResidency <= 0 {
		return true
	}
	return entry.TimeInTier(now) >= def.MinResidency
}
