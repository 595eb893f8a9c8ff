package types

import (
	"fmt"
)

// Tier represents a storage tier class. Tiers are totally ordered by rank:
// lower rank means warmer (faster, more expensive) media.
type Tier int

const (
	// TierHot holds freshly ingested records on fast media.
	TierHot Tier = iota

	// TierWarm holds recent records on standard media.
	TierWarm

	// TierCold holds aging records on slow media.
	TierCold

	// TierArchive holds records pending retention expiry on archival media.
	TierArchive
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierArchive:
		return "archive"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Rank returns the tier's position in the hot-to-archive ordering.
func (t Tier) Rank() int {
	return int(t)
}

// Colder returns the next colder tier.
// Returns the same tier if it's already the coldest.
func (t Tier) Colder() Tier {
	if t >= TierArchive {
		return TierArchive
	}
	return t + 1
}

// Warmer returns the next warmer tier.
// Returns the same tier if it's already the warmest.
func (t Tier) Warmer() Tier {
	if t <= TierHot {
		return TierHot
	}
	return t - 1
}

// IsColdest returns true if this is the coldest tier.
func (t Tier) IsColdest() bool {
	return t == TierArchive
}

// IsWarmest returns true if this is the warmest tier.
func (t Tier) IsWarmest() bool {
	return t == TierHot
}

// Valid returns true if the tier is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierHot && t <= TierArchive
}

// ParseTier parses a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "hot":
		return TierHot, nil
	case "warm":
		return TierWarm, nil
	case "cold":
		return TierCold, nil
	case "archive":
		return TierArchive, nil
	default:
		return TierHot, fmt.Errorf("unknown tier: %s", s)
	}
}

// AllTiers returns all tiers in rank order (hot first).
func AllTiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold, TierArchive}
}
