package types

import (
	"testing"
	"time"
)

func TestTierOrdering(t *testing.T) {
	tests := []struct {
		tier   Tier
		colder Tier
		warmer Tier
	}{
		{TierHot, TierWarm, TierHot},
		{TierWarm, TierCold, TierHot},
		{TierCold, TierArchive, TierWarm},
		{TierArchive, TierArchive, TierCold},
	}

	for _, tt := range tests {
		t.Run(tt.tier.String(), func(t *testing.T) {
			if got := tt.tier.Colder(); got != tt.colder {
				t.Errorf("Colder() = %s, want %s", got, tt.colder)
			}
			if got := tt.tier.Warmer(); got != tt.warmer {
				t.Errorf("Warmer() = %s, want %s", got, tt.warmer)
			}
		})
	}

	if !TierHot.IsWarmest() || TierWarm.IsWarmest() {
		t.Error("IsWarmest wrong")
	}
	if !TierArchive.IsColdest() || TierCold.IsColdest() {
		t.Error("IsColdest wrong")
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
		hasError bool
	}{
		{"hot", TierHot, false},
		{"warm", TierWarm, false},
		{"cold", TierCold, false},
		{"archive", TierArchive, false},
		{"tepid", TierHot, true},
		{"", TierHot, true},
	}

	for _, tt := range tests {
		result, err := ParseTier(tt.input)
		if tt.hasError {
			if err == nil {
				t.Errorf("ParseTier(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTier(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseTier(%q) = %s, want %s", tt.input, result, tt.expected)
		}
	}
}

func TestAllTiersRankOrder(t *testing.T) {
	all := AllTiers()
	for i := 1; i < len(all); i++ {
		if all[i].Rank() <= all[i-1].Rank() {
			t.Fatalf("AllTiers not in rank order at %d: %v", i, all)
		}
	}
}

func TestCatalogEntry_TimeInTier(t *testing.T) {
	now := time.Now()
	entry := CatalogEntry{CreatedAtMs: now.Add(-48 * time.Hour).UnixMilli()}

	// Never migrated: time in tier equals age.
	if got := entry.TimeInTier(now); got < 47*time.Hour {
		t.Errorf("TimeInTier = %v, want ~48h", got)
	}

	entry.LastMigratedAtMs = now.Add(-2 * time.Hour).UnixMilli()
	if got := entry.TimeInTier(now); got > 3*time.Hour {
		t.Errorf("TimeInTier = %v, want ~2h after migration", got)
	}
}

func TestCatalogEntry_WindowAccesses(t *testing.T) {
	now := time.Now()
	window := time.Hour

	entry := CatalogEntry{}
	if got := entry.WindowAccesses(window, now); got != 0 {
		t.Errorf("zero entry window accesses = %d", got)
	}

	entry.WindowStartMs = now.Add(-30 * time.Minute).UnixMilli()
	entry.WindowCount = 42
	if got := entry.WindowAccesses(window, now); got != 42 {
		t.Errorf("active window accesses = %d, want 42", got)
	}

	entry.WindowStartMs = now.Add(-2 * time.Hour).UnixMilli()
	if got := entry.WindowAccesses(window, now); got != 0 {
		t.Errorf("elapsed window accesses = %d, want 0", got)
	}
}

func TestJobState(t *testing.T) {
	if JobPending.Terminal() || JobInFlight.Terminal() {
		t.Error("non-terminal state reported terminal")
	}
	if !JobCommitted.Terminal() || !JobFailed.Terminal() {
		t.Error("terminal state not reported terminal")
	}
	if JobCommitted.String() != "committed" {
		t.Errorf("String() = %s", JobCommitted.String())
	}
}

func TestRecord_SizeBytes(t *testing.T) {
	rec := Record{ID: "ab", Service: "svc", Level: "info", Message: "hello", Payload: []byte{1, 2, 3}}
	want := int64(2 + 3 + 4 + 5 + 3 + 8)
	if got := rec.SizeBytes(); got != want {
		t.Errorf("SizeBytes = %d, want %d", got, want)
	}
}

func TestRecordBatch(t *testing.T) {
	b := NewRecordBatch(4)
	for i := 0; i < 3; i++ {
		b.Add(Record{ID: "r"})
	}
	if b.Len() != 3 {
		t.Errorf("len = %d, want 3", b.Len())
	}
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("len after clear = %d", b.Len())
	}
}
