package policy

import (
	"testing"
	"time"

	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

func day(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// entryAged builds an entry created `age` ago that has lived in its tier
// the whole time.
func entryAged(tier types.Tier, age time.Duration, now time.Time) types.CatalogEntry {
	return types.CatalogEntry{
		RecordID:    "rec-1",
		Tier:        tier,
		CreatedAtMs: now.Add(-age).UnixMilli(),
	}
}

func TestEvaluate_Demotion(t *testing.T) {
	cfg := config.DefaultConfig()
	p := New(cfg)
	now := time.Now()

	tests := []struct {
		name   string
		entry  types.CatalogEntry
		action Action
		target types.Tier
	}{
		{
			name:   "fresh hot record stays",
			entry:  entryAged(types.TierHot, day(2), now),
			action: Stay,
		},
		{
			name:   "hot record past age threshold demotes to warm",
			entry:  entryAged(types.TierHot, day(8), now),
			action: Demote,
			target: types.TierWarm,
		},
		{
			name:   "warm record past threshold demotes to cold",
			entry:  entryAged(types.TierWarm, day(31), now),
			action: Demote,
			target: types.TierCold,
		},
		{
			name:   "cold record past threshold demotes to archive",
			entry:  entryAged(types.TierCold, day(91), now),
			action: Demote,
			target: types.TierArchive,
		},
		{
			name:   "archive record inside retention stays",
			entry:  entryAged(types.TierArchive, day(200), now),
			action: Stay,
		},
		{
			name:   "archive record past retention expires",
			entry:  entryAged(types.TierArchive, day(400), now),
			action: Expire,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(tt.entry, now)
			if d.Action != tt.action {
				t.Fatalf("action = %s, want %s (reason: %s)", d.Action, tt.action, d.Reason)
			}
			if tt.action == Demote && d.Target != tt.target {
				t.Errorf("target = %s, want %s", d.Target, tt.target)
			}
		})
	}
}

func TestEvaluate_MinResidencyBlocksDemotion(t *testing.T) {
	cfg := config.DefaultConfig()
	p := New(cfg)
	now := time.Now()

	// Old enough to demote out of warm, but it arrived in warm an hour
	// ago and warm requires two days of residency.
	entry := entryAged(types.TierWarm, day(40), now)
	entry.LastMigratedAtMs = now.Add(-time.Hour).UnixMilli()

	d := p.Evaluate(entry, now)
	if d.Action != Stay {
		t.Fatalf("action = %s, want stay while residency unmet", d.Action)
	}

	// Residency elapsed: demotion proceeds.
	entry.LastMigratedAtMs = now.Add(-day(3)).UnixMilli()
	d = p.Evaluate(entry, now)
	if d.Action != Demote || d.Target != types.TierCold {
		t.Fatalf("got %s/%s, want demote/cold", d.Action, d.Target)
	}
}

func TestEvaluate_ReheatOutranksDemotion(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reheat.Threshold = 50
	cfg.Reheat.Window = time.Hour
	p := New(cfg)
	now := time.Now()

	// Eight days old: past the hot tier's age threshold. But 50 accesses
	// landed within the last hour, so the record is in active use.
	entry := entryAged(types.TierHot, day(8), now)
	entry.WindowStartMs = now.Add(-30 * time.Minute).UnixMilli()
	entry.WindowCount = 50

	d := p.Evaluate(entry, now)
	if d.Action != Stay {
		t.Fatalf("action = %s, want stay: reheat takes precedence on the warmest tier", d.Action)
	}
}

func TestEvaluate_ReheatPromotesOneTier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reheat.Threshold = 10
	cfg.Reheat.Window = time.Hour
	p := New(cfg)
	now := time.Now()

	entry := entryAged(types.TierCold, day(45), now)
	entry.WindowStartMs = now.Add(-10 * time.Minute).UnixMilli()
	entry.WindowCount = 12

	d := p.Evaluate(entry, now)
	if d.Action != Promote {
		t.Fatalf("action = %s, want promote", d.Action)
	}
	if d.Target != types.TierWarm {
		t.Errorf("target = %s, want warm (one tier up, not straight to hot)", d.Target)
	}
}

func TestEvaluate_ReheatIgnoresElapsedWindow(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reheat.Threshold = 10
	cfg.Reheat.Window = time.Hour
	p := New(cfg)
	now := time.Now()

	// Plenty of accesses, but they all happened yesterday.
	entry := entryAged(types.TierWarm, day(10), now)
	entry.WindowStartMs = now.Add(-day(1)).UnixMilli()
	entry.WindowCount = 100

	d := p.Evaluate(entry, now)
	if d.Action == Promote {
		t.Fatal("promoted on stale window accesses")
	}
}

func TestEvaluate_ReheatDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reheat.Enabled = false
	p := New(cfg)
	now := time.Now()

	entry := entryAged(types.TierCold, day(45), now)
	entry.WindowStartMs = now.Add(-time.Minute).UnixMilli()
	entry.WindowCount = 1000

	if d := p.Evaluate(entry, now); d.Action == Promote {
		t.Fatal("promoted with reheat disabled")
	}
}

func TestEvaluate_ArchiveRetentionRespectsResidency(t *testing.T) {
	cfg := config.DefaultConfig()
	p := New(cfg)
	now := time.Now()

	// Past total retention but only just arrived in archive: the
	// archive residency window still protects it.
	entry := entryAged(types.TierArchive, day(400), now)
	entry.LastMigratedAtMs = now.Add(-day(1)).UnixMilli()

	if d := p.Evaluate(entry, now); d.Action != Stay {
		t.Fatalf("action = %s, want stay", d.Action)
	}
}

func TestEvaluate_UnconfiguredTier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tiers = cfg.Tiers[:1] // hot only
	p := New(cfg)

	entry := entryAged(types.TierCold, day(100), time.Now())
	if d := p.Evaluate(entry, time.Now()); d.Action != Stay {
		t.Fatalf("action = %s, want stay for unconfigured tier", d.Action)
	}
}
