package catalog

import (
	"fmt"
	"testing"
	"time"

	"github.com/xtxerr/logtier/internal/errors"
	logtest "github.com/xtxerr/logtier/internal/testing"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	c, err := Open(t.TempDir(), types.AllTiers())
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testEntry(id string, tier types.Tier) types.CatalogEntry {
	return types.CatalogEntry{
		RecordID:    id,
		Tier:        tier,
		Location:    "/data/" + tier.String() + "/" + id,
		SizeBytes:   128,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

func TestCatalog_PutGet(t *testing.T) {
	c := openTestCatalog(t)

	want := testEntry("rec-1", types.TierHot)
	if err := c.Put(want); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get("rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Tier != types.TierHot || got.Location != want.Location || got.SizeBytes != 128 {
		t.Errorf("entry mismatch: got %+v", got)
	}
}

func TestCatalog_GetMissing(t *testing.T) {
	c := openTestCatalog(t)

	_, err := c.Get("nope")
	if !errors.Is(err, errors.ErrEntryNotFound) {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
}

func TestCatalog_PutRejectsUnknownTier(t *testing.T) {
	// Catalog configured with a subset of tiers.
	c, err := Open(t.TempDir(), []types.Tier{types.TierHot, types.TierWarm})
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer c.Close()

	err = c.Put(testEntry("rec-1", types.TierArchive))
	if !errors.Is(err, errors.ErrUnknownTier) {
		t.Fatalf("err = %v, want ErrUnknownTier", err)
	}

	// Nothing was written.
	if _, err := c.Get("rec-1"); !errors.Is(err, errors.ErrEntryNotFound) {
		t.Fatalf("entry exists after rejected put")
	}
}

func TestCatalog_PutRejectsEmptyID(t *testing.T) {
	c := openTestCatalog(t)

	if err := c.Put(testEntry("", types.TierHot)); !errors.Is(err, errors.ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestCatalog_Delete(t *testing.T) {
	c := openTestCatalog(t)

	if err := c.Put(testEntry("rec-1", types.TierHot)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Delete("rec-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get("rec-1"); !errors.Is(err, errors.ErrEntryNotFound) {
		t.Fatal("entry still present after delete")
	}

	// Deleting again is not an error.
	if err := c.Delete("rec-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestCatalog_Touch(t *testing.T) {
	c := openTestCatalog(t)
	now := time.Now()

	if err := c.Put(testEntry("rec-1", types.TierWarm)); err != nil {
		t.Fatalf("put: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Touch("rec-1", time.Hour, now); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}

	entry, err := c.Get("rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.AccessCount != 3 {
		t.Errorf("access count = %d, want 3", entry.AccessCount)
	}
	if entry.WindowCount != 3 {
		t.Errorf("window count = %d, want 3", entry.WindowCount)
	}
}

func TestCatalog_TouchResetsElapsedWindow(t *testing.T) {
	c := openTestCatalog(t)
	now := time.Now()

	if err := c.Put(testEntry("rec-1", types.TierWarm)); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := c.Touch("rec-1", time.Hour, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// Two hours later, the one-hour window has elapsed: count restarts.
	entry, err := c.Touch("rec-1", time.Hour, now)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if entry.WindowCount != 1 {
		t.Errorf("window count = %d, want 1 after window reset", entry.WindowCount)
	}
	if entry.AccessCount != 2 {
		t.Errorf("access count = %d, want 2 (total never resets)", entry.AccessCount)
	}
}

func TestCatalog_TouchMissing(t *testing.T) {
	c := openTestCatalog(t)

	if _, err := c.Touch("nope", time.Hour, time.Now()); !errors.Is(err, errors.ErrEntryNotFound) {
		t.Fatalf("err = %v, want ErrEntryNotFound", err)
	}
}

func TestCatalog_ListByTierPagination(t *testing.T) {
	c := openTestCatalog(t)

	// 25 warm records plus noise in other tiers.
	for i := 0; i < 25; i++ {
		if err := c.Put(testEntry(fmt.Sprintf("warm-%03d", i), types.TierWarm)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if err := c.Put(testEntry(fmt.Sprintf("hot-%03d", i), types.TierHot)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		ids, next, err := c.ListByTier(types.TierWarm, cursor, 10)
		if err != nil {
			t.Fatalf("list page %d: %v", pages, err)
		}
		pages++
		for _, id := range ids {
			if seen[id] {
				t.Errorf("id %s returned twice", id)
			}
			seen[id] = true
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if len(seen) != 25 {
		t.Errorf("enumerated %d records, want 25", len(seen))
	}
	if pages < 3 {
		t.Errorf("pages = %d, want at least 3 for 25 records at page size 10", pages)
	}
	for id := range seen {
		if id[:4] != "warm" {
			t.Errorf("foreign record %s in warm listing", id)
		}
	}
}

func TestCatalog_ListByTierEmpty(t *testing.T) {
	c := openTestCatalog(t)

	ids, next, err := c.ListByTier(types.TierCold, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 || next != "" {
		t.Errorf("got %d ids, cursor %q; want empty", len(ids), next)
	}
}

func TestCatalog_UsageByTier(t *testing.T) {
	c := openTestCatalog(t)

	for i := 0; i < 4; i++ {
		e := testEntry(fmt.Sprintf("h-%d", i), types.TierHot)
		e.SizeBytes = 100
		if err := c.Put(e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	e := testEntry("c-0", types.TierCold)
	e.SizeBytes = 999
	if err := c.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}

	usage, err := c.UsageByTier()
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage[types.TierHot].Records != 4 || usage[types.TierHot].Bytes != 400 {
		t.Errorf("hot usage = %+v, want 4 records / 400 bytes", usage[types.TierHot])
	}
	if usage[types.TierCold].Records != 1 || usage[types.TierCold].Bytes != 999 {
		t.Errorf("cold usage = %+v", usage[types.TierCold])
	}
}

func TestCatalog_ConcurrentTouch(t *testing.T) {
	c := openTestCatalog(t)

	if err := c.Put(testEntry("rec-1", types.TierHot)); err != nil {
		t.Fatalf("put: %v", err)
	}

	h := logtest.NewTestHelper(t)

	const goroutines = 8
	const touches = 25
	for g := 0; g < goroutines; g++ {
		h.Add(1)
		go func() {
			defer h.Done()
			for i := 0; i < touches; i++ {
				if _, err := c.Touch("rec-1", time.Hour, time.Now()); err != nil {
					h.Errorf("touch: %v", err)
					return
				}
			}
		}()
	}
	h.Wait()

	entry, err := c.Get("rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.AccessCount != goroutines*touches {
		t.Errorf("access count = %d, want %d", entry.AccessCount, goroutines*touches)
	}
}
