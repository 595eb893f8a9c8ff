package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

func testRecord(id string) types.Record {
	return types.Record{
		ID:          id,
		Service:     "checkout",
		Level:       "error",
		Message:     "payment declined",
		Payload:     []byte(`{"order":"A-42","amount":19.90}`),
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

func TestDiskStore_WriteReadRoundtrip(t *testing.T) {
	for _, sync := range []bool{false, true} {
		name := "nosync"
		if sync {
			name = "sync"
		}
		t.Run(name, func(t *testing.T) {
			s, err := OpenDisk(t.TempDir(), DiskOptions{SyncOnWrite: sync})
			if err != nil {
				t.Fatalf("open: %v", err)
			}

			want := testRecord("rec-1")
			location, err := s.Write(context.Background(), want)
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			if location == "" {
				t.Error("empty location")
			}

			got, err := s.Read(context.Background(), "rec-1")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if got.ID != want.ID || got.Service != want.Service || got.Level != want.Level ||
				got.Message != want.Message || string(got.Payload) != string(want.Payload) ||
				got.CreatedAtMs != want.CreatedAtMs {
				t.Errorf("record mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestDiskStore_ReadMissing(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = s.Read(context.Background(), "nope")
	if !errors.Is(err, errors.ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestDiskStore_DeleteIdempotent(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Write(ctx, testRecord("rec-1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := s.Delete(ctx, "rec-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "rec-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	ok, err := s.Exists(ctx, "rec-1")
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Error("record still exists after delete")
	}
}

func TestDiskStore_Exists(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	if ok, _ := s.Exists(ctx, "rec-1"); ok {
		t.Error("exists before write")
	}
	if _, err := s.Write(ctx, testRecord("rec-1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok, _ := s.Exists(ctx, "rec-1"); !ok {
		t.Error("missing after write")
	}
}

func TestDiskStore_UnavailableAfterDirRemoved(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir, DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Read(ctx, "rec-1"); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("read err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Write(ctx, testRecord("rec-1")); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("write err = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Exists(ctx, "rec-1"); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("exists err = %v, want ErrStoreUnavailable", err)
	}
}

func TestDiskStore_CorruptFile(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Write(ctx, testRecord("rec-1")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Flip a payload byte; the CRC must catch it.
	path := s.path("rec-1")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	if _, err := s.Read(ctx, "rec-1"); !errors.Is(err, errors.ErrCorruptRecord) {
		t.Fatalf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestDiskStore_Search(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	base := time.Now().UnixMilli()
	records := []types.Record{
		{ID: "a", Service: "checkout", Level: "error", Message: "payment declined", CreatedAtMs: base},
		{ID: "b", Service: "checkout", Level: "info", Message: "payment ok", CreatedAtMs: base + 1},
		{ID: "c", Service: "auth", Level: "error", Message: "token expired", CreatedAtMs: base + 2},
	}
	for _, rec := range records {
		if _, err := s.Write(ctx, rec); err != nil {
			t.Fatalf("write %s: %v", rec.ID, err)
		}
	}

	tests := []struct {
		name string
		pred Predicate
		want int
	}{
		{"by service", Predicate{Service: "checkout"}, 2},
		{"by level", Predicate{Level: "error"}, 2},
		{"service and level", Predicate{Service: "checkout", Level: "error"}, 1},
		{"by message substring", Predicate{Contains: "payment"}, 2},
		{"by time bound", Predicate{SinceMs: base + 2}, 1},
		{"no match", Predicate{Service: "billing"}, 0},
		{"match all", Predicate{}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.pred, 0)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDiskStore_SearchLimit(t *testing.T) {
	s, err := OpenDisk(t.TempDir(), DiskOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		rec := testRecord(string(rune('a' + i)))
		if _, err := s.Write(ctx, rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	got, err := s.Search(ctx, Predicate{}, 4)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d records, want 4 (limit)", len(got))
	}
}
