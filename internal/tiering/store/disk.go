package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var diskLog = logging.Component("store.disk")

// shardFanout is the number of subdirectories records are spread over,
// keeping per-directory entry counts bounded.
const shardFanout = 64

// frameHeaderSize is [4 bytes length][4 bytes crc32] ahead of the payload.
const frameHeaderSize = 8

// DiskOptions tune a disk store.
type DiskOptions struct {
	// SyncOnWrite fsyncs each record file before Write returns.
	// The hot tier runs without it, every colder disk tier with it.
	SyncOnWrite bool
}

// DiskStore keeps one framed file per record under a sharded directory
// tree. Writes go to a temp file and are renamed into place, so a
// half-written record is never visible under its final name.
type DiskStore struct {
	dir  string
	opts DiskOptions
}

// OpenDisk opens a disk store rooted at dir, creating it if needed.
func OpenDisk(dir string, opts DiskOptions) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, errors.ErrStoreUnavailable)
	}
	return &DiskStore{dir: dir, opts: opts}, nil
}

// Close implements Store. Disk stores hold no open handles between calls.
func (s *DiskStore) Close() error {
	return nil
}

// path returns the record file path: <dir>/<shard>/<id>.rec.
func (s *DiskStore) path(id string) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	shard := fmt.Sprintf("%02x", h.Sum32()%shardFanout)
	return filepath.Join(s.dir, shard, sanitizeID(id)+".rec")
}

// sanitizeID keeps record ids filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}

// available reports whether the store's base directory is reachable.
func (s *DiskStore) available() error {
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("store dir %s: %w", s.dir, errors.ErrStoreUnavailable)
	}
	return nil
}

// Write implements Store.
func (s *DiskStore) Write(ctx context.Context, rec types.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.available(); err != nil {
		return "", err
	}

	payload, err := encodeRecord(rec)
	if err != nil {
		return "", err
	}

	frame := make([]byte, 0, frameHeaderSize+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(payload))
	frame = append(frame, payload...)

	path := s.path(rec.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create shard dir: %w", errors.ErrStoreUnavailable)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create record file: %w", errors.ErrStoreUnavailable)
	}

	if _, err := f.Write(frame); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("write record file: %w", errors.ErrStoreUnavailable)
	}
	if s.opts.SyncOnWrite {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("sync record file: %w", errors.ErrStoreUnavailable)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("close record file: %w", errors.ErrStoreUnavailable)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish record file: %w", errors.ErrStoreUnavailable)
	}

	return path, nil
}

// Read implements Store.
func (s *DiskStore) Read(ctx context.Context, id string) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return types.Record{}, err
	}

	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		if availErr := s.available(); availErr != nil {
			return types.Record{}, availErr
		}
		return types.Record{}, fmt.Errorf("record '%s': %w", id, errors.ErrRecordNotFound)
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("read record %s: %w", id, errors.ErrStoreUnavailable)
	}

	return decodeFrame(id, data)
}

// decodeFrame validates the length+CRC frame and decodes the payload.
func decodeFrame(id string, data []byte) (types.Record, error) {
	if len(data) < frameHeaderSize {
		return types.Record{}, fmt.Errorf("record '%s': truncated frame: %w", id, errors.ErrCorruptRecord)
	}
	length := binary.LittleEndian.Uint32(data[0:4])
	crc := binary.LittleEndian.Uint32(data[4:8])
	payload := data[frameHeaderSize:]

	if uint32(len(payload)) != length {
		return types.Record{}, fmt.Errorf("record '%s': frame length mismatch: %w", id, errors.ErrCorruptRecord)
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return types.Record{}, fmt.Errorf("record '%s': crc mismatch: %w", id, errors.ErrCorruptRecord)
	}

	rec, err := decodeRecord(payload)
	if err != nil {
		return types.Record{}, fmt.Errorf("record '%s': %w", id, err)
	}
	return rec, nil
}

// Delete implements Store. Deleting a record that is not there succeeds.
func (s *DiskStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.path(id))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("delete record %s: %w", id, errors.ErrStoreUnavailable)
}

// Exists implements Store.
func (s *DiskStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		if availErr := s.available(); availErr != nil {
			return false, availErr
		}
		return false, nil
	}
	return false, fmt.Errorf("stat record %s: %w", id, errors.ErrStoreUnavailable)
}

// Search implements Searcher by walking the record files. Disk tiers are
// not indexed for predicates; the walk visits shards in directory order
// and stops as soon as the limit is filled or the context is done.
func (s *DiskStore) Search(ctx context.Context, pred Predicate, limit int) ([]types.Record, error) {
	if err := s.available(); err != nil {
		return nil, err
	}

	var results []types.Record

	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".rec") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			// Concurrent migration may remove files mid-walk.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		rec, err := decodeFrame(d.Name(), data)
		if err != nil {
			diskLog.Warn("skipping corrupt record file", "path", path, "error", err)
			return nil
		}

		if pred.Matches(rec) {
			results = append(results, rec)
			if limit > 0 && len(results) >= limit {
				return filepath.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.dir, err)
	}

	return results, nil
}
