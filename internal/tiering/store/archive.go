package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/logging"
	"github.com/xtxerr/logtier/internal/tiering/config"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

var archiveLog = logging.Component("store.archive")

// tombstoneFile is the archive's deletion journal, replayed at open.
const tombstoneFile = "tombstones.log"

// memtableWAL holds frames for records not yet flushed to a segment, so
// an archive write is durable before its segment exists.
const memtableWAL = "memtable.wal"

// recordRow is a record in parquet segment format.
type recordRow struct {
	ID          string `parquet:"id,zstd"`
	Service     string `parquet:"service,zstd"`
	Level       string `parquet:"level,zstd"`
	Message     string `parquet:"message,zstd"`
	Payload     []byte `parquet:"payload,zstd"`
	CreatedAtMs int64  `parquet:"created_at_ms"`
}

func recordToRow(rec types.Record) recordRow {
	return recordRow{
		ID:          rec.ID,
		Service:     rec.Service,
		Level:       rec.Level,
		Message:     rec.Message,
		Payload:     rec.Payload,
		CreatedAtMs: rec.CreatedAtMs,
	}
}

func rowToRecord(r recordRow) types.Record {
	return types.Record{
		ID:          r.ID,
		Service:     r.Service,
		Level:       r.Level,
		Message:     r.Message,
		Payload:     r.Payload,
		CreatedAtMs: r.CreatedAtMs,
	}
}

// ArchiveStore stores records in immutable parquet segments.
//
// Writes land in a memtable and are flushed to a new segment once the
// memtable reaches the configured row count, so a freshly migrated record
// is readable before any segment exists. Deletes against flushed segments
// are tombstones in a journal; Compact rewrites segments to reclaim the
// space. Predicate search runs through DuckDB over the segment files and
// is merged with the memtable.
type ArchiveStore struct {
	dir string
	cfg config.ArchiveConfig

	mu         sync.RWMutex
	memtable   map[string]types.Record
	index      map[string]string   // record id -> segment path
	tombstones map[string]struct{} // flushed ids deleted since last compaction
	journal    *os.File
	wal        *os.File
	segSeq     int64
	closed     bool

	db *sql.DB
}

// OpenArchive opens (or creates) an archive store rooted at dir.
// Existing segments are indexed and the tombstone journal replayed, so
// the store resumes exactly where it left off.
func OpenArchive(dir string, cfg config.ArchiveConfig) (*ArchiveStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, errors.ErrStoreUnavailable)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", cfg.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set duckdb memory limit: %w", err)
		}
	}

	s := &ArchiveStore{
		dir:        dir,
		cfg:        cfg,
		memtable:   make(map[string]types.Record),
		index:      make(map[string]string),
		tombstones: make(map[string]struct{}),
		db:         db,
	}

	if err := s.loadSegments(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.replayJournal(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.replayWAL(); err != nil {
		db.Close()
		return nil, err
	}

	journal, err := os.OpenFile(filepath.Join(dir, tombstoneFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open tombstone journal: %w", err)
	}
	s.journal = journal

	wal, err := os.OpenFile(filepath.Join(dir, memtableWAL), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		journal.Close()
		db.Close()
		return nil, fmt.Errorf("open memtable wal: %w", err)
	}
	s.wal = wal

	archiveLog.Debug("archive opened",
		"dir", dir,
		"indexed", len(s.index),
		"tombstones", len(s.tombstones))

	return s, nil
}

// loadSegments rebuilds the id -> segment index from the parquet files.
func (s *ArchiveStore) loadSegments() error {
	paths, err := s.segmentPaths()
	if err != nil {
		return err
	}

	for _, path := range paths {
		rows, err := readSegment(path)
		if err != nil {
			return fmt.Errorf("index segment %s: %w", path, err)
		}
		for i := range rows {
			s.index[rows[i].ID] = path
		}

		// Track the highest segment sequence so new segments sort after.
		var seq int64
		if _, err := fmt.Sscanf(filepath.Base(path), "segment-%d", &seq); err == nil && seq >= s.segSeq {
			s.segSeq = seq + 1
		}
	}

	return nil
}

// replayJournal applies the tombstone journal to the index.
// Lines are "- <id>" for deletions and "+ <id>" for records written
// again after a deletion.
func (s *ArchiveStore) replayJournal() error {
	f, err := os.Open(filepath.Join(s.dir, tombstoneFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open tombstone journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		op, id := line[0], line[2:]
		switch op {
		case '-':
			s.tombstones[id] = struct{}{}
		case '+':
			delete(s.tombstones, id)
		}
	}
	return scanner.Err()
}

// replayWAL loads unflushed records back into the memtable.
// A torn frame at the tail means a crash mid-append; everything before
// it is intact, so the tail is dropped.
func (s *ArchiveStore) replayWAL() error {
	data, err := os.ReadFile(filepath.Join(s.dir, memtableWAL))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read memtable wal: %w", err)
	}

	for len(data) >= frameHeaderSize {
		length := binary.LittleEndian.Uint32(data[0:4])
		crc := binary.LittleEndian.Uint32(data[4:8])
		if uint32(len(data)-frameHeaderSize) < length {
			archiveLog.Warn("memtable wal has torn tail frame, dropping")
			break
		}
		payload := data[frameHeaderSize : frameHeaderSize+int(length)]
		if crc32.ChecksumIEEE(payload) != crc {
			archiveLog.Warn("memtable wal crc mismatch, dropping tail")
			break
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			archiveLog.Warn("memtable wal undecodable frame, dropping tail", "error", err)
			break
		}
		s.memtable[rec.ID] = rec
		data = data[frameHeaderSize+int(length):]
	}

	return nil
}

// walAppend makes a memtable write durable. Caller holds mu.
func (s *ArchiveStore) walAppend(rec types.Record) error {
	payload, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, frameHeaderSize+len(payload))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(payload)))
	frame = binary.LittleEndian.AppendUint32(frame, crc32.ChecksumIEEE(payload))
	frame = append(frame, payload...)

	if _, err := s.wal.Write(frame); err != nil {
		return fmt.Errorf("append memtable wal: %w", errors.ErrStoreUnavailable)
	}
	if err := s.wal.Sync(); err != nil {
		return fmt.Errorf("sync memtable wal: %w", errors.ErrStoreUnavailable)
	}
	return nil
}

// rewriteWALLocked rebuilds the wal from the current memtable.
// Caller holds mu.
func (s *ArchiveStore) rewriteWALLocked() error {
	if err := s.wal.Truncate(0); err != nil {
		return fmt.Errorf("truncate memtable wal: %w", err)
	}
	for _, rec := range s.memtable {
		if err := s.walAppend(rec); err != nil {
			return err
		}
	}
	return nil
}

// segmentPaths lists the segment files in name order.
func (s *ArchiveStore) segmentPaths() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "segment-*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// readSegment reads every row of a segment file.
func readSegment(path string) ([]recordRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, err
	}

	reader := parquet.NewGenericReader[recordRow](pf)
	defer reader.Close()

	rows := make([]recordRow, 0, reader.NumRows())
	buf := make([]recordRow, 256)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			break
		}
	}
	return rows, nil
}

// journalAppend writes one journal line and syncs it.
func (s *ArchiveStore) journalAppend(op byte, id string) error {
	if _, err := fmt.Fprintf(s.journal, "%c %s\n", op, id); err != nil {
		return fmt.Errorf("append tombstone journal: %w", errors.ErrStoreUnavailable)
	}
	if err := s.journal.Sync(); err != nil {
		return fmt.Errorf("sync tombstone journal: %w", errors.ErrStoreUnavailable)
	}
	return nil
}

// Write implements Store.
func (s *ArchiveStore) Write(ctx context.Context, rec types.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", errors.ErrStoreClosed
	}

	if _, dead := s.tombstones[rec.ID]; dead {
		if err := s.journalAppend('+', rec.ID); err != nil {
			return "", err
		}
		delete(s.tombstones, rec.ID)
	}

	if err := s.walAppend(rec); err != nil {
		return "", err
	}
	s.memtable[rec.ID] = rec

	if len(s.memtable) >= s.cfg.FlushRows {
		if err := s.flushLocked(); err != nil {
			return "", err
		}
	}

	return filepath.Join(s.dir, rec.ID), nil
}

// flushLocked writes the memtable out as a new segment. Caller holds mu.
func (s *ArchiveStore) flushLocked() error {
	if len(s.memtable) == 0 {
		return nil
	}

	rows := make([]recordRow, 0, len(s.memtable))
	for _, rec := range s.memtable {
		rows = append(rows, recordToRow(rec))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	name := fmt.Sprintf("segment-%06d-%d.parquet", s.segSeq, time.Now().UnixMilli())
	path := filepath.Join(s.dir, name)

	if err := writeSegment(path, rows); err != nil {
		return err
	}

	for i := range rows {
		s.index[rows[i].ID] = path
	}
	s.memtable = make(map[string]types.Record)
	s.segSeq++

	// Flushed rows are durable in the segment; the wal restarts empty.
	if err := s.wal.Truncate(0); err != nil {
		return fmt.Errorf("truncate memtable wal: %w", err)
	}

	archiveLog.Debug("segment flushed", "path", path, "rows", len(rows))
	return nil
}

// writeSegment writes rows to a new parquet file via temp + rename.
func writeSegment(path string, rows []recordRow) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create segment: %w", errors.ErrStoreUnavailable)
	}

	writer := parquet.NewGenericWriter[recordRow](f, parquet.Compression(&parquet.Zstd))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write segment rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close segment writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync segment: %w", errors.ErrStoreUnavailable)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close segment: %w", errors.ErrStoreUnavailable)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish segment: %w", errors.ErrStoreUnavailable)
	}
	return nil
}

// Flush forces the memtable into a segment regardless of size.
func (s *ArchiveStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	return s.flushLocked()
}

// Read implements Store.
func (s *ArchiveStore) Read(ctx context.Context, id string) (types.Record, error) {
	if err := ctx.Err(); err != nil {
		return types.Record{}, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return types.Record{}, errors.ErrStoreClosed
	}
	if rec, ok := s.memtable[id]; ok {
		s.mu.RUnlock()
		return rec, nil
	}
	if _, dead := s.tombstones[id]; dead {
		s.mu.RUnlock()
		return types.Record{}, fmt.Errorf("record '%s': %w", id, errors.ErrRecordNotFound)
	}
	segment, ok := s.index[id]
	s.mu.RUnlock()

	if !ok {
		return types.Record{}, fmt.Errorf("record '%s': %w", id, errors.ErrRecordNotFound)
	}

	return s.readFromSegment(ctx, segment, id)
}

// readFromSegment point-reads one record out of a segment via DuckDB.
func (s *ArchiveStore) readFromSegment(ctx context.Context, segment, id string) (types.Record, error) {
	query := `
		SELECT id, service, level, message, payload, created_at_ms
		FROM read_parquet($1)
		WHERE id = $2
	`

	var row recordRow
	err := s.db.QueryRowContext(ctx, query, segment, id).Scan(
		&row.ID, &row.Service, &row.Level, &row.Message, &row.Payload, &row.CreatedAtMs,
	)
	if err == sql.ErrNoRows {
		return types.Record{}, fmt.Errorf("record '%s': %w", id, errors.ErrRecordNotFound)
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("read segment %s: %w", segment, errors.ErrStoreUnavailable)
	}

	return rowToRecord(row), nil
}

// Delete implements Store. Flushed records get a tombstone; the bytes
// stay in their segment until the next compaction.
func (s *ArchiveStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}

	if _, ok := s.memtable[id]; ok {
		delete(s.memtable, id)
		// Rewrite the wal so a restart does not resurrect the record.
		return s.rewriteWALLocked()
	}
	if _, ok := s.index[id]; !ok {
		return nil
	}
	if _, dead := s.tombstones[id]; dead {
		return nil
	}

	if err := s.journalAppend('-', id); err != nil {
		return err
	}
	s.tombstones[id] = struct{}{}
	return nil
}

// Exists implements Store.
func (s *ArchiveStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, errors.ErrStoreClosed
	}
	if _, ok := s.memtable[id]; ok {
		return true, nil
	}
	if _, dead := s.tombstones[id]; dead {
		return false, nil
	}
	_, ok := s.index[id]
	return ok, nil
}

// Search implements Searcher: a DuckDB scan over all segments, merged
// with matching memtable records, tombstones filtered out.
func (s *ArchiveStore) Search(ctx context.Context, pred Predicate, limit int) ([]types.Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, errors.ErrStoreClosed
	}

	var results []types.Record
	for _, rec := range s.memtable {
		if pred.Matches(rec) {
			results = append(results, rec)
		}
	}
	tombstoned := make(map[string]struct{}, len(s.tombstones))
	for id := range s.tombstones {
		tombstoned[id] = struct{}{}
	}
	memtableIDs := make(map[string]struct{}, len(s.memtable))
	for id := range s.memtable {
		memtableIDs[id] = struct{}{}
	}
	hasSegments := len(s.index) > 0
	s.mu.RUnlock()

	if hasSegments {
		segResults, err := s.searchSegments(ctx, pred)
		if err != nil {
			return nil, err
		}
		for _, rec := range segResults {
			if _, dead := tombstoned[rec.ID]; dead {
				continue
			}
			// The memtable copy is newer.
			if _, shadowed := memtableIDs[rec.ID]; shadowed {
				continue
			}
			results = append(results, rec)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAtMs < results[j].CreatedAtMs
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// searchSegments runs the predicate as SQL over every segment file.
func (s *ArchiveStore) searchSegments(ctx context.Context, pred Predicate) ([]types.Record, error) {
	pattern := filepath.Join(s.dir, "segment-*.parquet")

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, service, level, message, payload, created_at_ms
		FROM read_parquet($1)
		WHERE 1=1
	`)
	args := []any{pattern}

	if pred.Service != "" {
		args = append(args, pred.Service)
		fmt.Fprintf(&sb, " AND service = $%d", len(args))
	}
	if pred.Level != "" {
		args = append(args, pred.Level)
		fmt.Fprintf(&sb, " AND level = $%d", len(args))
	}
	if pred.SinceMs > 0 {
		args = append(args, pred.SinceMs)
		fmt.Fprintf(&sb, " AND created_at_ms >= $%d", len(args))
	}
	if pred.UntilMs > 0 {
		args = append(args, pred.UntilMs)
		fmt.Fprintf(&sb, " AND created_at_ms < $%d", len(args))
	}
	if pred.Contains != "" {
		args = append(args, "%"+pred.Contains+"%")
		fmt.Fprintf(&sb, " AND message LIKE $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at_ms")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search segments: %w", errors.ErrStoreUnavailable)
	}
	defer rows.Close()

	var results []types.Record
	for rows.Next() {
		var row recordRow
		if err := rows.Scan(&row.ID, &row.Service, &row.Level, &row.Message, &row.Payload, &row.CreatedAtMs); err != nil {
			return nil, fmt.Errorf("scan segment row: %w", err)
		}
		results = append(results, rowToRecord(row))
	}
	return results, rows.Err()
}

// Compact rewrites all segments into one, dropping tombstoned rows, and
// truncates the tombstone journal. Invoked administratively through the
// service, not on a schedule.
func (s *ArchiveStore) Compact(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStoreClosed
	}

	paths, err := s.segmentPaths()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	var live []recordRow
	for _, path := range paths {
		rows, err := readSegment(path)
		if err != nil {
			return fmt.Errorf("compact: read segment %s: %w", path, err)
		}
		for i := range rows {
			if _, dead := s.tombstones[rows[i].ID]; dead {
				continue
			}
			if _, shadowed := s.memtable[rows[i].ID]; shadowed {
				continue
			}
			live = append(live, rows[i])
		}
	}

	// Later segments shadow earlier ones for the same id.
	seen := make(map[string]int, len(live))
	deduped := live[:0]
	for i := range live {
		if at, ok := seen[live[i].ID]; ok {
			deduped[at] = live[i]
			continue
		}
		seen[live[i].ID] = len(deduped)
		deduped = append(deduped, live[i])
	}
	live = deduped
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	newIndex := make(map[string]string)
	if len(live) > 0 {
		name := fmt.Sprintf("segment-%06d-%d.parquet", s.segSeq, time.Now().UnixMilli())
		path := filepath.Join(s.dir, name)
		if err := writeSegment(path, live); err != nil {
			return err
		}
		s.segSeq++
		for i := range live {
			newIndex[live[i].ID] = path
		}
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			archiveLog.Warn("compact: remove old segment", "path", path, "error", err)
		}
	}

	s.index = newIndex
	s.tombstones = make(map[string]struct{})
	if err := s.journal.Truncate(0); err != nil {
		return fmt.Errorf("truncate tombstone journal: %w", err)
	}

	archiveLog.Info("archive compacted", "segments_merged", len(paths), "live_rows", len(live))
	return nil
}

// Close flushes the memtable and releases resources.
func (s *ArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if err := s.flushLocked(); err != nil {
		archiveLog.Error("flush on close", "error", err)
	}
	s.closed = true

	var firstErr error
	if err := s.wal.Close(); err != nil {
		firstErr = err
	}
	if err := s.journal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
