package types

import "time"

// Record is a single log record flowing through the tiering system.
//
// The structured fields (Service, Level, Message) are what search predicates
// match against; Payload carries the raw source line unmodified. A record's
// bytes live in exactly one tier store at a time; which one is tracked by
// the catalog, not by the record itself.
type Record struct {
	// ID uniquely identifies the record across all tiers.
	ID string

	// Structured fields
	Service string
	Level   string
	Message string

	// Payload is the raw log line as received.
	Payload []byte

	// CreatedAtMs is the ingestion timestamp in Unix milliseconds.
	CreatedAtMs int64
}

// CreatedAt returns the creation timestamp as a time.Time.
func (r *Record) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMs)
}

// SizeBytes returns the approximate stored size of the record.
func (r *Record) SizeBytes() int64 {
	return int64(len(r.ID) + len(r.Service) + len(r.Level) + len(r.Message) + len(r.Payload) + 8)
}

// RecordBatch represents a collection of records for batch ingestion.
type RecordBatch struct {
	Records []Record
}

// NewRecordBatch creates a new batch with the given capacity.
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{
		Records: make([]Record, 0, capacity),
	}
}

// Add appends a record to the batch.
func (b *RecordBatch) Add(r Record) {
	b.Records = append(b.Records, r)
}

// Len returns the number of records in the batch.
func (b *RecordBatch) Len() int {
	return len(b.Records)
}

// Clear resets the batch for reuse.
func (b *RecordBatch) Clear() {
	b.Records = b.Records[:0]
}
