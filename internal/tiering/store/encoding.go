package store

import (
	"encoding/binary"
	"fmt"

	"github.com/xtxerr/logtier/internal/errors"
	"github.com/xtxerr/logtier/internal/tiering/types"
)

// Record encoding: length-prefixed fields, little-endian.
//
//	[2B id len][id]
//	[2B service len][service]
//	[2B level len][level]
//	[4B message len][message]
//	[4B payload len][payload]
//	[8B created_at ms]
//
// The frame around this (length + CRC) is applied by the disk store.

const maxStringLen = 1<<16 - 1

// encodeRecord serializes a record into the binary record format.
func encodeRecord(rec types.Record) ([]byte, error) {
	if len(rec.ID) > maxStringLen || len(rec.Service) > maxStringLen || len(rec.Level) > maxStringLen {
		return nil, errors.NewValidation("record", "string field exceeds 64KiB")
	}

	buf := make([]byte, 0, 2+len(rec.ID)+2+len(rec.Service)+2+len(rec.Level)+4+len(rec.Message)+4+len(rec.Payload)+8)

	buf = appendString16(buf, rec.ID)
	buf = appendString16(buf, rec.Service)
	buf = appendString16(buf, rec.Level)
	buf = appendBytes32(buf, []byte(rec.Message))
	buf = appendBytes32(buf, rec.Payload)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.CreatedAtMs))

	return buf, nil
}

// decodeRecord deserializes a record from the binary record format.
func decodeRecord(data []byte) (types.Record, error) {
	var rec types.Record
	var err error

	rest := data
	if rec.ID, rest, err = readString16(rest); err != nil {
		return types.Record{}, fmt.Errorf("id: %w", err)
	}
	if rec.Service, rest, err = readString16(rest); err != nil {
		return types.Record{}, fmt.Errorf("service: %w", err)
	}
	if rec.Level, rest, err = readString16(rest); err != nil {
		return types.Record{}, fmt.Errorf("level: %w", err)
	}
	var msg []byte
	if msg, rest, err = readBytes32(rest); err != nil {
		return types.Record{}, fmt.Errorf("message: %w", err)
	}
	rec.Message = string(msg)
	if rec.Payload, rest, err = readBytes32(rest); err != nil {
		return types.Record{}, fmt.Errorf("payload: %w", err)
	}
	if len(rest) < 8 {
		return types.Record{}, fmt.Errorf("created_at: %w", errors.ErrCorruptRecord)
	}
	rec.CreatedAtMs = int64(binary.LittleEndian.Uint64(rest[:8]))

	return rec, nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func readString16(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, errors.ErrCorruptRecord
	}
	n := int(binary.LittleEndian.Uint16(data[:2]))
	data = data[2:]
	if len(data) < n {
		return "", nil, errors.ErrCorruptRecord
	}
	return string(data[:n]), data[n:], nil
}

func readBytes32(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errors.ErrCorruptRecord
	}
	n := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) < n {
		return nil, nil, errors.ErrCorruptRecord
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out, data[n:], nil
}
