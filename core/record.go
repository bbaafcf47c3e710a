package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Key identifies a single record inside a record set. The namespace is
// the store instance holding the set.
type Key struct {
	Set string
	PK  string
}

func (k Key) String() string {
	return k.Set + "/" + k.PK
}

// Record is the field mapping of one record: bin name to raw value
// bytes. The bytes are either a plain BinValue encoding or the
// expiration codec's wrapped form; the record itself does not care.
// Host-engine metadata (generation, record TTL) lives outside of it.
type Record map[string][]byte

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for name, raw := range r {
		cp := make([]byte, len(raw))
		copy(cp, raw)
		out[name] = cp
	}
	return out
}

// Encode serializes the record into a byte slice for at-rest storage.
// The format caps a record at 65535 bins and a bin name at 65535 bytes;
// exceeding either is an error, never a silent truncation.
func (r Record) Encode() ([]byte, error) {
	if len(r) > math.MaxUint16 {
		return nil, fmt.Errorf("record has %d bins, format limit is %d", len(r), math.MaxUint16)
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r))); err != nil {
		return nil, fmt.Errorf("failed to write bin count: %w", err)
	}
	for name, raw := range r {
		nameBytes := []byte(name)
		if len(nameBytes) > math.MaxUint16 {
			return nil, fmt.Errorf("bin name is %d bytes, format limit is %d", len(nameBytes), math.MaxUint16)
		}
		if uint64(len(raw)) > math.MaxUint32 {
			return nil, fmt.Errorf("bin value for '%s' is %d bytes, format limit is %d", name, len(raw), uint32(math.MaxUint32))
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(nameBytes))); err != nil {
			return nil, fmt.Errorf("failed to write bin name length for '%s': %w", name, err)
		}
		buf.Write(nameBytes)
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(raw))); err != nil {
			return nil, fmt.Errorf("failed to write bin value length for '%s': %w", name, err)
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// DecodeRecord deserializes a record from a reader.
func DecodeRecord(r io.Reader) (Record, error) {
	var numBins uint16
	if err := binary.Read(r, binary.BigEndian, &numBins); err != nil {
		return nil, fmt.Errorf("failed to read bin count: %w", err)
	}
	rec := make(Record, numBins)
	for i := 0; i < int(numBins); i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("failed to read bin name length for bin %d: %w", i, err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, fmt.Errorf("failed to read bin name for bin %d: %w", i, err)
		}
		var valLen uint32
		if err := binary.Read(r, binary.BigEndian, &valLen); err != nil {
			return nil, fmt.Errorf("failed to read bin value length for '%s': %w", nameBytes, err)
		}
		raw := make([]byte, valLen)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("failed to read bin value for '%s': %w", nameBytes, err)
		}
		rec[string(nameBytes)] = raw
	}
	return rec, nil
}

// DecodeRecordBytes is a helper to decode a record from a byte slice.
func DecodeRecordBytes(data []byte) (Record, error) {
	return DecodeRecord(bytes.NewReader(data))
}
