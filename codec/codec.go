// Package codec implements the expiration wrapper encoding: the
// bijective mapping between a bin value plus its expiration marker and
// the raw bytes stored in a record.
//
// Wrapped layout:
//
//	0xEB 0x01 | expiresAt uint64 BE | BinValue encoding
//
// expiresAt is an absolute epoch timestamp in seconds; zero is the
// never-expires sentinel. Plain values are stored as the bare BinValue
// encoding. The magic byte 0xEB sits above the BinValue tag space, so a
// raw value can always be classified unambiguously. The version byte
// reserves room for future layouts; decoders must reject versions they
// do not know rather than guess.
package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/INLOpen/expirebin/core"
)

const (
	wrapMagic   byte = 0xEB
	wrapVersion byte = 0x01

	headerSize = 2 + 8

	// NeverExpires is the sentinel deadline of a wrapped bin that does
	// not expire.
	NeverExpires int64 = 0
)

// Meta describes the expiration state decoded from a raw bin value.
type Meta struct {
	// Wrapped is false for plain bins; ExpiresAt is meaningless then.
	Wrapped bool
	// ExpiresAt is the absolute expiration epoch in seconds, or
	// NeverExpires for the sentinel.
	ExpiresAt int64
}

// Expired reports whether the marker is past due at now. Plain and
// never-expiring bins never expire.
func (m Meta) Expired(now time.Time) bool {
	if !m.Wrapped || m.ExpiresAt == NeverExpires {
		return false
	}
	return now.Unix() >= m.ExpiresAt
}

// Remaining returns the seconds left until expiration. It returns
// core.TTLNever for plain and never-expiring bins. The caller is
// expected to have filtered expired bins already; a past deadline
// yields zero, never a negative count.
func (m Meta) Remaining(now time.Time) int64 {
	if !m.Wrapped || m.ExpiresAt == NeverExpires {
		return core.TTLNever
	}
	left := m.ExpiresAt - now.Unix()
	if left < 0 {
		return 0
	}
	return left
}

// Wrap encodes a value together with its expiration marker.
func Wrap(v core.BinValue, expiresAt int64) ([]byte, error) {
	inner, err := v.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, headerSize+len(inner))
	out[0] = wrapMagic
	out[1] = wrapVersion
	binary.BigEndian.PutUint64(out[2:headerSize], uint64(expiresAt))
	copy(out[headerSize:], inner)
	return out, nil
}

// Plain encodes a value without any expiration marker.
func Plain(v core.BinValue) ([]byte, error) {
	return v.Encode()
}

// Unwrap decodes a raw bin value into the inner value and its
// expiration metadata. It never fails merely because the value is
// plain.
func Unwrap(raw []byte) (core.BinValue, Meta, error) {
	if len(raw) == 0 {
		return core.BinValue{}, Meta{}, fmt.Errorf("empty bin value")
	}
	if raw[0] != wrapMagic {
		v, err := core.DecodeValueBytes(raw)
		if err != nil {
			return core.BinValue{}, Meta{}, fmt.Errorf("failed to decode plain bin value: %w", err)
		}
		return v, Meta{}, nil
	}
	if len(raw) < headerSize {
		return core.BinValue{}, Meta{}, fmt.Errorf("truncated expiration header: %d bytes", len(raw))
	}
	if raw[1] != wrapVersion {
		return core.BinValue{}, Meta{}, fmt.Errorf("unknown expiration wrapper version 0x%02x", raw[1])
	}
	expiresAt := int64(binary.BigEndian.Uint64(raw[2:headerSize]))
	v, err := core.DecodeValueBytes(raw[headerSize:])
	if err != nil {
		return core.BinValue{}, Meta{}, fmt.Errorf("failed to decode wrapped bin value: %w", err)
	}
	return v, Meta{Wrapped: true, ExpiresAt: expiresAt}, nil
}

// Inspect decodes only the expiration metadata of a raw bin value,
// skipping the value payload. Sweeps use it to classify bins without
// materializing values.
func Inspect(raw []byte) (Meta, error) {
	if len(raw) == 0 {
		return Meta{}, fmt.Errorf("empty bin value")
	}
	if raw[0] != wrapMagic {
		return Meta{}, nil
	}
	if len(raw) < headerSize {
		return Meta{}, fmt.Errorf("truncated expiration header: %d bytes", len(raw))
	}
	if raw[1] != wrapVersion {
		return Meta{}, fmt.Errorf("unknown expiration wrapper version 0x%02x", raw[1])
	}
	return Meta{Wrapped: true, ExpiresAt: int64(binary.BigEndian.Uint64(raw[2:headerSize]))}, nil
}
