// Package store defines the host record-store boundary the expiration
// engine runs against: per-record atomic read-modify-write plus a
// sequential scan over a record set. Implementations own durability,
// record-level TTL and generation metadata; this module never touches
// those.
package store

import (
	"context"

	"github.com/INLOpen/expirebin/core"
)

// UpdateFunc transforms a record inside one atomic read-modify-write.
// It receives the current record, or an empty one if the key is absent,
// and returns the replacement. Returning an error aborts the
// transaction without committing; returning an empty record deletes the
// key.
type UpdateFunc func(rec core.Record) (core.Record, error)

// ViewFunc observes a record. The record must not be mutated or
// retained past the call.
type ViewFunc func(rec core.Record) error

// ScanFunc is invoked once per record during a scan, each call inside
// its own atomic unit. A non-nil rerr means the record exists but could
// not be loaded (corrupt payload); rec is nil then and the visit cannot
// write. Otherwise fn returns the replacement record and whether a
// write should be committed; mutate=false makes the visit an
// effect-free read. Returning an error aborts the scan without
// committing that record's write; returning nil continues it, which is
// how callers skip a bad record after counting it.
type ScanFunc func(key core.Key, rec core.Record, rerr error) (rec2 core.Record, mutate bool, err error)

// RecordStore is the host storage engine consumed by the engine and the
// sweeper. Concurrent calls for the same key serialize; no ordering is
// promised across keys.
type RecordStore interface {
	// View runs fn against the record under key. It returns
	// core.ErrKeyNotFound if the record does not exist.
	View(ctx context.Context, key core.Key, fn ViewFunc) error
	// Update atomically applies fn to the record under key, creating
	// the record if absent and deleting it if fn returns an empty one.
	Update(ctx context.Context, key core.Key, fn UpdateFunc) error
	// Scan visits every record in the set at least once. The visit
	// order is unspecified. Scan honors ctx between record visits,
	// never mid-write.
	Scan(ctx context.Context, set string, fn ScanFunc) error
	// Close releases the store's resources.
	Close() error
}
