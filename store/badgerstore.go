package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v3"

	"github.com/INLOpen/expirebin/compressors"
	"github.com/INLOpen/expirebin/core"
)

// BadgerStore is a persistent RecordStore on top of BadgerDB. Each
// record is one Badger entry; the per-record read-modify-write maps
// onto a Badger transaction, retried on SSI conflict so callers observe
// an atomic primitive. Record payloads are framed with a one-byte
// compression tag so the configured codec can change without breaking
// existing data.
type BadgerStore struct {
	db         *badger.DB
	compressor core.Compressor
	logger     *slog.Logger
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	DataDir string
	// Compression selects the payload codec: "none", "snappy", "lz4"
	// or "zstd". Empty means none.
	Compression string
	Logger      *slog.Logger
}

var _ RecordStore = (*BadgerStore)(nil)

// NewBadgerStore opens (or creates) the database under opts.DataDir.
// The caller owns Close.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	compressor, err := compressors.ForName(opts.Compression)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(badger.DefaultOptions(opts.DataDir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db at %s: %w", opts.DataDir, err)
	}
	return &BadgerStore{
		db:         db,
		compressor: compressor,
		logger:     logger.With("component", "BadgerStore"),
	}, nil
}

// recordKey builds the Badger key for a record: set, NUL, primary key.
// Set names must not contain NUL; the engine validates that before any
// key reaches the store.
func recordKey(key core.Key) []byte {
	k := make([]byte, 0, len(key.Set)+1+len(key.PK))
	k = append(k, key.Set...)
	k = append(k, 0)
	k = append(k, key.PK...)
	return k
}

func setPrefix(set string) []byte {
	p := make([]byte, 0, len(set)+1)
	p = append(p, set...)
	return append(p, 0)
}

func (s *BadgerStore) encodeRecord(rec core.Record) ([]byte, error) {
	raw, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	compressed, err := s.compressor.Compress(raw)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(compressed))
	out = append(out, byte(s.compressor.Type()))
	return append(out, compressed...), nil
}

// recordDecodeError marks a payload that exists but cannot be decoded
// (unknown compression tag, corrupt frame or record codec). Scans hand
// it to the visitor so a bad record can be counted and skipped instead
// of killing the pass.
type recordDecodeError struct {
	key core.Key
	err error
}

func (e *recordDecodeError) Error() string {
	return fmt.Sprintf("failed to decode record %s: %v", e.key, e.err)
}

func (e *recordDecodeError) Unwrap() error {
	return e.err
}

func decodeRecordPayload(payload []byte) (core.Record, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty record payload")
	}
	compressor, err := compressors.ForType(core.CompressionType(payload[0]))
	if err != nil {
		return nil, err
	}
	raw, err := compressor.Decompress(payload[1:])
	if err != nil {
		return nil, err
	}
	return core.DecodeRecordBytes(raw)
}

func (s *BadgerStore) View(ctx context.Context, key core.Key, fn ViewFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("badger get failed: %w", err)
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to copy record payload: %w", err)
		}
		rec, err := decodeRecordPayload(payload)
		if err != nil {
			return &recordDecodeError{key: key, err: err}
		}
		return fn(rec)
	})
}

func (s *BadgerStore) Update(ctx context.Context, key core.Key, fn UpdateFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return s.applyTxn(txn, key, fn)
		})
		if errors.Is(err, badger.ErrConflict) {
			// A concurrent writer won the race for this record; the
			// read-modify-write re-executes against the new state.
			continue
		}
		return err
	}
}

func (s *BadgerStore) applyTxn(txn *badger.Txn, key core.Key, fn UpdateFunc) error {
	bk := recordKey(key)
	rec := make(core.Record)
	item, err := txn.Get(bk)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		// fn sees an empty record.
	case err != nil:
		return fmt.Errorf("badger get failed: %w", err)
	default:
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("failed to copy record payload: %w", err)
		}
		if rec, err = decodeRecordPayload(payload); err != nil {
			return &recordDecodeError{key: key, err: err}
		}
	}
	next, err := fn(rec)
	if err != nil {
		return err
	}
	if len(next) == 0 {
		if err := txn.Delete(bk); err != nil {
			return fmt.Errorf("badger delete failed: %w", err)
		}
		return nil
	}
	payload, err := s.encodeRecord(next)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", key, err)
	}
	if err := txn.Set(bk, payload); err != nil {
		return fmt.Errorf("badger set failed: %w", err)
	}
	return nil
}

func (s *BadgerStore) Scan(ctx context.Context, set string, fn ScanFunc) error {
	// Collect the keys first so each visit runs in its own
	// transaction; a record written mid-scan is picked up by the next
	// sweep, which is the at-least-once contract.
	prefix := setPrefix(set)
	var pks []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			pks = append(pks, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger scan failed: %w", err)
	}
	for _, pk := range pks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.visitOne(ctx, core.Key{Set: set, PK: pk}, fn); err != nil {
			return err
		}
	}
	return nil
}

// errScanNoCommit aborts a visit transaction that decided not to write.
var errScanNoCommit = errors.New("scan visit: no commit")

func (s *BadgerStore) visitOne(ctx context.Context, key core.Key, fn ScanFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return s.applyTxn(txn, key, func(rec core.Record) (core.Record, error) {
				if len(rec) == 0 {
					// Deleted since the key snapshot; nothing to visit.
					return nil, errScanNoCommit
				}
				next, mutate, err := fn(key, rec, nil)
				if err != nil {
					return nil, err
				}
				if !mutate {
					return nil, errScanNoCommit
				}
				return next, nil
			})
		})
		var decodeErr *recordDecodeError
		switch {
		case errors.Is(err, badger.ErrConflict):
			continue
		case errors.Is(err, errScanNoCommit):
			return nil
		case errors.As(err, &decodeErr):
			// The record is there but unreadable. The visitor decides
			// whether that aborts the pass; it cannot write here.
			_, _, ferr := fn(key, nil, decodeErr)
			return ferr
		default:
			return err
		}
	}
}

// GC runs one round of Badger's value-log garbage collection. It is a
// no-op when nothing can be rewritten.
func (s *BadgerStore) GC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
