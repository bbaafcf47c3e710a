package engine

import (
	"context"
	"fmt"

	"github.com/INLOpen/expirebin/codec"
	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/hooks"
)

// PutEntry is one bin write in a batched put. A nil TTL means the bin
// is not created as expiring: a live wrapped bin keeps its current
// deadline, anything else is stored plain.
type PutEntry struct {
	Bin   string
	Value core.BinValue
	TTL   *int64
}

// TouchEntry names a bin whose expiration marker is replaced. TTL is
// required; touch never guesses.
type TouchEntry struct {
	Bin string
	TTL *int64
}

// Get returns the values of the named bins, silently omitting bins that
// are absent or logically expired at call time. With no names it
// returns every live bin. Get never mutates the record; physical
// removal of expired bins is left to write paths and sweeps.
func (e *Engine) Get(ctx context.Context, key core.Key, bins ...string) (map[string]core.BinValue, error) {
	ctx, span := e.startSpan(ctx, "Engine.Get", key)
	var err error
	defer func() { finishSpan(span, err) }()
	e.metrics.GetTotal.Add(1)

	if err = validateKey("get", key); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return nil, err
	}

	result := make(map[string]core.BinValue)
	now := e.clock.Now()
	err = e.store.View(ctx, key, func(rec core.Record) error {
		names := bins
		if len(names) == 0 {
			names = make([]string, 0, len(rec))
			for name := range rec {
				names = append(names, name)
			}
		}
		for _, name := range names {
			raw, ok := rec[name]
			if !ok {
				continue
			}
			value, meta, derr := codec.Unwrap(raw)
			if derr != nil {
				e.logger.Warn("Skipping undecodable bin.", "key", key.String(), "bin", name, "error", derr)
				continue
			}
			if meta.Expired(now) {
				e.metrics.ExpiredFiltered.Add(1)
				continue
			}
			result[name] = value
		}
		return nil
	})
	if err != nil {
		err = wrapStoreErr("get", key, err)
		if core.IsTransportError(err) {
			e.metrics.TransportErrors.Add(1)
		}
		return nil, err
	}
	return result, nil
}

// Put creates or updates a single bin. TTL semantics: a positive n
// expires the bin n seconds from now; 0 stores a plain bin, unwrapping
// an expiring one; -1 stores plain unless the bin is already wrapped,
// which keeps it wrapped with the never-expires sentinel. The record is
// created if absent; all other bins are left untouched, except that
// already-expired bins are physically dropped while the write lock is
// held anyway.
func (e *Engine) Put(ctx context.Context, key core.Key, bin string, value core.BinValue, ttl int64) error {
	ctx, span := e.startSpan(ctx, "Engine.Put", key)
	var err error
	defer func() { finishSpan(span, err) }()
	e.metrics.PutTotal.Add(1)

	if err = validateKey("put", key); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return err
	}
	if bin == "" {
		e.metrics.ValidationErrors.Add(1)
		err = &core.ValidationError{Op: "put", Field: "bin", Message: "must not be empty"}
		return err
	}
	if err = validateTTL("put", ttl); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return err
	}

	err = e.putEntries(ctx, "put", key, []PutEntry{{Bin: bin, Value: value, TTL: &ttl}})
	return err
}

// PutBatch creates or updates several bins of one record in a single
// record transaction: either every entry lands or none does. A
// malformed entry fails the whole batch before storage is touched.
func (e *Engine) PutBatch(ctx context.Context, key core.Key, entries []PutEntry) error {
	ctx, span := e.startSpan(ctx, "Engine.PutBatch", key)
	var err error
	defer func() { finishSpan(span, err) }()
	e.metrics.PutTotal.Add(1)

	if err = validateKey("puts", key); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return err
	}
	if len(entries) == 0 {
		e.metrics.ValidationErrors.Add(1)
		err = &core.ValidationError{Op: "puts", Field: "entries", Message: "must not be empty"}
		return err
	}
	for i, entry := range entries {
		if entry.Bin == "" {
			e.metrics.ValidationErrors.Add(1)
			err = &core.ValidationError{Op: "puts", Field: "bin", Message: fmt.Sprintf("entry %d: bin name is required", i)}
			return err
		}
		if entry.TTL != nil {
			if err = validateTTL("puts", *entry.TTL); err != nil {
				e.metrics.ValidationErrors.Add(1)
				return err
			}
		}
	}

	err = e.putEntries(ctx, "puts", key, entries)
	return err
}

// putEntries applies pre-validated put entries inside one RMW.
func (e *Engine) putEntries(ctx context.Context, op string, key core.Key, entries []PutEntry) error {
	binTTLs := make(map[string]*int64, len(entries))
	targets := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		binTTLs[entry.Bin] = entry.TTL
		targets[entry.Bin] = struct{}{}
	}
	if err := e.hooks.Trigger(ctx, hooks.NewPrePutEvent(hooks.PutPayload{Key: key, Bins: binTTLs})); err != nil {
		return fmt.Errorf("operation cancelled by hook: %w", err)
	}

	err := e.store.Update(ctx, key, func(rec core.Record) (core.Record, error) {
		for _, entry := range entries {
			raw, err := e.encodePutValue(entry.Bin, rec[entry.Bin], entry.Value, entry.TTL)
			if err != nil {
				return nil, err
			}
			rec[entry.Bin] = raw
		}
		e.evictExpired(rec, targets)
		return rec, nil
	})
	err = wrapStoreErr(op, key, err)
	if core.IsTransportError(err) {
		e.metrics.TransportErrors.Add(1)
	}
	if herr := e.hooks.Trigger(ctx, hooks.NewPostPutEvent(hooks.PutPayload{Key: key, Bins: binTTLs, Error: err})); herr != nil {
		e.logger.Warn("Post-put hook failed.", "key", key.String(), "error", herr)
	}
	return err
}

// Touch replaces the expiration markers of the named bins, leaving
// their values unchanged: a positive ttl re-arms the deadline, -1 pins
// the bin wrapped-never, 0 unwraps it to plain. Every entry must carry
// a ttl and must name a live bin; otherwise the whole batch fails
// before anything is written.
func (e *Engine) Touch(ctx context.Context, key core.Key, entries []TouchEntry) error {
	ctx, span := e.startSpan(ctx, "Engine.Touch", key)
	var err error
	defer func() { finishSpan(span, err) }()
	e.metrics.TouchTotal.Add(1)

	if err = validateKey("touch", key); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return err
	}
	if len(entries) == 0 {
		e.metrics.ValidationErrors.Add(1)
		err = &core.ValidationError{Op: "touch", Field: "entries", Message: "must not be empty"}
		return err
	}
	binTTLs := make(map[string]*int64, len(entries))
	targets := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if entry.Bin == "" {
			e.metrics.ValidationErrors.Add(1)
			err = &core.ValidationError{Op: "touch", Field: "bin", Message: fmt.Sprintf("entry %d: bin name is required", i)}
			return err
		}
		if entry.TTL == nil {
			e.metrics.ValidationErrors.Add(1)
			err = &core.ValidationError{Op: "touch", Field: "ttl", Message: fmt.Sprintf("entry %d (%s): ttl is required", i, entry.Bin)}
			return err
		}
		if err = validateTTL("touch", *entry.TTL); err != nil {
			e.metrics.ValidationErrors.Add(1)
			return err
		}
		binTTLs[entry.Bin] = entry.TTL
		targets[entry.Bin] = struct{}{}
	}
	if err = e.hooks.Trigger(ctx, hooks.NewPreTouchEvent(hooks.TouchPayload{Key: key, Bins: binTTLs})); err != nil {
		err = fmt.Errorf("operation cancelled by hook: %w", err)
		return err
	}

	now := e.clock.Now()
	err = e.store.Update(ctx, key, func(rec core.Record) (core.Record, error) {
		// Validate-then-apply: every target must be live before any
		// marker is replaced.
		values := make(map[string]core.BinValue, len(entries))
		for _, entry := range entries {
			raw, ok := rec[entry.Bin]
			if !ok {
				return nil, fmt.Errorf("touch %s: %w", entry.Bin, core.ErrBinNotFound)
			}
			value, meta, derr := codec.Unwrap(raw)
			if derr != nil {
				return nil, &core.CorruptBinError{Bin: entry.Bin, Err: derr}
			}
			if meta.Expired(now) {
				return nil, fmt.Errorf("touch %s: %w", entry.Bin, core.ErrBinNotFound)
			}
			values[entry.Bin] = value
		}
		for _, entry := range entries {
			var raw []byte
			var eerr error
			switch {
			case *entry.TTL > 0:
				raw, eerr = codec.Wrap(values[entry.Bin], now.Unix()+*entry.TTL)
			case *entry.TTL == 0:
				raw, eerr = codec.Plain(values[entry.Bin])
			default:
				raw, eerr = codec.Wrap(values[entry.Bin], codec.NeverExpires)
			}
			if eerr != nil {
				return nil, eerr
			}
			rec[entry.Bin] = raw
		}
		e.evictExpired(rec, targets)
		return rec, nil
	})
	err = wrapStoreErr("touch", key, err)
	if core.IsTransportError(err) {
		e.metrics.TransportErrors.Add(1)
	}
	if herr := e.hooks.Trigger(ctx, hooks.NewPostTouchEvent(hooks.TouchPayload{Key: key, Bins: binTTLs, Error: err})); herr != nil {
		e.logger.Warn("Post-touch hook failed.", "key", key.String(), "error", herr)
	}
	return err
}

// TTL reports the seconds remaining before the named bin expires,
// core.TTLNever for a bin that never expires (plain or wrapped with the
// sentinel), or core.ErrBinNotFound when the bin is absent or already
// logically expired. Pure read.
func (e *Engine) TTL(ctx context.Context, key core.Key, bin string) (int64, error) {
	ctx, span := e.startSpan(ctx, "Engine.TTL", key)
	var err error
	defer func() { finishSpan(span, err) }()
	e.metrics.TTLTotal.Add(1)

	if err = validateKey("ttl", key); err != nil {
		e.metrics.ValidationErrors.Add(1)
		return 0, err
	}
	if bin == "" {
		e.metrics.ValidationErrors.Add(1)
		err = &core.ValidationError{Op: "ttl", Field: "bin", Message: "must not be empty"}
		return 0, err
	}

	var remaining int64
	now := e.clock.Now()
	err = e.store.View(ctx, key, func(rec core.Record) error {
		raw, ok := rec[bin]
		if !ok {
			return core.ErrBinNotFound
		}
		meta, derr := codec.Inspect(raw)
		if derr != nil {
			return &core.CorruptBinError{Bin: bin, Err: derr}
		}
		if meta.Expired(now) {
			e.metrics.ExpiredFiltered.Add(1)
			return core.ErrBinNotFound
		}
		remaining = meta.Remaining(now)
		return nil
	})
	if err != nil {
		err = wrapStoreErr("ttl", key, err)
		if core.IsTransportError(err) {
			e.metrics.TransportErrors.Add(1)
		}
		return 0, err
	}
	return remaining, nil
}
