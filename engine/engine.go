// Package engine implements the per-bin expiration accessor: five
// operations against a single record, each executing inside one atomic
// read-modify-write provided by the host record store. The engine keeps
// no state between calls; expired bins are invisible to reads the
// instant their deadline passes and are physically removed by write
// paths and sweeps.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/expirebin/codec"
	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/hooks"
	"github.com/INLOpen/expirebin/internal/clock"
	"github.com/INLOpen/expirebin/store"
)

// Options configures an Engine. Store is required; everything else has
// a safe default.
type Options struct {
	Store          store.RecordStore
	Logger         *slog.Logger
	Clock          clock.Clock
	HookManager    hooks.HookManager
	TracerProvider trace.TracerProvider
	Metrics        *Metrics
}

// Engine is the per-bin expiration accessor. It is safe for concurrent
// use; per-record consistency comes from the store's atomicity.
type Engine struct {
	store   store.RecordStore
	logger  *slog.Logger
	clock   clock.Clock
	hooks   hooks.HookManager
	tracer  trace.Tracer
	metrics *Metrics
}

// NewEngine creates an engine over the given host store.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine requires a record store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.SystemClockDefault
	}
	hookManager := opts.HookManager
	if hookManager == nil {
		hookManager = hooks.NoopHookManager{}
	}
	var tracer trace.Tracer
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer("github.com/INLOpen/expirebin/engine")
	} else {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics("expirebin")
	}
	return &Engine{
		store:   opts.Store,
		logger:  logger.With("component", "Engine"),
		clock:   clk,
		hooks:   hookManager,
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// Clock exposes the engine's clock; the sweeper shares it so both sides
// agree on "now".
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

func (e *Engine) startSpan(ctx context.Context, name string, key core.Key) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("record.set", key.Set),
		attribute.String("record.pk", key.PK),
	))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// wrapStoreErr classifies a store failure: the engine's own sentinel and
// typed errors pass through untouched, anything else is a transport
// error carrying the key and operation for the caller's retry decision.
func wrapStoreErr(op string, key core.Key, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrKeyNotFound) || errors.Is(err, core.ErrBinNotFound) ||
		core.IsValidationError(err) || core.IsUnsupportedTypeError(err) ||
		core.IsCorruptBinError(err) {
		return err
	}
	return &core.TransportError{Op: op, Key: key, Err: err}
}

func validateKey(op string, key core.Key) error {
	if key.Set == "" {
		return &core.ValidationError{Op: op, Field: "set", Message: "must not be empty"}
	}
	if key.PK == "" {
		return &core.ValidationError{Op: op, Field: "key", Message: "must not be empty"}
	}
	for i := 0; i < len(key.Set); i++ {
		if key.Set[i] == 0 {
			return &core.ValidationError{Op: op, Field: "set", Message: "must not contain NUL"}
		}
	}
	return nil
}

// evictExpired physically removes expired wrapped bins from a record
// the caller already holds under a write lock, skipping names in keep.
// Returns the number of bins removed.
func (e *Engine) evictExpired(rec core.Record, keep map[string]struct{}) int {
	now := e.clock.Now()
	evicted := 0
	for name, raw := range rec {
		if _, held := keep[name]; held {
			continue
		}
		meta, err := codec.Inspect(raw)
		if err != nil {
			e.logger.Warn("Skipping undecodable bin during eviction.", "bin", name, "error", err)
			continue
		}
		if meta.Expired(now) {
			delete(rec, name)
			evicted++
		}
	}
	if evicted > 0 {
		e.metrics.BinsEvicted.Add(int64(evicted))
	}
	return evicted
}

// encodePutValue applies the put TTL policy to one bin:
//
//	ttl  > 0  wrap with now+ttl
//	ttl == 0  store plain (the explicit unwrap request)
//	ttl == -1 store plain, unless the bin is currently wrapped, which
//	          re-wraps with the never-expires sentinel so ttl queries
//	          keep answering NEVER
//	ttl nil   (batch entries only) preserve a live wrapped bin's
//	          deadline, otherwise store plain
func (e *Engine) encodePutValue(bin string, existing []byte, v core.BinValue, ttl *int64) ([]byte, error) {
	now := e.clock.Now()
	var existingMeta codec.Meta
	if existing != nil {
		m, err := codec.Inspect(existing)
		if err != nil {
			return nil, &core.CorruptBinError{Bin: bin, Err: err}
		}
		existingMeta = m
	}
	liveWrapped := existingMeta.Wrapped && !existingMeta.Expired(now)

	switch {
	case ttl == nil:
		if liveWrapped {
			return codec.Wrap(v, existingMeta.ExpiresAt)
		}
		return codec.Plain(v)
	case *ttl > 0:
		return codec.Wrap(v, now.Unix()+*ttl)
	case *ttl == 0:
		return codec.Plain(v)
	default: // -1, validated upstream
		if liveWrapped {
			return codec.Wrap(v, codec.NeverExpires)
		}
		return codec.Plain(v)
	}
}

func validateTTL(op string, ttl int64) error {
	if ttl < core.TTLNever {
		return &core.ValidationError{Op: op, Field: "ttl", Message: fmt.Sprintf("must be -1, 0 or positive, got %d", ttl)}
	}
	return nil
}
