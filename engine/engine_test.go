package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/hooks"
	"github.com/INLOpen/expirebin/internal/clock"
	"github.com/INLOpen/expirebin/store"
)

func ttlp(v int64) *int64 { return &v }

func newTestEngine(t *testing.T) (*Engine, *clock.MockClock) {
	t.Helper()
	st := store.NewMemStore()
	t.Cleanup(func() { _ = st.Close() })
	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	eng, err := NewEngine(Options{Store: st, Clock: clk})
	require.NoError(t, err)
	return eng, clk
}

func TestPutGetRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	value := core.MustBinValue(map[string]any{"name": "alice", "age": int64(30)})
	require.NoError(t, eng.Put(ctx, key, "profile", value, 60))

	got, err := eng.Get(ctx, key, "profile")
	require.NoError(t, err)
	require.Contains(t, got, "profile")
	assert.True(t, value.Equal(got["profile"]))
}

func TestExpiredBinIsInvisible(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "session", core.MustBinValue("token"), 10))

	got, err := eng.Get(ctx, key, "session")
	require.NoError(t, err)
	assert.Contains(t, got, "session")

	clk.Advance(10 * time.Second)

	got, err = eng.Get(ctx, key, "session")
	require.NoError(t, err)
	assert.NotContains(t, got, "session", "a bin at its deadline must be invisible")

	_, err = eng.TTL(ctx, key, "session")
	assert.ErrorIs(t, err, core.ErrBinNotFound)
}

func TestNeverExpiringBins(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	// A plain bin and a bin pinned wrapped-never both outlive any wait.
	require.NoError(t, eng.Put(ctx, key, "plain", core.MustBinValue("p"), 0))
	require.NoError(t, eng.Put(ctx, key, "expiring", core.MustBinValue("e"), 30))
	require.NoError(t, eng.Touch(ctx, key, []TouchEntry{{Bin: "expiring", TTL: ttlp(-1)}}))

	clk.Advance(100 * 365 * 24 * time.Hour)

	got, err := eng.Get(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, got, "plain")
	assert.Contains(t, got, "expiring")

	for _, bin := range []string{"plain", "expiring"} {
		remaining, err := eng.TTL(ctx, key, bin)
		require.NoError(t, err)
		assert.Equal(t, core.TTLNever, remaining, "bin %s", bin)
	}
}

func TestGetAllBinsFiltersExpired(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.PutBatch(ctx, key, []PutEntry{
		{Bin: "keep", Value: core.MustBinValue("k"), TTL: ttlp(100)},
		{Bin: "drop", Value: core.MustBinValue("d"), TTL: ttlp(5)},
		{Bin: "plain", Value: core.MustBinValue("p"), TTL: ttlp(0)},
	}))
	clk.Advance(6 * time.Second)

	got, err := eng.Get(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "keep")
	assert.Contains(t, got, "plain")
}

func TestGetMissingRecord(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Get(context.Background(), core.Key{Set: "users", PK: "nope"})
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestTTLReporting(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue(1), 90))

	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(90), remaining)

	clk.Advance(40 * time.Second)
	remaining, err = eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(50), remaining)

	_, err = eng.TTL(ctx, key, "absent")
	assert.ErrorIs(t, err, core.ErrBinNotFound)
}

func TestTouchExtendsDeadline(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), 10))
	clk.Advance(5 * time.Second)
	require.NoError(t, eng.Touch(ctx, key, []TouchEntry{{Bin: "b", TTL: ttlp(60)}}))
	clk.Advance(30 * time.Second)

	got, err := eng.Get(ctx, key, "b")
	require.NoError(t, err)
	require.Contains(t, got, "b", "touched bin must survive past its old deadline")
	v, _ := got["b"].ValueString()
	assert.Equal(t, "v", v, "touch must not change the value")

	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(30), remaining)
}

func TestTouchUnwrapsWithZeroTTL(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), 10))
	require.NoError(t, eng.Touch(ctx, key, []TouchEntry{{Bin: "b", TTL: ttlp(0)}}))
	clk.Advance(time.Hour)

	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, core.TTLNever, remaining)
}

func TestTouchRequiresTTL(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}
	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), 100))

	err := eng.Touch(ctx, key, []TouchEntry{{Bin: "b"}})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))

	// The rejected touch must not have moved the deadline.
	remaining, terr := eng.TTL(ctx, key, "b")
	require.NoError(t, terr)
	assert.Equal(t, int64(100), remaining)
}

func TestTouchFailsOnAbsentOrExpiredBin(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}
	require.NoError(t, eng.PutBatch(ctx, key, []PutEntry{
		{Bin: "live", Value: core.MustBinValue(1), TTL: ttlp(100)},
		{Bin: "dying", Value: core.MustBinValue(2), TTL: ttlp(5)},
	}))
	clk.Advance(6 * time.Second)

	// One bad target fails the whole batch and leaves the live bin alone.
	err := eng.Touch(ctx, key, []TouchEntry{
		{Bin: "live", TTL: ttlp(500)},
		{Bin: "dying", TTL: ttlp(500)},
	})
	assert.ErrorIs(t, err, core.ErrBinNotFound)

	remaining, terr := eng.TTL(ctx, key, "live")
	require.NoError(t, terr)
	assert.Equal(t, int64(94), remaining, "failed batch must not touch any marker")

	err = eng.Touch(ctx, key, []TouchEntry{{Bin: "ghost", TTL: ttlp(10)}})
	assert.ErrorIs(t, err, core.ErrBinNotFound)
}

func TestPutBatchAtomicity(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	err := eng.PutBatch(ctx, key, []PutEntry{
		{Bin: "ok", Value: core.MustBinValue(1), TTL: ttlp(60)},
		{Bin: "", Value: core.MustBinValue(2), TTL: ttlp(60)},
	})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))

	_, err = eng.Get(ctx, key)
	assert.ErrorIs(t, err, core.ErrKeyNotFound, "a failed batch must not create the record")
}

func TestPutBatchInvalidTTL(t *testing.T) {
	eng, _ := newTestEngine(t)
	err := eng.PutBatch(context.Background(), core.Key{Set: "s", PK: "p"}, []PutEntry{
		{Bin: "b", Value: core.MustBinValue(1), TTL: ttlp(-2)},
	})
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
}

func TestPutBatchNilTTLPreservesDeadline(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("old"), 100))
	clk.Advance(10 * time.Second)
	require.NoError(t, eng.PutBatch(ctx, key, []PutEntry{
		{Bin: "b", Value: core.MustBinValue("new")},
	}))

	got, err := eng.Get(ctx, key, "b")
	require.NoError(t, err)
	v, _ := got["b"].ValueString()
	assert.Equal(t, "new", v)

	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(90), remaining, "value update without ttl must keep the deadline")
}

func TestPutNeverTTLOnPlainBinStaysPlain(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), -1))
	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, core.TTLNever, remaining)
}

func TestPutNeverTTLKeepsWrappedBinWrapped(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), 30))
	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v2"), -1))
	clk.Advance(time.Hour)

	got, err := eng.Get(ctx, key, "b")
	require.NoError(t, err)
	require.Contains(t, got, "b")
	v, _ := got["b"].ValueString()
	assert.Equal(t, "v2", v)
}

func TestPlainBinsUnaffectedByExpiringSiblings(t *testing.T) {
	eng, clk := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "plain", core.MustBinValue("keep"), 0))
	require.NoError(t, eng.Put(ctx, key, "temp", core.MustBinValue("gone"), 5))
	clk.Advance(time.Minute)

	// A write to a third bin opportunistically evicts the expired one.
	require.NoError(t, eng.Put(ctx, key, "other", core.MustBinValue(1), 0))

	got, err := eng.Get(ctx, key)
	require.NoError(t, err)
	assert.Contains(t, got, "plain")
	assert.Contains(t, got, "other")
	assert.NotContains(t, got, "temp")
}

func TestWriteEvictsExpiredBinsPhysically(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	eng, err := NewEngine(Options{Store: st, Clock: clk})
	require.NoError(t, err)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	require.NoError(t, eng.Put(ctx, key, "temp", core.MustBinValue("x"), 5))
	clk.Advance(10 * time.Second)
	require.NoError(t, eng.Put(ctx, key, "fresh", core.MustBinValue("y"), 0))

	require.NoError(t, st.View(ctx, key, func(rec core.Record) error {
		assert.NotContains(t, rec, "temp", "expired bin must be gone from storage after a write")
		assert.Contains(t, rec, "fresh")
		return nil
	}))
}

func TestValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		call func() error
	}{
		{"empty set", func() error {
			return eng.Put(ctx, core.Key{PK: "p"}, "b", core.MustBinValue(1), 0)
		}},
		{"empty pk", func() error {
			return eng.Put(ctx, core.Key{Set: "s"}, "b", core.MustBinValue(1), 0)
		}},
		{"nul in set", func() error {
			return eng.Put(ctx, core.Key{Set: "s\x00x", PK: "p"}, "b", core.MustBinValue(1), 0)
		}},
		{"empty bin name", func() error {
			return eng.Put(ctx, core.Key{Set: "s", PK: "p"}, "", core.MustBinValue(1), 0)
		}},
		{"ttl below -1", func() error {
			return eng.Put(ctx, core.Key{Set: "s", PK: "p"}, "b", core.MustBinValue(1), -5)
		}},
		{"empty touch batch", func() error {
			return eng.Touch(ctx, core.Key{Set: "s", PK: "p"}, nil)
		}},
		{"empty put batch", func() error {
			return eng.PutBatch(ctx, core.Key{Set: "s", PK: "p"}, nil)
		}},
		{"empty ttl bin", func() error {
			_, err := eng.TTL(ctx, core.Key{Set: "s", PK: "p"}, "")
			return err
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			assert.True(t, core.IsValidationError(err), "got %v", err)
		})
	}
}

func TestConcurrentTouchAndPut(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	key := core.Key{Set: "race", PK: "1"}
	require.NoError(t, eng.Put(ctx, key, "b", core.MustBinValue("v"), 1000))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				_ = eng.Touch(ctx, key, []TouchEntry{{Bin: "b", TTL: ttlp(1000)}})
				_ = eng.Put(ctx, key, "b", core.MustBinValue("v"), 1000)
			}
		}()
	}
	wg.Wait()

	got, err := eng.Get(ctx, key, "b")
	require.NoError(t, err)
	require.Contains(t, got, "b")
	remaining, err := eng.TTL(ctx, key, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), remaining)
}

type vetoListener struct{}

func (vetoListener) OnEvent(context.Context, hooks.HookEvent) error {
	return assert.AnError
}
func (vetoListener) Priority() int { return 0 }

func TestPrePutHookCancelsOperation(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	hm := hooks.NewHookManager(nil)
	hm.Register(hooks.EventPrePut, vetoListener{})
	eng, err := NewEngine(Options{Store: st, HookManager: hm})
	require.NoError(t, err)
	ctx := context.Background()
	key := core.Key{Set: "s", PK: "p"}

	err = eng.Put(ctx, key, "b", core.MustBinValue(1), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)

	_, err = eng.Get(ctx, key)
	assert.ErrorIs(t, err, core.ErrKeyNotFound, "a vetoed put must not write")
}

func TestCorruptBinIsNotATransportError(t *testing.T) {
	st := store.NewMemStore()
	defer st.Close()
	clk := clock.NewMockClock(time.Unix(1_700_000_000, 0))
	eng, err := NewEngine(Options{Store: st, Clock: clk})
	require.NoError(t, err)
	ctx := context.Background()
	key := core.Key{Set: "users", PK: "1"}

	// Truncated wrapper header: the value exists but cannot be decoded.
	require.NoError(t, st.Update(ctx, key, func(rec core.Record) (core.Record, error) {
		rec["bad"] = []byte{0xEB}
		return rec, nil
	}))

	err = eng.Touch(ctx, key, []TouchEntry{{Bin: "bad", TTL: ttlp(60)}})
	require.Error(t, err)
	assert.True(t, core.IsCorruptBinError(err), "got %v", err)
	assert.False(t, core.IsTransportError(err), "corruption is not a connectivity failure")

	err = eng.Put(ctx, key, "bad", core.MustBinValue("new"), 60)
	require.Error(t, err)
	assert.True(t, core.IsCorruptBinError(err), "got %v", err)
	assert.False(t, core.IsTransportError(err))

	_, err = eng.TTL(ctx, key, "bad")
	require.Error(t, err)
	assert.True(t, core.IsCorruptBinError(err), "got %v", err)
	assert.False(t, core.IsTransportError(err))
}

func TestNewEngineRequiresStore(t *testing.T) {
	_, err := NewEngine(Options{})
	assert.Error(t, err)
}
