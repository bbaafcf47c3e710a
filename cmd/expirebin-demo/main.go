// Command expirebin-demo walks the engine through its six operations
// against an in-memory store: write bins with mixed lifetimes, watch
// one expire, extend another, then sweep the tombstones away.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/engine"
	"github.com/INLOpen/expirebin/store"
	"github.com/INLOpen/expirebin/sweep"
)

const demoWait = 6 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func ttl(v int64) *int64 { return &v }

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	st := store.NewMemStore()
	defer st.Close()

	eng, err := engine.NewEngine(engine.Options{Store: st, Logger: logger})
	if err != nil {
		return err
	}
	sweeper, err := sweep.NewSweeper(sweep.Options{Store: st, Logger: logger, Clock: eng.Clock()})
	if err != nil {
		return err
	}

	ctx := context.Background()
	key := core.Key{Set: "demo", PK: "record-1"}

	fmt.Println("Writing five bins with mixed lifetimes...")
	entries := []engine.PutEntry{
		{Bin: "plain", Value: core.MustBinValue("unwrapped value"), TTL: ttl(0)},
		{Bin: "forever", Value: core.MustBinValue("never expires"), TTL: ttl(-1)},
		{Bin: "short", Value: core.MustBinValue(int64(42)), TTL: ttl(5)},
		{Bin: "long", Value: core.MustBinValue(3.14), TTL: ttl(3600)},
		{Bin: "listy", Value: core.MustBinValue([]any{"a", int64(1), true}), TTL: ttl(3600)},
	}
	if err := eng.PutBatch(ctx, key, entries); err != nil {
		return err
	}

	if err := printBins(ctx, eng, key); err != nil {
		return err
	}
	if err := printTTLs(ctx, eng, key, "plain", "forever", "short", "long"); err != nil {
		return err
	}

	fmt.Printf("\nWaiting %s for 'short' to expire...\n", demoWait)
	time.Sleep(demoWait)

	if err := printBins(ctx, eng, key); err != nil {
		return err
	}
	if _, err := eng.TTL(ctx, key, "short"); errors.Is(err, core.ErrBinNotFound) {
		fmt.Println("ttl(short): bin not found, as expected after expiry")
	} else if err != nil {
		return err
	}

	fmt.Println("\nExtending 'long' by another hour via touch...")
	if err := eng.Touch(ctx, key, []engine.TouchEntry{{Bin: "long", TTL: ttl(7200)}}); err != nil {
		return err
	}
	if err := printTTLs(ctx, eng, key, "long"); err != nil {
		return err
	}

	fmt.Println("\nSweeping the demo set...")
	job, err := sweeper.Start(ctx, key.Set)
	if err != nil {
		return err
	}
	if err := job.Wait(); err != nil {
		return err
	}
	counts := job.Counts()
	fmt.Printf("sweep %s: visited=%d removed=%d failed=%d\n",
		job.ID(), counts.RecordsVisited, counts.BinsRemoved, counts.RecordsFailed)

	return printBins(ctx, eng, key)
}

func printBins(ctx context.Context, eng *engine.Engine, key core.Key) error {
	bins, err := eng.Get(ctx, key)
	if err != nil {
		return err
	}
	fmt.Printf("get %s: %d live bins\n", key.String(), len(bins))
	for name, v := range bins {
		fmt.Printf("  %-8s = %v\n", name, v.Interface())
	}
	return nil
}

func printTTLs(ctx context.Context, eng *engine.Engine, key core.Key, bins ...string) error {
	for _, bin := range bins {
		remaining, err := eng.TTL(ctx, key, bin)
		if err != nil {
			return err
		}
		switch remaining {
		case core.TTLNever:
			fmt.Printf("ttl(%s): never expires\n", bin)
		default:
			fmt.Printf("ttl(%s): %ds remaining\n", bin, remaining)
		}
	}
	return nil
}
