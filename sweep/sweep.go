// Package sweep drives the maintenance pass that physically removes
// expired bins from records at rest. Logically expired bins are already
// invisible to reads; sweeping reclaims the space they occupy.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/INLOpen/expirebin/codec"
	"github.com/INLOpen/expirebin/core"
	"github.com/INLOpen/expirebin/hooks"
	"github.com/INLOpen/expirebin/internal/clock"
	"github.com/INLOpen/expirebin/store"
)

// Options configures a Sweeper. Store is required.
type Options struct {
	Store       store.RecordStore
	Logger      *slog.Logger
	Clock       clock.Clock
	HookManager hooks.HookManager
}

// Sweeper launches background sweep jobs over record sets. It is
// stateless between jobs; invoking a sweep twice over an unchanged set
// is a no-op the second time.
type Sweeper struct {
	store store.RecordStore
	log   *slog.Logger
	clock clock.Clock
	hooks hooks.HookManager
}

// NewSweeper creates a sweeper over the given host store.
func NewSweeper(opts Options) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("sweeper requires a record store")
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
	return &Sweeper{
		store: opts.Store,
		log:   logger.With("component", "Sweeper"),
		clock: clk,
		hooks: hookManager,
	}, nil
}

// Counts is a snapshot of a job's progress counters.
type Counts struct {
	RecordsVisited uint64
	BinsRemoved    uint64
	RecordsFailed  uint64
}

// Job is the handle of one background sweep. Completion is "the pass
// finished", not "the set is expired-clean forever": bins keep
// expiring, so sweeps are meant to be re-invoked periodically.
type Job struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}

	visited atomic.Uint64
	removed atomic.Uint64
	failed  atomic.Uint64
	err     atomic.Pointer[jobError]
}

type jobError struct{ err error }

// ID returns the job's unique identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// Done is closed when the pass has finished, was cancelled or failed.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel requests cooperative cancellation; the job stops between
// record visits, never mid-write.
func (j *Job) Cancel() {
	j.cancel()
}

// Counts returns a snapshot of the job's progress.
func (j *Job) Counts() Counts {
	return Counts{
		RecordsVisited: j.visited.Load(),
		BinsRemoved:    j.removed.Load(),
		RecordsFailed:  j.failed.Load(),
	}
}

// Err returns the job's aggregate outcome, valid after Done is closed:
// nil for a clean pass, the scan/cancellation error otherwise. Records
// that individually failed are counted, not fatal.
func (j *Job) Err() error {
	if p := j.err.Load(); p != nil {
		return p.err
	}
	return nil
}

// Wait blocks until the job finishes and returns Err.
func (j *Job) Wait() error {
	<-j.done
	return j.Err()
}

// Start launches a sweep over every record of the set. If bins is
// non-empty, only those bin names are inspected and records containing
// none of them are passed over without a write. The pass visits each
// record at least once; a record whose write races with a concurrent
// put or touch simply serializes behind it.
func (s *Sweeper) Start(ctx context.Context, set string, bins ...string) (*Job, error) {
	if set == "" {
		return nil, &core.ValidationError{Op: "clean", Field: "set", Message: "must not be empty"}
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		id:     uuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var candidates map[string]struct{}
	if len(bins) > 0 {
		candidates = make(map[string]struct{}, len(bins))
		for _, b := range bins {
			candidates[b] = struct{}{}
		}
	}

	log := s.log.With("job_id", job.id.String(), "set", set)
	if err := s.hooks.Trigger(jobCtx, hooks.NewPreSweepEvent(hooks.SweepPayload{JobID: job.id.String(), Set: set})); err != nil {
		cancel()
		return nil, fmt.Errorf("sweep cancelled by hook: %w", err)
	}

	go func() {
		defer close(job.done)
		defer cancel()
		log.Info("Sweep started.", "candidate_bins", len(bins))

		err := s.store.Scan(jobCtx, set, func(key core.Key, rec core.Record, rerr error) (core.Record, bool, error) {
			job.visited.Add(1)
			if rerr != nil {
				// The record could not be loaded at all. Count it and
				// keep sweeping; one bad record must not end the pass.
				job.failed.Add(1)
				log.Warn("Skipping unreadable record during sweep.", "key", key.String(), "error", rerr)
				return nil, false, nil
			}
			expired := s.expiredBins(key, rec, candidates, job)
			if len(expired) == 0 {
				return nil, false, nil
			}
			for _, name := range expired {
				delete(rec, name)
			}
			job.removed.Add(uint64(len(expired)))
			if herr := s.hooks.Trigger(jobCtx, hooks.NewSweepRecordEvent(hooks.SweepRecordPayload{
				JobID:       job.id.String(),
				Key:         key,
				BinsRemoved: expired,
			})); herr != nil {
				log.Warn("Sweep record hook failed.", "key", key.String(), "error", herr)
			}
			return rec, true, nil
		})
		if err != nil {
			job.err.Store(&jobError{err: err})
			log.Warn("Sweep aborted.", "error", err)
		}

		counts := job.Counts()
		if herr := s.hooks.Trigger(context.WithoutCancel(jobCtx), hooks.NewPostSweepEvent(hooks.SweepPayload{
			JobID:          job.id.String(),
			Set:            set,
			RecordsVisited: counts.RecordsVisited,
			BinsRemoved:    counts.BinsRemoved,
			RecordsFailed:  counts.RecordsFailed,
		})); herr != nil {
			log.Warn("Post-sweep hook failed.", "error", herr)
		}
		log.Info("Sweep finished.",
			"records_visited", counts.RecordsVisited,
			"bins_removed", counts.BinsRemoved,
			"records_failed", counts.RecordsFailed)
	}()

	return job, nil
}

// expiredBins classifies the record's bins and returns the names to
// physically remove. A bin that cannot be decoded counts the record as
// failed and is left untouched.
func (s *Sweeper) expiredBins(key core.Key, rec core.Record, candidates map[string]struct{}, job *Job) []string {
	now := s.clock.Now()
	var expired []string
	failed := false
	for name, raw := range rec {
		if candidates != nil {
			if _, ok := candidates[name]; !ok {
				continue
			}
		}
		meta, err := codec.Inspect(raw)
		if err != nil {
			if !failed {
				job.failed.Add(1)
				failed = true
			}
			s.log.Warn("Skipping undecodable bin during sweep.", "key", key.String(), "bin", name, "error", err)
			continue
		}
		if meta.Expired(now) {
			expired = append(expired, name)
		}
	}
	return expired
}
