// Package hooks lets operators observe and veto engine operations.
// "Pre" listeners run before the storage transaction and may cancel it
// by returning an error; "Post" listeners run after commit and their
// errors are only logged.
package hooks

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/INLOpen/expirebin/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	EventPrePut      EventType = "PrePut"
	EventPostPut     EventType = "PostPut"
	EventPreTouch    EventType = "PreTouch"
	EventPostTouch   EventType = "PostTouch"
	EventPreSweep    EventType = "PreSweep"
	EventPostSweep   EventType = "PostSweep"
	EventSweepRecord EventType = "SweepRecord"
)

// HookEvent is the interface all event objects implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PutPayload describes a single-bin or batched put. Bins maps bin name
// to the requested ttl; a nil entry means the ttl was omitted.
type PutPayload struct {
	Key  core.Key
	Bins map[string]*int64
	// Error is the outcome; set only on Post events.
	Error error
}

func NewPrePutEvent(p PutPayload) HookEvent  { return &BaseEvent{eventType: EventPrePut, payload: p} }
func NewPostPutEvent(p PutPayload) HookEvent { return &BaseEvent{eventType: EventPostPut, payload: p} }

// TouchPayload describes a touch batch.
type TouchPayload struct {
	Key  core.Key
	Bins map[string]*int64
	// Error is the outcome; set only on Post events.
	Error error
}

func NewPreTouchEvent(p TouchPayload) HookEvent {
	return &BaseEvent{eventType: EventPreTouch, payload: p}
}

func NewPostTouchEvent(p TouchPayload) HookEvent {
	return &BaseEvent{eventType: EventPostTouch, payload: p}
}

// SweepPayload describes a sweep job boundary event.
type SweepPayload struct {
	JobID string
	Set   string
	// Completion counters; set only on Post events.
	RecordsVisited uint64
	BinsRemoved    uint64
	RecordsFailed  uint64
}

func NewPreSweepEvent(p SweepPayload) HookEvent {
	return &BaseEvent{eventType: EventPreSweep, payload: p}
}

func NewPostSweepEvent(p SweepPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSweep, payload: p}
}

// SweepRecordPayload describes one record visit that removed bins.
type SweepRecordPayload struct {
	JobID       string
	Key         core.Key
	BinsRemoved []string
}

func NewSweepRecordEvent(p SweepRecordPayload) HookEvent {
	return &BaseEvent{eventType: EventSweepRecord, payload: p}
}

// HookListener receives triggered events. Returning an error from a
// Pre event cancels the operation; Post event errors are logged only.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners; lower runs first.
	Priority() int
}

// HookManager registers listeners and fires events at them.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	Trigger(ctx context.Context, event HookEvent) error
}

// DefaultHookManager is the synchronous HookManager implementation.
type DefaultHookManager struct {
	mu        sync.RWMutex
	listeners map[EventType][]HookListener
	logger    *slog.Logger
}

var _ HookManager = (*DefaultHookManager)(nil)

// NewHookManager creates an empty manager.
func NewHookManager(logger *slog.Logger) *DefaultHookManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]HookListener),
		logger:    logger.With("component", "HookManager"),
	}
}

func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := append(m.listeners[eventType], listener)
	sort.SliceStable(ls, func(i, j int) bool { return ls[i].Priority() < ls[j].Priority() })
	m.listeners[eventType] = ls
}

func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	ls := m.listeners[event.Type()]
	m.mu.RUnlock()

	cancellable := isPreEvent(event.Type())
	for _, l := range ls {
		if err := l.OnEvent(ctx, event); err != nil {
			if cancellable {
				return err
			}
			m.logger.Warn("Post hook listener failed.", "event", string(event.Type()), "error", err)
		}
	}
	return nil
}

func isPreEvent(t EventType) bool {
	switch t {
	case EventPrePut, EventPreTouch, EventPreSweep:
		return true
	default:
		return false
	}
}

// NoopHookManager discards all registrations and events.
type NoopHookManager struct{}

var _ HookManager = (*NoopHookManager)(nil)

func (NoopHookManager) Register(EventType, HookListener)         {}
func (NoopHookManager) Trigger(context.Context, HookEvent) error { return nil }
