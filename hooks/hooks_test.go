package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/expirebin/core"
)

type stubListener struct {
	priority int
	err      error
	calls    *[]int
}

func (l *stubListener) OnEvent(context.Context, HookEvent) error {
	if l.calls != nil {
		*l.calls = append(*l.calls, l.priority)
	}
	return l.err
}

func (l *stubListener) Priority() int { return l.priority }

func TestListenersRunInPriorityOrder(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPostPut, &stubListener{priority: 30, calls: &calls})
	m.Register(EventPostPut, &stubListener{priority: 10, calls: &calls})
	m.Register(EventPostPut, &stubListener{priority: 20, calls: &calls})

	err := m.Trigger(context.Background(), NewPostPutEvent(PutPayload{Key: core.Key{Set: "s", PK: "p"}}))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, calls)
}

func TestPreEventErrorCancels(t *testing.T) {
	m := NewHookManager(nil)
	boom := errors.New("veto")
	var calls []int
	m.Register(EventPrePut, &stubListener{priority: 1, err: boom, calls: &calls})
	m.Register(EventPrePut, &stubListener{priority: 2, calls: &calls})

	err := m.Trigger(context.Background(), NewPrePutEvent(PutPayload{}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, calls, "a veto must stop the chain")
}

func TestPostEventErrorIsSwallowed(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPostSweep, &stubListener{priority: 1, err: errors.New("logged only"), calls: &calls})
	m.Register(EventPostSweep, &stubListener{priority: 2, calls: &calls})

	err := m.Trigger(context.Background(), NewPostSweepEvent(SweepPayload{JobID: "j"}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, calls, "post listeners all run despite errors")
}

func TestTriggerWithoutListeners(t *testing.T) {
	m := NewHookManager(nil)
	assert.NoError(t, m.Trigger(context.Background(), NewPreTouchEvent(TouchPayload{})))
}

func TestListenersOnlyReceiveTheirEventType(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPrePut, &stubListener{priority: 1, calls: &calls})

	require.NoError(t, m.Trigger(context.Background(), NewPostPutEvent(PutPayload{})))
	assert.Empty(t, calls)
}

func TestEventAccessors(t *testing.T) {
	payload := SweepRecordPayload{JobID: "j", Key: core.Key{Set: "s", PK: "p"}, BinsRemoved: []string{"a"}}
	e := NewSweepRecordEvent(payload)
	assert.Equal(t, EventSweepRecord, e.Type())
	assert.Equal(t, payload, e.Payload())
}

func TestNoopHookManager(t *testing.T) {
	var m NoopHookManager
	m.Register(EventPrePut, &stubListener{priority: 1})
	assert.NoError(t, m.Trigger(context.Background(), NewPrePutEvent(PutPayload{})))
}
