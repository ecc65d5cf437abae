package messaging

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnpath/learnpath/internal/domain/shared"
	"github.com/learnpath/learnpath/pkg/logger"
)

func newSyncBus(t *testing.T) *EventBus {
	t.Helper()
	bus := NewEventBus(Config{Synchronous: true, Logger: logger.Discard()})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) handle(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func TestEventBus_RoutesByType(t *testing.T) {
	bus := newSyncBus(t)

	var modules, all recorder
	require.NoError(t, bus.Subscribe(shared.EventModuleCompleted, modules.handle))
	require.NoError(t, bus.SubscribeAll(all.handle))

	require.NoError(t, bus.Publish(shared.NewModuleCompletedEvent("u-1", "basics", 3)))
	require.NoError(t, bus.Publish(shared.NewProgressResetEvent("u-1")))

	assert.Equal(t, []shared.EventType{shared.EventModuleCompleted}, modules.types())
	assert.Equal(t, []shared.EventType{shared.EventModuleCompleted, shared.EventProgressReset}, all.types())

	got := modules.events[0]
	assert.Equal(t, "u-1", got.AggregateID())
	assert.Equal(t, "basics", got.Payload()["module_id"])
	assert.Equal(t, float64(3), got.Payload()["snapshot_version"])
}

func TestEventBus_HandlerFailureDoesNotStopDelivery(t *testing.T) {
	bus := newSyncBus(t)

	var calls int
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return errors.New("still failing")
	}))

	require.NoError(t, bus.Publish(shared.NewProgressResetEvent("u-1")))
	require.NoError(t, bus.Publish(shared.NewProgressResetEvent("u-2")))
	assert.Equal(t, 2, calls)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Published[shared.EventProgressReset])
	assert.Equal(t, int64(2), snap.Failed[shared.EventProgressReset])
}

func TestEventBus_Closed(t *testing.T) {
	bus := NewEventBus(Config{Logger: logger.Discard()})
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewProgressResetEvent("u-1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestEventBus_RejectsNil(t *testing.T) {
	bus := newSyncBus(t)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)
	assert.ErrorIs(t, bus.Subscribe(shared.EventProgressReset, nil), ErrNilHandler)
}
