package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	sub := bus.Subscribe()
	defer sub.Cancel()

	bus.Publish(New(TypeMessage, "s1", map[string]any{"n": 1}))
	bus.Publish(New(TypeStream, "s1", map[string]any{"n": 2}))

	first := receive(t, sub.C)
	second := receive(t, sub.C)
	assert.Equal(t, TypeMessage, first.Type)
	assert.Equal(t, TypeStream, second.Type)
}

func TestBusTypeFilter(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	sub := bus.Subscribe(TypeToolCall)
	defer sub.Cancel()

	bus.Publish(New(TypeMessage, "s1", nil))
	bus.Publish(New(TypeToolCall, "s1", map[string]any{"name": "calc"}))

	event := receive(t, sub.C)
	assert.Equal(t, TypeToolCall, event.Type)
	assert.Equal(t, "calc", event.Data["name"])

	select {
	case extra := <-sub.C:
		t.Fatalf("unexpected event %v", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	a := bus.Subscribe(TypeMessage)
	b := bus.Subscribe(TypeMessage)
	defer a.Cancel()
	defer b.Cancel()

	bus.Publish(New(TypeMessage, "s1", nil))

	assert.Equal(t, "s1", receive(t, a.C).SessionID)
	assert.Equal(t, "s1", receive(t, b.C).SessionID)
}

func TestBusCancelStopsDelivery(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Cancel()

	// The channel is closed on cancel; a closed receive returns immediately.
	for range sub.C {
	}

	// Publishing after cancel must not panic.
	bus.Publish(New(TypeMessage, "s1", nil))
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(16)
	sub := bus.Subscribe()
	bus.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			require.Fail(t, "subscriber channel never closed")
		}
	}
}
