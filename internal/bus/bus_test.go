package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	b := NewEventBus()
	received := make(chan Event, 1)

	b.Subscribe(EventTypeStageChanged, func(e Event) { received <- e })
	b.Publish(Event{Type: EventTypeStageChanged, Data: map[string]any{"to": "CODING"}})

	select {
	case e := <-received:
		assert.Equal(t, EventTypeStageChanged, e.Type)
		assert.Equal(t, "CODING", e.Data["to"])
	case <-time.After(time.Second):
		t.Fatal("expected event delivery")
	}
}

func TestEventBus_UnrelatedTypeNotDelivered(t *testing.T) {
	b := NewEventBus()
	received := make(chan Event, 1)

	b.Subscribe(EventTypeUploadFailed, func(e Event) { received <- e })
	b.PublishSync(Event{Type: EventTypeUploadFinished})

	assert.Empty(t, received)
}

func TestEventBus_PublishSyncWaitsForHandlers(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	var seen int
	for i := 0; i < 3; i++ {
		b.Subscribe(EventTypeIdleNudge, func(Event) {
			mu.Lock()
			seen++
			mu.Unlock()
		})
	}

	b.PublishSync(Event{Type: EventTypeIdleNudge})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, seen)
}

func TestEventBus_SubscribeAllSeesEveryType(t *testing.T) {
	b := NewEventBus()

	var mu sync.Mutex
	seen := map[EventType]bool{}
	b.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
	})

	for _, et := range []EventType{
		EventTypeSessionStarted, EventTypeRecordingDiscarded,
		EventTypePlaybackCancelled, EventTypeCodeSaved, EventTypeEngineError,
	} {
		b.PublishSync(Event{Type: et})
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 5)
}

func TestEventBus_ClearRemovesHandlers(t *testing.T) {
	b := NewEventBus()
	received := make(chan Event, 1)

	b.Subscribe(EventTypeCodeSaved, func(e Event) { received <- e })
	b.Clear()
	b.PublishSync(Event{Type: EventTypeCodeSaved})

	assert.Empty(t, received)
}
