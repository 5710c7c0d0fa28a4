package webrtc

import (
	"testing"

	"rillcall/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEventHub_PublishFansOut(t *testing.T) {
	hub := NewEventHub(zaptest.NewLogger(t).Sugar())
	a, cancelA := hub.Subscribe(1)
	b, cancelB := hub.Subscribe(1)
	defer cancelA()
	defer cancelB()

	hub.Publish(domain.Event{Type: domain.EventConnectionStateChanged, PeerID: "p1", State: domain.ConnectionStateConnected})

	for _, ch := range []<-chan domain.Event{a, b} {
		ev := <-ch
		assert.Equal(t, domain.EventConnectionStateChanged, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
	}
}

func TestEventHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewEventHub(zaptest.NewLogger(t).Sugar())
	ch, cancel := hub.Subscribe(1)
	defer cancel()

	hub.Publish(domain.Event{Type: domain.EventStatsUpdated})
	hub.Publish(domain.Event{Type: domain.EventRemoteStreamAdded})

	ev := <-ch
	assert.Equal(t, domain.EventStatsUpdated, ev.Type)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestEventHub_CancelIsIdempotent(t *testing.T) {
	hub := NewEventHub(zaptest.NewLogger(t).Sugar())
	ch, cancel := hub.Subscribe(0)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, hub.SubscriberCount())
}

func TestEventHub_CloseKeepsHubUsable(t *testing.T) {
	hub := NewEventHub(zaptest.NewLogger(t).Sugar())
	old, cancelOld := hub.Subscribe(1)

	hub.Close()
	_, open := <-old
	assert.False(t, open)
	cancelOld()

	fresh, cancel := hub.Subscribe(1)
	defer cancel()
	hub.Publish(domain.Event{Type: domain.EventICECandidateGathered})
	ev, ok := <-fresh
	require.True(t, ok)
	assert.Equal(t, "ice_candidate", ev.Type.String())
}
