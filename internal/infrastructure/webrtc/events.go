package webrtc

import (
	"sync"
	"time"

	"rillcall/internal/core/domain"

	"go.uber.org/zap"
)

const defaultEventBuffer = 32

// EventHub fans manager events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type EventHub struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	logger *zap.SugaredLogger
}

func NewEventHub(logger *zap.SugaredLogger) *EventHub {
	return &EventHub{
		subs:   make(map[int]chan domain.Event),
		logger: logger,
	}
}

// Subscribe returns an event channel and a function that unsubscribes and
// closes it.
func (h *EventHub) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan domain.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *EventHub) Publish(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debugw("Dropping event for slow subscriber",
				"event", event.Type.String(),
				"peer_id", event.PeerID,
			)
		}
	}
}

// SubscriberCount reports live subscriptions.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every current subscription. The hub stays usable.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
