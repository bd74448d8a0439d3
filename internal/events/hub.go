// Package events is an in-memory pub/sub for bridge activity. Late subscribers
// can replay recent events from a fixed-size ring buffer.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// subscriberBuffer is the per-subscriber channel depth. Events are dropped for
// subscribers that fall further behind.
const subscriberBuffer = 128

// Event is one published notification. Data holds the JSON payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub fans events out to subscribers and remembers the most recent ones.
type Hub struct {
	nextID atomic.Int64

	mu     sync.Mutex
	recent []Event
	head   int
	count  int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub creates a Hub remembering up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[int]chan Event),
	}
}

// Publish records an event and delivers it to every subscriber without blocking.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.remember(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// SnapshotSince returns remembered events with ID > lastID, oldest first.
// lastID 0 returns everything remembered.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) remember(ev Event) {
	size := len(h.recent)
	if h.count < size {
		h.recent[(h.head+h.count)%size] = ev
		h.count++
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % size
}
