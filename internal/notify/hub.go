package notify

import (
	"context"
	"log"
	"sync"
)

// DefaultHubBuffer is the per-subscriber channel capacity.
const DefaultHubBuffer = 64

// Hub is an in-process Subscriber that fans events out to channel
// listeners, one set per task. The HTTP server streams these as SSE.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewHub creates a Hub. buffer <= 0 selects DefaultHubBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe registers a listener for taskID ("" receives every task). The
// returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[taskID], ch)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Notify delivers evt without blocking. Listeners whose buffer is full miss
// the event.
func (h *Hub) Notify(ctx context.Context, evt Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, key := range []string{evt.TaskID, ""} {
		for ch := range h.subs[key] {
			select {
			case ch <- evt:
			default:
				log.Printf("notify: hub: listener for %q full, dropped %s", key, evt.Type)
			}
		}
		if evt.TaskID == "" {
			break
		}
	}
	return nil
}

// Listeners returns the number of registered listeners.
func (h *Hub) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}
