package api

import (
	"sync"

	"danmuget/internal/domain"
)

// Hub fans task events out to status-server subscribers. Slow
// subscribers drop events rather than stalling the run.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan domain.TaskEvent]struct{}
	closed bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan domain.TaskEvent]struct{})}
}

// Publish delivers event to every current subscriber.
func (h *Hub) Publish(event domain.TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned cancel function must
// be called when the listener goes away.
func (h *Hub) Subscribe() (<-chan domain.TaskEvent, func()) {
	ch := make(chan domain.TaskEvent, 64)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
}

// Close ends every subscription; subsequent Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub)
		delete(h.subs, sub)
	}
}
