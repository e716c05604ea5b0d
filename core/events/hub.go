package events

import "sync"

// Hub fans committed event records out to in-process subscribers. Slow
// subscribers lose events rather than stalling the pool; consumers that need
// a complete feed replay the persisted log using the sequence cursor.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Record
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Record)}
}

// Publish delivers a record to every subscriber without blocking.
func (h *Hub) Publish(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

// Subscribe registers a buffered subscription. The returned cancel func
// unregisters and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
