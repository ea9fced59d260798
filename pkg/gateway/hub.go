package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Event is one real-time notification on a channel.
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Subscription receives events for one channel until closed.
type Subscription struct {
	Channel string
	C       <-chan Event

	ch     chan Event
	hub    *Hub
	once   sync.Once
	closed chan struct{}
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.closed }

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.closed)
	})
}

// Hub is the in-process fan-out point. Slow subscribers lose events
// rather than stall publishers; clients recover through a listing fetch.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped uint64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe(channel string) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{Channel: channel, C: ch, ch: ch, hub: h, closed: make(chan struct{})}
	h.mu.Lock()
	set, ok := h.subs[channel]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[channel] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[s.Channel]
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.Channel)
	}
}

// Publish delivers ev to every current subscriber of channel and returns
// how many received it.
func (h *Hub) Publish(channel string, ev Event) int {
	ev.Channel = channel
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.subs[channel] {
		select {
		case s.ch <- ev:
			n++
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
	return n
}

// Subscribers reports the subscriber count of a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *Hub) Dropped() uint64 { return atomic.LoadUint64(&h.dropped) }
