package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/teamlead/internal/logging"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 256

// SnapshotFunc produces the full state sent to new subscribers.
type SnapshotFunc func() any

// Hub delivers events to any number of subscribers. Publishing never blocks:
// a subscriber that falls behind loses events and the drop is counted.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	snapshot SnapshotFunc
	closed   bool

	seq atomic.Uint64
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.OrDiscard(logger).With("component", "notify"),
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
}

// SetSnapshot installs the snapshot provider. It must not publish.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot = fn
}

// Publish stamps and delivers an event to every subscriber.
func (h *Hub) Publish(e Event) {
	e.Seq = h.seq.Add(1)
	if e.Time.IsZero() {
		e.Time = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.offer(e, h.logger)
	}
}

// Subscribe registers a subscriber. Its first event is a snapshot; events
// published while the snapshot is taken follow it.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{hub: h, ch: make(chan Event, buffer), pending: true}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	snapshot := h.snapshot
	h.mu.Unlock()

	var state any
	if snapshot != nil {
		state = snapshot()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return s
	}
	s.ch <- Event{Seq: h.seq.Load(), Type: EventSnapshot, Payload: state, Time: h.now()}
	s.pending = false
	for _, e := range s.backlog {
		s.offer(e, h.logger)
	}
	s.backlog = nil
	return s
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscription is one observer's event stream.
type Subscription struct {
	hub *Hub
	ch  chan Event

	// pending and backlog are guarded by hub.mu.
	pending bool
	backlog []Event

	dropped atomic.Uint64
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// offer must be called with hub.mu held.
func (s *Subscription) offer(e Event, logger *slog.Logger) {
	if s.pending {
		s.backlog = append(s.backlog, e)
		return
	}
	select {
	case s.ch <- e:
	default:
		count := s.dropped.Add(1)
		if count%10 == 1 {
			logger.Warn("subscriber falling behind, dropped event", "total_dropped", count, "type", e.Type)
		}
	}
}
