package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Kind discriminates bus events.
type Kind string

const (
	KindMessage Kind = "message" // inbound application payload
	KindStatus  Kind = "status"  // connectivity status change
)

// Event is a single bus event.
type Event struct {
	Kind    Kind            `json:"kind"`
	Type    string          `json:"type,omitempty"`    // message type discriminator (KindMessage)
	Payload json.RawMessage `json:"payload,omitempty"` // verbatim inbound JSON (KindMessage)
	Status  string          `json:"status,omitempty"`  // connecting, connected, disconnected (KindStatus)
	At      time.Time       `json:"at"`
}

// Stats contains bus counters.
type Stats struct {
	Published   int64
	Delivered   int64
	Dropped     int64
	Subscribers int
}

// Bus fans events out to subscribers without blocking publishers.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	statsMu   sync.Mutex
	published int64
	delivered int64
	dropped   int64
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscription receives events from a Bus.
type Subscription struct {
	id    uint64
	bus   *Bus
	ch    chan Event
	kinds map[Kind]struct{}

	closeOnce sync.Once
}

// Subscribe registers a subscriber with the given channel buffer. If kinds
// is empty the subscriber receives every event.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, buffer),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub
}

// Events returns the subscriber's channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscriber and closes its channel.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) wants(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Publish delivers ev to every interested subscriber. Subscribers whose
// buffer is full miss the event. Returns the number of deliveries.
func (b *Bus) Publish(ev Event) int {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	delivered, dropped := 0, 0

	b.mu.RLock()
	for _, sub := range b.subs {
		if !sub.wants(ev.Kind) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			dropped++
		}
	}
	b.mu.RUnlock()

	if dropped > 0 {
		b.logger.Warn("bus subscriber buffer full, dropping event",
			"kind", ev.Kind,
			"type", ev.Type,
			"dropped", dropped,
		)
	}

	b.statsMu.Lock()
	b.published++
	b.delivered += int64(delivered)
	b.dropped += int64(dropped)
	b.statsMu.Unlock()

	return delivered
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return Stats{
		Published:   b.published,
		Delivered:   b.delivered,
		Dropped:     b.dropped,
		Subscribers: n,
	}
}
