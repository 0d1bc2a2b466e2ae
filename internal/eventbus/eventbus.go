// Package eventbus is the in-process pub/sub fan-out described in spec
// §4.6: one topic per course, a bounded channel per subscriber, and a
// publish that never blocks the registration service's critical section.
// The topic/subscription shape follows the modular in-memory event bus
// found in the pack, trimmed to the single delivery mode ("drop when
// full") this system's streaming gateway needs.
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/campusreg/registrar/internal/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity. A slow
// WebSocket consumer can fall behind by this many events before Publish
// starts dropping events destined for it.
const DefaultBufferSize = 64

// Subscription is a handle returned by Subscribe; Events delivers the
// topic's events and Unsubscribe detaches it.
type Subscription struct {
	id       string
	topic    string
	events   chan domain.RegistrationEvent
	bus      *Bus
	unsubbed bool
	mu       sync.Mutex
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan domain.RegistrationEvent { return s.events }

// Unsubscribe detaches the subscription and closes its channel. Safe to
// call more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubbed {
		return
	}
	s.unsubbed = true
	s.bus.remove(s)
	close(s.events)
}

// Bus fans out RegistrationEvents to per-course subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // topic -> subscriptionId -> sub

	statsMu  sync.Mutex
	delivered, dropped uint64
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string]map[string]*Subscription)}
}

// Topic returns the pub/sub topic name for a course.
func Topic(courseID string) string { return "course." + courseID }

// Subscribe registers a new subscriber for topic, returning a Subscription
// whose Events channel delivers future published events.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		topic:  topic,
		events: make(chan domain.RegistrationEvent, DefaultBufferSize),
		bus:    b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.topic]; ok {
		delete(set, sub.id)
		if len(set) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

// Publish fans event out to every subscriber of topic without blocking.
// Subscribers whose buffer is full do not receive the event; this is the
// "drop when full" delivery mode.
func (b *Bus) Publish(topic string, event domain.RegistrationEvent) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs[topic]))
	for _, s := range b.subs[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.events <- event:
			b.statsMu.Lock()
			b.delivered++
			b.statsMu.Unlock()
		default:
			b.statsMu.Lock()
			b.dropped++
			b.statsMu.Unlock()
		}
	}
}

// SubscriberCount reports how many subscriptions are active on topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Stats returns cumulative delivered/dropped counters, for diagnostics.
func (b *Bus) Stats() (delivered, dropped uint64) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.delivered, b.dropped
}
