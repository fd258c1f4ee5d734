// Package events delivers committed protocol events to in-process
// subscribers, websocket clients and a Redis stream.
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
	"github.com/davidleathers/guardian-recovery/internal/service/protocol"
)

// Filter selects the events a subscriber receives. A nil Filter accepts all.
type Filter func(events.Event) bool

// ByTypes accepts events whose type is listed
func ByTypes(types ...events.Type) Filter {
	set := make(map[events.Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e events.Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// BySubject accepts events about one subject
func BySubject(subject string) Filter {
	return func(e events.Event) bool { return e.Subject == subject }
}

// All combines filters; every non-nil filter must accept
func All(filters ...Filter) Filter {
	return func(e events.Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Subscription is a buffered event feed. C is closed by Close or by Bus.Close.
type Subscription struct {
	C <-chan events.Event

	id     uint64
	ch     chan events.Event
	filter Filter
	bus    *Bus
	once   sync.Once
}

// Close detaches the subscription from its bus
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

var _ protocol.EventPublisher = (*Bus)(nil)

// Bus fans events out to subscribers without blocking the publisher.
// A subscriber whose buffer is full loses the event.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Int64
	logger  *zap.Logger
}

func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger.Named("event_bus"),
	}
}

func (b *Bus) Publish(_ context.Context, e events.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.Uint64("subscription", s.id),
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID.String()))
		}
	}
}

// Subscribe registers a feed. On a closed bus the feed is already closed.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	ch := make(chan events.Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, filter: filter, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	s, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

// Dropped is the number of deliveries lost to full buffers
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers is the number of open subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, s := range b.subs {
		s.close()
		delete(b.subs, id)
	}
}

// Fanout publishes to several publishers in order
type Fanout []protocol.EventPublisher

func (f Fanout) Publish(ctx context.Context, e events.Event) {
	for _, p := range f {
		p.Publish(ctx, e)
	}
}
