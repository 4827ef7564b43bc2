package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 100

// Bus is the in-process pub/sub fabric connecting the engine to app
// collaborators. Publishing never blocks: a subscriber that falls behind
// loses events rather than stalling the producer.
type Bus struct {
	log     *zap.SugaredLogger
	metrics *metrics
	bufSize int

	mu     sync.RWMutex
	subs   map[string]*busSubscription
	closed bool
}

type busSubscription struct {
	id      string
	bus     *Bus
	events  chan types.Event
	filters map[types.EventType]struct{}
	once    sync.Once
}

func (s *busSubscription) Events() <-chan types.Event { return s.events }

// Unsubscribe removes the subscription and closes its channel. Safe to
// call more than once.
func (s *busSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.events)
	})
}

func (s *busSubscription) wants(t types.EventType) bool {
	if len(s.filters) == 0 {
		return true
	}
	_, ok := s.filters[t]
	return ok
}

// NewBus creates an event bus with the given per-subscriber buffer size.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		log:     logger.GetLogger().Named("events"),
		metrics: newMetrics(),
		bufSize: bufSize,
		subs:    make(map[string]*busSubscription),
	}
}

// Publish validates the event, fills defaults, and fans it out to every
// matching subscriber.
func (b *Bus) Publish(ctx context.Context, event types.Event) error {
	start := time.Now()
	defer func() {
		b.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := event.Validate(); err != nil {
		b.metrics.errorCount.WithLabelValues("publish", "validation").Inc()
		return fmt.Errorf("invalid event: %w", err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is shut down")
	}

	b.metrics.eventCount.WithLabelValues("publish", string(event.Type)).Inc()

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			b.metrics.errorCount.WithLabelValues("publish", "subscriber_full").Inc()
			b.log.Warnw("Dropped event for slow subscriber",
				"subscriber", sub.id,
				"eventType", event.Type)
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given event types. No filters
// means all events.
func (b *Bus) Subscribe(ctx context.Context, filters ...types.EventType) (types.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is shut down")
	}

	sub := &busSubscription{
		id:     uuid.New().String(),
		bus:    b,
		events: make(chan types.Event, b.bufSize),
	}
	if len(filters) > 0 {
		sub.filters = make(map[types.EventType]struct{}, len(filters))
		for _, f := range filters {
			sub.filters[f] = struct{}{}
		}
	}

	b.subs[sub.id] = sub
	b.metrics.activeSubscribers.Inc()
	return sub, nil
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; ok {
		delete(b.subs, id)
		b.metrics.activeSubscribers.Dec()
	}
}

// Shutdown closes every subscription. Publishing after shutdown fails.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*busSubscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() {
			close(s.events)
		})
		b.metrics.activeSubscribers.Dec()
	}

	b.log.Infow("Event bus shut down", "subscribers", len(subs))
	return nil
}
