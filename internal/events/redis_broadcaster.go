package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// BroadcasterConfig holds Redis broadcast parameters.
type BroadcasterConfig struct {
	Channel         string
	PublishTimeout  time.Duration
	EventBufferSize int
}

// DefaultBroadcasterConfig returns production broadcast parameters.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		Channel:         "lingua:notifications",
		PublishTimeout:  5 * time.Second,
		EventBufferSize: DefaultBufferSize,
	}
}

// RedisBroadcaster mirrors bus events across process boundaries over
// Redis pub/sub, so companion processes on the same device observe the
// same feed changes. It is optional wiring; the in-process Bus works
// standalone.
type RedisBroadcaster struct {
	rdb     *redis.Client
	log     *zap.SugaredLogger
	metrics *metrics
	cfg     BroadcasterConfig

	mu   sync.Mutex
	subs map[string]*redisSubscription
	wg   sync.WaitGroup
}

type redisSubscription struct {
	id        string
	pubsub    *redis.PubSub
	events    chan types.Event
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *redisSubscription) Events() <-chan types.Event { return s.events }

func (s *redisSubscription) Unsubscribe() {
	s.cancel()
	s.closeOnce.Do(func() {
		_ = s.pubsub.Close()
	})
}

// NewRedisBroadcaster creates a broadcaster over the given Redis client.
func NewRedisBroadcaster(rdb *redis.Client, cfg ...BroadcasterConfig) *RedisBroadcaster {
	config := DefaultBroadcasterConfig()
	if len(cfg) > 0 {
		config = cfg[0]
	}
	return &RedisBroadcaster{
		rdb:     rdb,
		log:     logger.GetLogger().Named("redis_broadcaster"),
		metrics: newMetrics(),
		cfg:     config,
		subs:    make(map[string]*redisSubscription),
	}
}

// Publish broadcasts an event on the shared channel.
func (b *RedisBroadcaster) Publish(ctx context.Context, event types.Event) error {
	start := time.Now()
	defer func() {
		b.metrics.publishLatency.Observe(time.Since(start).Seconds())
	}()

	if err := event.Validate(); err != nil {
		b.metrics.errorCount.WithLabelValues("broadcast", "validation").Inc()
		return fmt.Errorf("invalid event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		b.metrics.errorCount.WithLabelValues("broadcast", "marshal").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.cfg.Channel, data).Err(); err != nil {
		b.metrics.errorCount.WithLabelValues("broadcast", "redis").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}

	b.metrics.eventCount.WithLabelValues("broadcast", string(event.Type)).Inc()
	return nil
}

// Subscribe listens for events broadcast by other processes.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, filters ...types.EventType) (types.Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, b.cfg.Channel)
	subCtx, cancel := context.WithCancel(context.Background())

	sub := &redisSubscription{
		id:     fmt.Sprintf("%s:%d", b.cfg.Channel, time.Now().UnixNano()),
		pubsub: pubsub,
		events: make(chan types.Event, b.cfg.EventBufferSize),
		cancel: cancel,
	}

	filterSet := make(map[types.EventType]struct{}, len(filters))
	for _, f := range filters {
		filterSet[f] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	b.metrics.activeSubscribers.Inc()

	b.wg.Add(1)
	go b.pump(subCtx, sub, filterSet)

	return sub, nil
}

func (b *RedisBroadcaster) pump(ctx context.Context, sub *redisSubscription, filters map[types.EventType]struct{}) {
	defer b.wg.Done()
	defer func() {
		sub.closeOnce.Do(func() {
			_ = sub.pubsub.Close()
		})
		close(sub.events)
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		b.metrics.activeSubscribers.Dec()
	}()

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event types.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.metrics.errorCount.WithLabelValues("receive", "unmarshal").Inc()
				b.log.Errorw("Failed to unmarshal broadcast event", "error", err)
				continue
			}

			if len(filters) > 0 {
				if _, ok := filters[event.Type]; !ok {
					continue
				}
			}

			select {
			case sub.events <- event:
				b.metrics.eventCount.WithLabelValues("receive", string(event.Type)).Inc()
			default:
				b.metrics.errorCount.WithLabelValues("receive", "channel_full").Inc()
				b.log.Warnw("Dropped broadcast event due to full channel", "eventType", event.Type)
			}
		}
	}
}

// Shutdown cancels every subscription and waits for the pumps to drain.
func (b *RedisBroadcaster) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	subs := make([]*redisSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.cancel()
	}
	b.wg.Wait()
	return nil
}
