package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// Requires a reachable Redis; set REDIS_TEST_ADDR to enable.
func newTestBroadcaster(t *testing.T) *RedisBroadcaster {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	logger.IsTest = true
	resetMetricsForTesting()

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rdb.Ping(ctx).Err())

	cfg := DefaultBroadcasterConfig()
	cfg.Channel = "lingua:test:" + uuid.New().String()

	b := NewRedisBroadcaster(rdb, cfg)
	t.Cleanup(func() {
		_ = b.Shutdown(context.Background())
		_ = rdb.Close()
	})
	return b
}

func TestRedisBroadcasterRoundTrip(t *testing.T) {
	b := newTestBroadcaster(t)

	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Subscription establishment is asynchronous.
	time.Sleep(200 * time.Millisecond)

	event := types.Event{
		ID:        uuid.New().String(),
		Type:      types.EventTypeNotificationCreated,
		Timestamp: time.Now().UTC(),
		Source:    "test",
		Payload:   json.RawMessage(`{"id":"server-1"}`),
	}
	require.NoError(t, b.Publish(context.Background(), event))

	select {
	case got := <-sub.Events():
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, event.Type, got.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast event not received")
	}
}

func TestRedisBroadcasterFilter(t *testing.T) {
	b := newTestBroadcaster(t)

	sub, err := b.Subscribe(context.Background(), types.EventTypeNotificationRead)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	time.Sleep(200 * time.Millisecond)

	created := types.Event{ID: uuid.New().String(), Type: types.EventTypeNotificationCreated, Timestamp: time.Now(), Source: "test"}
	read := types.Event{ID: uuid.New().String(), Type: types.EventTypeNotificationRead, Timestamp: time.Now(), Source: "test"}
	require.NoError(t, b.Publish(context.Background(), created))
	require.NoError(t, b.Publish(context.Background(), read))

	select {
	case got := <-sub.Events():
		assert.Equal(t, types.EventTypeNotificationRead, got.Type)
	case <-time.After(3 * time.Second):
		t.Fatal("filtered event not received")
	}
	assert.Empty(t, sub.Events())
}

func TestRedisBroadcasterRejectsInvalidEvent(t *testing.T) {
	logger.IsTest = true
	resetMetricsForTesting()
	b := NewRedisBroadcaster(nil)
	assert.Error(t, b.Publish(context.Background(), types.Event{}))
}
