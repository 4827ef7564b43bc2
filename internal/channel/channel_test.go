package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/LinguaCrew/lingua-notify/internal/retry"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

func init() {
	logger.IsTest = true
}

type testServer struct {
	srv    *httptest.Server
	mu     sync.Mutex
	conns  []*websocket.Conn
	auths  []string
	accept func(w http.ResponseWriter, r *http.Request)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.auths = append(ts.auths, r.Header.Get("Authorization"))
		ts.mu.Unlock()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		// Keep the connection open; reads service control frames.
		ctx := r.Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) lastConn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ts.mu.Lock()
		n := len(ts.conns)
		var c *websocket.Conn
		if n > 0 {
			c = ts.conns[n-1]
		}
		ts.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no server-side connection")
	return nil
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.conns)
}

func fastConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.Backoff = retry.Backoff{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Factor: 2.0}
	cfg.MaxAttempts = 5
	cfg.PingInterval = time.Hour
	return cfg
}

func TestChannelReceivesNotifications(t *testing.T) {
	ts := newTestServer(t)

	received := make(chan *types.Notification, 4)
	ch := NewChannel(fastConfig(ts.url()), func(n *types.Notification) {
		received <- n
	}, nil)
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), "cred-1"))
	assert.Equal(t, StateConnected, ch.State())

	serverConn := ts.lastConn(t)
	err := wsjson.Write(context.Background(), serverConn, map[string]any{
		"type": "notification",
		"payload": map[string]any{
			"id":       "42",
			"type":     "achievement",
			"title":    "Streak!",
			"message":  "7 days in a row",
			"priority": "high",
		},
	})
	require.NoError(t, err)

	select {
	case n := <-received:
		assert.Equal(t, types.ServerID("42"), n.ID)
		assert.Equal(t, types.NotificationAchievement, n.Type)
		assert.Equal(t, types.PriorityHigh, n.Priority)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}

	ts.mu.Lock()
	auth := ts.auths[0]
	ts.mu.Unlock()
	assert.Equal(t, "Bearer cred-1", auth)
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	ts := newTestServer(t)

	received := make(chan *types.Notification, 4)
	ch := NewChannel(fastConfig(ts.url()), func(n *types.Notification) {
		received <- n
	}, nil)
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), "cred"))
	serverConn := ts.lastConn(t)

	// Missing id: dropped. Followed by a valid frame to prove the
	// connection survived.
	require.NoError(t, wsjson.Write(context.Background(), serverConn, map[string]any{
		"type":    "notification",
		"payload": map[string]any{"title": "no id"},
	}))
	require.NoError(t, wsjson.Write(context.Background(), serverConn, map[string]any{
		"type":    "notification",
		"payload": map[string]any{"id": "ok", "type": "system", "title": "t", "message": "m"},
	}))

	select {
	case n := <-received:
		assert.Equal(t, types.ServerID("ok"), n.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after malformed one was not delivered")
	}
	assert.Empty(t, received)
}

func TestChannelReconnectsAfterDrop(t *testing.T) {
	ts := newTestServer(t)

	states := make(chan State, 16)
	ch := NewChannel(fastConfig(ts.url()), func(*types.Notification) {}, func(s State) {
		states <- s
	})
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), "cred"))
	first := ts.lastConn(t)

	// Abnormal server-side close forces a reconnect.
	_ = first.Close(websocket.StatusInternalError, "boom")

	deadline := time.Now().Add(3 * time.Second)
	sawReconnecting := false
	for time.Now().Before(deadline) {
		select {
		case s := <-states:
			if s == StateReconnecting {
				sawReconnecting = true
			}
			if sawReconnecting && s == StateConnected {
				assert.GreaterOrEqual(t, ts.connCount(), 2)
				return
			}
		case <-time.After(100 * time.Millisecond):
		}
	}
	t.Fatal("channel did not reconnect")
}

func TestChannelReconnectWithNewCredential(t *testing.T) {
	ts := newTestServer(t)

	ch := NewChannel(fastConfig(ts.url()), func(*types.Notification) {}, nil)
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), "old-cred"))
	ts.lastConn(t)

	require.NoError(t, ch.Reconnect(context.Background(), "new-cred"))
	require.Eventually(t, func() bool { return ts.connCount() >= 2 }, 2*time.Second, 20*time.Millisecond)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, "Bearer old-cred", ts.auths[0])
	assert.Equal(t, "Bearer new-cred", ts.auths[len(ts.auths)-1])
}

func TestChannelConnectFailsWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch := NewChannel(fastConfig(url), func(*types.Notification) {}, nil)
	err := ch.Connect(context.Background(), "cred")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelCloseIsIdempotent(t *testing.T) {
	ts := newTestServer(t)

	ch := NewChannel(fastConfig(ts.url()), func(*types.Notification) {}, nil)
	require.NoError(t, ch.Connect(context.Background(), "cred"))

	ch.Close()
	ch.Close()
	assert.Equal(t, StateDisconnected, ch.State())

	// Closed channel stays down; no reconnect loop keeps running.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestChannelConnectIsIdempotentWhileConnected(t *testing.T) {
	ts := newTestServer(t)

	ch := NewChannel(fastConfig(ts.url()), func(*types.Notification) {}, nil)
	defer ch.Close()

	require.NoError(t, ch.Connect(context.Background(), "cred"))
	require.NoError(t, ch.Connect(context.Background(), "cred"))
	assert.Equal(t, 1, ts.connCount())
}
