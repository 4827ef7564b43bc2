package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/LinguaCrew/lingua-notify/internal/retry"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// State describes the channel connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// Server-to-client frame types.
const (
	MessageTypeNotification = "notification"
	MessageTypeConnected    = "connected"
	MessageTypePong         = "pong"
)

// ServerMessage is the frame shape the realtime endpoint sends.
type ServerMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Config holds channel connection parameters.
type Config struct {
	URL          string
	PingInterval time.Duration
	WriteTimeout time.Duration
	Backoff      retry.Backoff
	MaxAttempts  int
	Monitor      retry.NetworkMonitor
}

// DefaultConfig returns production connection parameters.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		Backoff:      retry.DefaultBackoff(),
		MaxAttempts:  5,
		Monitor:      retry.AlwaysOnline{},
	}
}

// Channel maintains a realtime connection to the backend and surfaces
// pushed notifications through a callback. It reconnects on its own with
// exponential backoff; callers only restart it after the attempts are
// fully exhausted.
type Channel struct {
	cfg Config
	log *zap.SugaredLogger

	onNotification func(*types.Notification)
	onStateChange  func(State)

	mu         sync.Mutex
	state      State
	credential string
	conn       *websocket.Conn
	cancel     context.CancelFunc
	generation int
}

// NewChannel creates a channel in the disconnected state. onNotification
// is invoked for every well-formed pushed record; onStateChange may be nil.
func NewChannel(cfg Config, onNotification func(*types.Notification), onStateChange func(State)) *Channel {
	if cfg.Monitor == nil {
		cfg.Monitor = retry.AlwaysOnline{}
	}
	return &Channel{
		cfg:            cfg,
		log:            logger.GetLogger().Named("channel"),
		onNotification: onNotification,
		onStateChange:  onStateChange,
		state:          StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()

	c.log.Infow("Channel state changed", "state", s)
	if cb != nil {
		cb(s)
	}
}

// Connect establishes the realtime connection and starts the read and
// keepalive loops. It returns once the connection is up; the loops run
// until Close or an unrecoverable failure.
func (c *Channel) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.credential = credential
	c.generation++
	gen := c.generation
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	if cb := c.onStateChange; cb != nil {
		cb(StateConnecting)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		cancel()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.run(runCtx, gen, conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()

	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}

	c.log.Debugw("Dialing realtime endpoint",
		"url", c.cfg.URL,
		"credential", logger.MaskCredential(credential))
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	return conn, err
}

// run drives one connection and all its reconnect attempts. A new
// generation started by Reconnect supersedes this one.
func (c *Channel) run(ctx context.Context, gen int, conn *websocket.Conn) {
	for {
		err := c.serve(ctx, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ctx.Err() != nil || c.isSuperseded(gen) {
			return
		}

		status := websocket.CloseStatus(err)
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			c.setState(StateDisconnected)
			return
		}

		c.log.Warnw("Channel connection lost, reconnecting", "error", err)
		c.setState(StateReconnecting)

		conn = c.redial(ctx, gen)
		if conn == nil {
			if ctx.Err() == nil && !c.isSuperseded(gen) {
				c.setState(StateDisconnected)
			}
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
	}
}

// redial retries the dial with backoff. Returns nil when the attempts are
// exhausted or the context is done.
func (c *Channel) redial(ctx context.Context, gen int) *websocket.Conn {
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		delay := c.cfg.Backoff.Delay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		if err := c.cfg.Monitor.WaitOnline(ctx); err != nil {
			return nil
		}
		if c.isSuperseded(gen) {
			return nil
		}

		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		c.log.Debugw("Reconnect attempt failed",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
	}
	c.log.Errorw("Channel reconnect attempts exhausted", "attempts", c.cfg.MaxAttempts)
	return nil
}

func (c *Channel) isSuperseded(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != gen
}

// serve runs the read and keepalive loops until one fails.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	errCh := make(chan error, 2)
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { errCh <- c.readLoop(loopCtx, conn) }()
	go func() { errCh <- c.pingLoop(loopCtx, conn) }()

	return <-errCh
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg ServerMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return err
		}
		c.handleMessage(msg)
	}
}

func (c *Channel) handleMessage(msg ServerMessage) {
	switch msg.Type {
	case MessageTypeNotification:
		var wire types.WireNotification
		if err := json.Unmarshal(msg.Payload, &wire); err != nil {
			c.log.Warnw("Dropping undecodable notification frame", "error", err)
			return
		}
		n, err := wire.Normalize()
		if err != nil {
			c.log.Warnw("Dropping malformed notification frame", "error", err)
			return
		}
		c.onNotification(n)

	case MessageTypeConnected, MessageTypePong:
		// Control frames carry no payload we act on.

	default:
		c.log.Debugw("Unknown frame type from server", "type", msg.Type)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// Reconnect tears down the current connection and dials again with a
// fresh credential. Used after a credential refresh.
func (c *Channel) Reconnect(ctx context.Context, credential string) error {
	c.Close()
	return c.Connect(ctx, credential)
}

// Close shuts the connection down and stops all loops. Safe to call in
// any state.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	conn := c.conn
	c.conn = nil
	alreadyDown := c.state == StateDisconnected
	c.state = StateDisconnected
	cb := c.onStateChange
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
	if !alreadyDown {
		c.log.Infow("Channel state changed", "state", StateDisconnected)
		if cb != nil {
			cb(StateDisconnected)
		}
	}
}
