package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/LinguaCrew/lingua-notify/config"
	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/internal/channel"
	"github.com/LinguaCrew/lingua-notify/internal/retry"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/store"
	"github.com/LinguaCrew/lingua-notify/types"
)

// BackendClient is the request-response surface the coordinator needs.
type BackendClient interface {
	List(ctx context.Context) ([]*types.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
	Heartbeat(ctx context.Context, payload types.HeartbeatPayload) error
	SetCredential(credential string)
}

// RealtimeChannel is the push connection surface the coordinator drives.
type RealtimeChannel interface {
	Connect(ctx context.Context, credential string) error
	Reconnect(ctx context.Context, credential string) error
	Close()
	State() channel.State
}

// AlertDisplayer shows native alerts. Implemented by push.Manager.
type AlertDisplayer interface {
	Display(ctx context.Context, alert types.Alert) error
}

// ChannelFactory builds the realtime channel with the coordinator's
// callbacks wired in.
type ChannelFactory func(onNotification func(*types.Notification), onStateChange func(channel.State)) RealtimeChannel

// Bus is the side-channel fabric the coordinator publishes on and
// receives producer inputs from.
type Bus interface {
	types.EventPublisher
	types.EventSubscriber
}

// Coordinator reconciles the realtime channel, client-origin events, and
// periodic resync into one deduplicated feed. It is the only writer of the
// store; every mutation passes through a single merge goroutine, so records
// land in strict arrival order.
type Coordinator struct {
	cfg        config.Config
	log        *zap.SugaredLogger
	metrics    *coordinatorMetrics
	store      store.NotificationStore
	api        BackendClient
	alerts     AlertDisplayer
	bus        Bus
	pool       *WorkerPool
	newChannel ChannelFactory

	ops      chan func()
	opsMu    sync.RWMutex
	loopDone chan struct{}

	mu          sync.Mutex
	initialized bool
	closed      bool
	ch          RealtimeChannel
	lastState   channel.State
	runCancel   context.CancelFunc
	producerSub types.Subscription

	sessionID  string
	errorCount atomic.Uint64
}

// NewCoordinator wires the coordinator. Initialize must run before any
// processing.
func NewCoordinator(cfg config.Config, st store.NotificationStore, api BackendClient, alerts AlertDisplayer, bus Bus, pool *WorkerPool, newChannel ChannelFactory) *Coordinator {
	bufSize := cfg.Sync.MergeBufferSize
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Coordinator{
		cfg:        cfg,
		log:        logger.GetLogger().Named("coordinator"),
		metrics:    newCoordinatorMetrics(),
		store:      st,
		api:        api,
		alerts:     alerts,
		bus:        bus,
		pool:       pool,
		newChannel: newChannel,
		ops:        make(chan func(), bufSize),
		loopDone:   make(chan struct{}),
		sessionID:  uuid.New().String(),
		lastState:  channel.StateDisconnected,
	}
}

// Initialize connects the channel, runs the initial resync, and starts the
// heartbeat and resync tickers. Calling it again is a no-op.
func (c *Coordinator) Initialize(ctx context.Context, credential string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is shut down")
	}
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.initialized = true

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.mu.Unlock()

	go c.mergeLoop()

	c.api.SetCredential(credential)

	ch := c.newChannel(c.ingest, c.onChannelState)
	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	// A failed connect is not fatal. Resync still populates the feed, and
	// the caller can Reconnect once the backend is reachable.
	if err := ch.Connect(ctx, credential); err != nil {
		c.errorCount.Add(1)
		c.log.Warnw("Realtime channel unavailable, relying on resync", "error", err)
	}

	if err := c.Resync(ctx); err != nil {
		c.errorCount.Add(1)
		c.log.Warnw("Initial resync failed", "error", err)
	}

	if err := c.subscribeProducers(runCtx); err != nil {
		cancel()
		return err
	}

	go c.runTickers(runCtx)

	c.log.Infow("Coordinator initialized", "sessionId", c.sessionID)
	return nil
}

func (c *Coordinator) initializedNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized && !c.closed
}

// mergeLoop is the single goroutine through which every store mutation
// flows.
func (c *Coordinator) mergeLoop() {
	defer close(c.loopDone)
	for op := range c.ops {
		op()
	}
}

// enqueue posts an operation to the merge loop and waits for it. The read
// lock keeps Shutdown from closing the channel under an in-flight send.
func (c *Coordinator) enqueue(op func()) error {
	c.opsMu.RLock()
	c.mu.Lock()
	if c.closed || !c.initialized {
		notReady := !c.initialized
		c.mu.Unlock()
		c.opsMu.RUnlock()
		if notReady {
			return fmt.Errorf("coordinator not initialized")
		}
		return fmt.Errorf("coordinator is shut down")
	}
	c.mu.Unlock()

	done := make(chan struct{})
	c.ops <- func() {
		defer close(done)
		op()
	}
	c.opsMu.RUnlock()
	<-done
	return nil
}

// ingest is the channel's push callback. Records are queued in arrival
// order; the merge loop preserves that order.
func (c *Coordinator) ingest(n *types.Notification) {
	if err := c.enqueue(func() { c.merge(n) }); err != nil {
		c.log.Warnw("Dropping pushed notification", "id", n.ID, "error", err)
	}
}

// merge applies one record to the store and fans out the outcome. Runs on
// the merge goroutine only.
func (c *Coordinator) merge(n *types.Notification) {
	created, err := c.store.Add(n)
	if err != nil {
		c.metrics.droppedRecords.Inc()
		c.errorCount.Add(1)
		c.log.Warnw("Rejected notification during merge", "id", n.ID, "error", err)
		return
	}

	if !created {
		// Duplicate ids update in place. No re-alert, no re-count.
		c.metrics.duplicateMerges.Inc()
		c.publish(types.EventTypeNotificationUpdated, n.ID)
		return
	}

	c.metrics.mergedTotal.WithLabelValues(string(n.Origin())).Inc()
	c.publish(types.EventTypeNotificationCreated, n.ID)

	if n.Priority == types.PriorityHigh && !n.IsRead {
		c.alert(n)
	}
}

// alert runs the dual-channel high-priority path: a native alert through
// the worker pool and a guaranteed inline event on the bus.
func (c *Coordinator) alert(n *types.Notification) {
	id, title, body := n.ID, n.Title, n.Message

	c.metrics.nativeAlerts.Inc()
	c.pool.Submit(Job{
		Name: "display-alert",
		Execute: func(ctx context.Context) error {
			err := c.alerts.Display(ctx, types.Alert{
				Title:              title,
				Body:               body,
				RequireInteraction: true,
			})
			if err == nil {
				c.publish(types.EventTypeAlertDisplayed, id)
				return nil
			}
			// Permission and capability misses fall back to the inline
			// event, which is already published.
			if errors.IsType(err, errors.PermissionDeniedError) || errors.IsType(err, errors.UnsupportedError) {
				return nil
			}
			return err
		},
	})

	c.metrics.inlineAlerts.Inc()
	c.publish(types.EventTypeInlineAlert, n.ID)
}

func (c *Coordinator) publish(eventType types.EventType, notificationID string) {
	payload, _ := json.Marshal(map[string]string{"notificationId": notificationID})
	if err := c.bus.Publish(context.Background(), types.Event{
		Type:    eventType,
		Source:  "coordinator",
		Payload: payload,
	}); err != nil {
		c.log.Debugw("Event publish failed", "eventType", eventType, "error", err)
	}
}

// CreateNotification inserts a client-origin notification. A missing ID
// gets a client-tagged one; missing priority defaults to medium.
func (c *Coordinator) CreateNotification(ctx context.Context, n *types.Notification) (string, error) {
	if n.ID == "" {
		n.ID = types.NewClientID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Priority == "" {
		n.Priority = types.PriorityMedium
	}
	if err := n.Validate(); err != nil {
		return "", err
	}

	if err := c.enqueue(func() { c.merge(n) }); err != nil {
		return "", err
	}
	return n.ID, nil
}

// CreateLessonReminder creates a local lesson reminder notification.
func (c *Coordinator) CreateLessonReminder(ctx context.Context, title, message string, data types.LessonReminderData) (string, error) {
	return c.createTyped(ctx, types.NotificationLessonReminder, types.PriorityMedium, title, message, data)
}

// CreateFlashcardDue creates a local flashcards-due notification.
func (c *Coordinator) CreateFlashcardDue(ctx context.Context, title, message string, data types.FlashcardDueData) (string, error) {
	return c.createTyped(ctx, types.NotificationFlashcardDue, types.PriorityMedium, title, message, data)
}

// CreateAchievement creates a local achievement notification.
func (c *Coordinator) CreateAchievement(ctx context.Context, title, message string, data types.AchievementData) (string, error) {
	return c.createTyped(ctx, types.NotificationAchievement, types.PriorityHigh, title, message, data)
}

func (c *Coordinator) createTyped(ctx context.Context, t types.NotificationType, priority types.Priority, title, message string, payload types.Payload) (string, error) {
	raw, err := types.EncodePayload(payload)
	if err != nil {
		return "", err
	}
	return c.CreateNotification(ctx, &types.Notification{
		Type:     t,
		Priority: priority,
		Title:    title,
		Message:  message,
		Data:     raw,
	})
}

// MarkRead updates the store synchronously and writes through to the
// backend asynchronously. Client-origin records have no backend
// counterpart, so only the local update happens.
func (c *Coordinator) MarkRead(ctx context.Context, id string) error {
	var markErr error
	if err := c.enqueue(func() { markErr = c.store.MarkRead(id) }); err != nil {
		return err
	}
	if markErr != nil {
		return markErr
	}

	c.publish(types.EventTypeNotificationRead, id)

	n := &types.Notification{ID: id}
	if n.Origin() == types.OriginServer {
		c.submitWriteThrough("mark-read", func(ctx context.Context) error {
			return c.api.MarkRead(ctx, serverSuffix(id))
		})
	}
	return nil
}

// MarkAllRead marks everything read locally and on the backend.
func (c *Coordinator) MarkAllRead(ctx context.Context) error {
	var markErr error
	if err := c.enqueue(func() { markErr = c.store.MarkAllRead() }); err != nil {
		return err
	}
	if markErr != nil {
		return markErr
	}

	c.publish(types.EventTypeNotificationRead, "")
	c.submitWriteThrough("mark-all-read", c.api.MarkAllRead)
	return nil
}

// Remove deletes one notification locally and on the backend.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	var rmErr error
	if err := c.enqueue(func() { rmErr = c.store.Remove(id) }); err != nil {
		return err
	}
	if rmErr != nil {
		return rmErr
	}

	c.publish(types.EventTypeNotificationUpdated, id)

	n := &types.Notification{ID: id}
	if n.Origin() == types.OriginServer {
		c.submitWriteThrough("delete", func(ctx context.Context) error {
			return c.api.Delete(ctx, serverSuffix(id))
		})
	}
	return nil
}

// Clear empties the feed locally and on the backend.
func (c *Coordinator) Clear(ctx context.Context) error {
	var clearErr error
	if err := c.enqueue(func() { clearErr = c.store.Clear() }); err != nil {
		return err
	}
	if clearErr != nil {
		return clearErr
	}

	c.publish(types.EventTypeNotificationsCleared, "")
	c.submitWriteThrough("delete-all", c.api.DeleteAll)
	return nil
}

// submitWriteThrough posts a backend write to the pool wrapped in the
// retry policy. Server ops are idempotent, so at-least-once is safe.
func (c *Coordinator) submitWriteThrough(name string, op func(ctx context.Context) error) {
	policy := c.retryPolicy()
	c.pool.Submit(Job{
		Name: name,
		Execute: func(ctx context.Context) error {
			err := policy.Do(ctx, name, op)
			// A backend 404 means the record is already gone there.
			if errors.IsType(err, errors.NotFoundError) {
				return nil
			}
			if err != nil {
				c.errorCount.Add(1)
			}
			return err
		},
	})
}

func (c *Coordinator) retryPolicy() retry.Policy {
	return retry.Policy{
		Backoff: retry.Backoff{
			Initial: c.cfg.Backoff.InitialDelay(),
			Max:     c.cfg.Backoff.MaxDelay(),
			Factor:  c.cfg.Backoff.Factor,
		},
		MaxAttempts: c.cfg.Backoff.MaxAttempts,
		Overall:     c.cfg.Backoff.OverallTimeout(),
		Monitor:     retry.AlwaysOnline{},
	}
}

// Resync fetches the authoritative list and merges every record. Missed
// channel windows are recovered here; merging is idempotent, so overlap
// with pushed records is harmless.
func (c *Coordinator) Resync(ctx context.Context) error {
	if !c.initializedNow() {
		return fmt.Errorf("coordinator not initialized")
	}

	var list []*types.Notification
	err := c.retryPolicy().Do(ctx, "resync", func(ctx context.Context) error {
		var err error
		list, err = c.api.List(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, n := range list {
		record := n
		if err := c.enqueue(func() { c.merge(record) }); err != nil {
			return err
		}
	}

	c.metrics.resyncsTotal.Inc()
	c.log.Debugw("Resync complete", "records", len(list))
	return nil
}

// heartbeat posts a liveness report. Failures are counted, never logged
// and never retried; a missed beat has no user-visible meaning.
func (c *Coordinator) heartbeat(ctx context.Context) {
	err := c.api.Heartbeat(ctx, types.HeartbeatPayload{
		SessionID:  c.sessionID,
		ErrorCount: c.errorCount.Load(),
		MetricFamilies: []string{
			"notify_merged_notifications_total",
			"notify_heartbeat_failures_total",
			"notify_worker_pool_queue_depth",
		},
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		c.metrics.heartbeatFailures.Inc()
		c.errorCount.Add(1)
	}
}

func (c *Coordinator) runTickers(ctx context.Context) {
	// A zero resync interval disables the periodic timer; the initial
	// resync has already run.
	var resyncCh <-chan time.Time
	if interval := c.cfg.Sync.ResyncInterval(); interval > 0 {
		resync := time.NewTicker(interval)
		defer resync.Stop()
		resyncCh = resync.C
	}
	heartbeat := time.NewTicker(c.cfg.Sync.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-resyncCh:
			if err := c.Resync(ctx); err != nil {
				c.errorCount.Add(1)
				c.log.Warnw("Periodic resync failed", "error", err)
			}
		case <-heartbeat.C:
			c.heartbeat(ctx)
		}
	}
}

// onChannelState triggers a resync when the channel comes back after an
// interruption, closing the window where pushes were missed.
func (c *Coordinator) onChannelState(s channel.State) {
	c.mu.Lock()
	prev := c.lastState
	c.lastState = s
	c.mu.Unlock()

	if s == channel.StateConnected && prev == channel.StateReconnecting {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.RequestTimeout())
			defer cancel()
			if err := c.Resync(ctx); err != nil {
				c.errorCount.Add(1)
				c.log.Warnw("Post-reconnect resync failed", "error", err)
			}
		}()
	}
}

// subscribeProducers listens for domain producer broadcasts and turns them
// into notifications.
func (c *Coordinator) subscribeProducers(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx,
		types.EventTypeLessonAccessed,
		types.EventTypeFlashcardsDue,
		types.EventTypeAchievementUnlocked,
	)
	if err != nil {
		return fmt.Errorf("subscribe producer events: %w", err)
	}

	c.mu.Lock()
	c.producerSub = sub
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				c.handleProducerEvent(ctx, event)
			}
		}
	}()
	return nil
}

func (c *Coordinator) handleProducerEvent(ctx context.Context, event types.Event) {
	switch event.Type {
	case types.EventTypeFlashcardsDue:
		var data types.FlashcardDueData
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			c.log.Warnw("Malformed flashcards-due payload", "error", err)
			return
		}
		title := "Flashcards due"
		message := fmt.Sprintf("%d cards are ready for review", data.DueCount)
		if _, err := c.CreateFlashcardDue(ctx, title, message, data); err != nil {
			c.log.Warnw("Failed to create flashcards-due notification", "error", err)
		}

	case types.EventTypeAchievementUnlocked:
		var data types.AchievementData
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			c.log.Warnw("Malformed achievement payload", "error", err)
			return
		}
		if _, err := c.CreateAchievement(ctx, "Achievement unlocked", "You earned a new badge", data); err != nil {
			c.log.Warnw("Failed to create achievement notification", "error", err)
		}

	case types.EventTypeLessonAccessed:
		// Accessing a lesson fulfills its pending reminders.
		var data types.LessonReminderData
		if err := json.Unmarshal(event.Payload, &data); err != nil {
			c.log.Warnw("Malformed lesson-accessed payload", "error", err)
			return
		}
		c.markLessonRemindersRead(ctx, data.LessonID)
	}
}

func (c *Coordinator) markLessonRemindersRead(ctx context.Context, lessonID string) {
	for _, n := range c.store.List() {
		if n.Type != types.NotificationLessonReminder || n.IsRead {
			continue
		}
		payload, err := types.DecodePayload(n.Type, n.Data)
		if err != nil {
			continue
		}
		reminder, ok := payload.(types.LessonReminderData)
		if !ok || reminder.LessonID != lessonID {
			continue
		}
		if err := c.MarkRead(ctx, n.ID); err != nil {
			c.log.Debugw("Failed to mark fulfilled reminder read", "id", n.ID, "error", err)
		}
	}
}

// Reconnect swaps the credential and re-establishes the channel, then
// resyncs to cover the gap.
func (c *Coordinator) Reconnect(ctx context.Context, credential string) error {
	if !c.initializedNow() {
		return fmt.Errorf("coordinator not initialized")
	}

	c.api.SetCredential(credential)

	c.mu.Lock()
	ch := c.ch
	c.mu.Unlock()
	if ch != nil {
		if err := ch.Reconnect(ctx, credential); err != nil {
			c.errorCount.Add(1)
			c.log.Warnw("Channel reconnect failed", "error", err)
		}
	}

	return c.Resync(ctx)
}

// Shutdown stops tickers and subscriptions, closes the channel, drains the
// merge loop, and shuts the pool down. The bus is owned by the caller.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	wasInitialized := c.initialized
	c.closed = true
	cancel := c.runCancel
	ch := c.ch
	sub := c.producerSub
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ch != nil {
		ch.Close()
	}
	if sub != nil {
		sub.Unsubscribe()
	}

	if wasInitialized {
		c.opsMu.Lock()
		close(c.ops)
		c.opsMu.Unlock()
		select {
		case <-c.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.pool.Shutdown(ctx); err != nil {
		return err
	}

	c.log.Infow("Coordinator shut down", "sessionId", c.sessionID)
	return nil
}

// UnreadCount exposes the live unread derivation.
func (c *Coordinator) UnreadCount() int { return c.store.UnreadCount() }

// List returns the current feed, most recent first.
func (c *Coordinator) List() []types.Notification { return c.store.List() }

// serverSuffix strips the origin tag for backend calls, which use raw
// server ids.
func serverSuffix(id string) string {
	const prefix = "server-"
	if len(id) > len(prefix) && id[:len(prefix)] == prefix {
		return id[len(prefix):]
	}
	return id
}
