package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
)

// EventType identifies a side-channel broadcast on the engine's event bus.
type EventType string

const (
	CategoryNotification = "NOTIFICATION"
	CategoryAlert        = "ALERT"
	CategoryProducer     = "PRODUCER"
)

const (
	// Events emitted by the engine for ambient collaborators.
	EventTypeNotificationCreated  EventType = CategoryNotification + "_CREATED"
	EventTypeNotificationUpdated  EventType = CategoryNotification + "_UPDATED"
	EventTypeNotificationRead     EventType = CategoryNotification + "_READ"
	EventTypeNotificationsCleared EventType = CategoryNotification + "_CLEARED"

	// Alert events. INLINE_ALERT is the guaranteed on-screen half of the
	// dual-channel high-priority path.
	EventTypeAlertDisplayed EventType = CategoryAlert + "_DISPLAYED"
	EventTypeInlineAlert    EventType = CategoryAlert + "_INLINE"

	// Producer inputs: broadcasts from out-of-scope domain producers that
	// the engine listens for and turns into notifications.
	EventTypeLessonAccessed      EventType = "LESSON_ACCESSED"
	EventTypeFlashcardsDue       EventType = "FLASHCARDS_DUE"
	EventTypeAchievementUnlocked EventType = "ACHIEVEMENT_UNLOCKED"
)

// Event is a typed side-channel broadcast.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks an event before publication.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.ValidationFailed("invalid event", "event ID is required")
	}
	if e.Type == "" {
		return errors.ValidationFailed("invalid event", "event type is required")
	}
	if e.Timestamp.IsZero() {
		return errors.ValidationFailed("invalid event", "timestamp is required")
	}
	return nil
}

// EventPublisher publishes side-channel events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber delivers filtered events to a subscriber channel. The
// returned Subscription makes cancellation structural: dropping the channel
// without calling Unsubscribe leaks nothing once Unsubscribe runs.
type EventSubscriber interface {
	Subscribe(ctx context.Context, filters ...EventType) (Subscription, error)
}

// Subscription is a live event subscription with an explicit detach handle.
type Subscription interface {
	Events() <-chan Event
	Unsubscribe()
}
