package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/google/uuid"
)

// Priority is the notification priority tier. Only PriorityHigh may trigger
// a native platform alert.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// NotificationType determines iconography and click-routing, both owned by
// UI collaborators. Unknown future types are carried through untouched; the
// payload decoder falls back to an opaque bag for them.
type NotificationType string

const (
	NotificationLessonReminder NotificationType = "lesson_reminder"
	NotificationFlashcardDue   NotificationType = "flashcard_due"
	NotificationAchievement    NotificationType = "achievement"
	NotificationReminder       NotificationType = "reminder"
	NotificationSystem         NotificationType = "system"
	NotificationActionRequired NotificationType = "action_required"
	NotificationTermsUpdate    NotificationType = "terms_update"
	NotificationStreakWarning  NotificationType = "streak_warning"
)

// Origin identifies which side created a notification, decoded from the ID
// prefix.
type Origin string

const (
	OriginServer  Origin = "server"
	OriginClient  Origin = "client"
	OriginUnknown Origin = "unknown"
)

// Action is a button rendered on a notification. The engine never executes
// actions itself.
type Action struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	ActionType string          `json:"action_type"`
	ActionData json.RawMessage `json:"action_data,omitempty"`
}

// Notification is the canonical record held by the store. Data carries the
// type-specific payload as raw JSON; use DecodePayload for typed access.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Priority  Priority         `json:"priority"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      json.RawMessage  `json:"data,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	Actions   []Action         `json:"actions,omitempty"`
}

// ServerID builds an origin-tagged ID for a server-created notification.
func ServerID(serverID string) string {
	return "server-" + serverID
}

// NewClientID builds an origin-tagged ID for a locally created notification.
// The timestamp keeps IDs roughly sortable; the random suffix makes them
// unique within a millisecond.
func NewClientID() string {
	return fmt.Sprintf("client-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Origin decodes the origin tag from the notification ID.
func (n *Notification) Origin() Origin {
	switch {
	case strings.HasPrefix(n.ID, "server-"):
		return OriginServer
	case strings.HasPrefix(n.ID, "client-"):
		return OriginClient
	default:
		return OriginUnknown
	}
}

// IsExpired reports whether the record is past its expiry at the given time.
// Records without ExpiresAt never expire.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// Validate checks the invariants every stored notification must hold.
func (n *Notification) Validate() error {
	if n.ID == "" {
		return errors.ValidationFailed("invalid notification", "notification ID is required")
	}
	if n.Type == "" {
		return errors.ValidationFailed("invalid notification", "notification type is required")
	}
	if n.CreatedAt.IsZero() {
		return errors.ValidationFailed("invalid notification", "created timestamp is required")
	}
	switch n.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return errors.ValidationFailed("invalid notification", fmt.Sprintf("unknown priority %q", n.Priority))
	}
	return nil
}

// Payload is the decoded form of a notification's Data field.
type Payload interface {
	payloadKind() NotificationType
}

// LessonReminderData is the payload for lesson_reminder notifications.
type LessonReminderData struct {
	LessonID string `json:"lessonId"`
	CourseID string `json:"courseId,omitempty"`
}

// FlashcardDueData is the payload for flashcard_due notifications.
type FlashcardDueData struct {
	DeckID   string `json:"deckId"`
	DueCount int    `json:"dueCount"`
}

// AchievementData is the payload for achievement notifications.
type AchievementData struct {
	AchievementID string `json:"achievementId"`
	Badge         string `json:"badge,omitempty"`
}

// ActionRequiredData is the payload for action_required and terms_update
// notifications.
type ActionRequiredData struct {
	ActionURL string `json:"action_url"`
}

// OpaqueData is the fallback payload for unknown or future notification
// types. The engine treats it as an uninterpreted bag.
type OpaqueData map[string]interface{}

func (LessonReminderData) payloadKind() NotificationType { return NotificationLessonReminder }
func (FlashcardDueData) payloadKind() NotificationType   { return NotificationFlashcardDue }
func (AchievementData) payloadKind() NotificationType    { return NotificationAchievement }
func (ActionRequiredData) payloadKind() NotificationType { return NotificationActionRequired }
func (OpaqueData) payloadKind() NotificationType         { return NotificationSystem }

// DecodePayload decodes raw payload JSON into the variant matching the
// notification type. Unknown types decode into OpaqueData rather than
// failing, so future server-side types never break handling.
func DecodePayload(t NotificationType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch t {
	case NotificationLessonReminder:
		var d LessonReminderData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.MalformedMessage(err)
		}
		return d, nil
	case NotificationFlashcardDue:
		var d FlashcardDueData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.MalformedMessage(err)
		}
		return d, nil
	case NotificationAchievement:
		var d AchievementData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.MalformedMessage(err)
		}
		return d, nil
	case NotificationActionRequired, NotificationTermsUpdate:
		var d ActionRequiredData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.MalformedMessage(err)
		}
		return d, nil
	default:
		var d OpaqueData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.MalformedMessage(err)
		}
		return d, nil
	}
}

// EncodePayload marshals a typed payload back into the Data wire form.
func EncodePayload(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, errors.ValidationError, "failed to encode payload")
	}
	return raw, nil
}
