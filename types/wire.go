package types

import (
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
)

// WireAction is the action envelope as transmitted by the server.
type WireAction struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	ActionType string                 `json:"action_type"`
	ActionData map[string]interface{} `json:"action_data,omitempty"`
}

// WireNotification is the envelope shared by the realtime channel and the
// resync list endpoint, one record per notification.
type WireNotification struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Priority  string                 `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt string                 `json:"created_at"`
	ExpiresAt string                 `json:"expires_at,omitempty"`
	Actions   []WireAction           `json:"actions,omitempty"`
}

// Normalize converts a wire envelope into the canonical Notification shape.
// A missing ID is a malformed message. Unknown priorities degrade to medium
// and unknown types are carried through; both are tolerated because the
// server may be newer than this client.
func (w *WireNotification) Normalize() (*Notification, error) {
	if w.ID == "" {
		return nil, errors.New(errors.MalformedMessageError, "Malformed channel message", "missing notification id")
	}

	n := &Notification{
		ID:       ServerID(w.ID),
		Type:     NotificationType(w.Type),
		Title:    w.Title,
		Message:  w.Message,
		IsRead:   w.IsRead,
		Priority: normalizePriority(w.Priority),
	}
	if n.Type == "" {
		n.Type = NotificationSystem
	}

	// The server already sends origin-tagged ids during resync; avoid
	// double-tagging replayed records.
	if hasOriginTag(w.ID) {
		n.ID = w.ID
	}

	if w.CreatedAt != "" {
		createdAt, err := time.Parse(time.RFC3339, w.CreatedAt)
		if err != nil {
			return nil, errors.MalformedMessage(err)
		}
		n.CreatedAt = createdAt
	} else {
		n.CreatedAt = time.Now().UTC()
	}

	if w.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, w.ExpiresAt)
		if err != nil {
			return nil, errors.MalformedMessage(err)
		}
		n.ExpiresAt = &expiresAt
	}

	if len(w.Data) > 0 {
		raw, err := EncodePayload(OpaqueData(w.Data))
		if err != nil {
			return nil, errors.MalformedMessage(err)
		}
		n.Data = raw
	}

	for _, wa := range w.Actions {
		action := Action{
			ID:         wa.ID,
			Label:      wa.Label,
			ActionType: wa.ActionType,
		}
		if len(wa.ActionData) > 0 {
			raw, err := EncodePayload(OpaqueData(wa.ActionData))
			if err != nil {
				return nil, errors.MalformedMessage(err)
			}
			action.ActionData = raw
		}
		n.Actions = append(n.Actions, action)
	}

	return n, nil
}

func normalizePriority(p string) Priority {
	switch Priority(p) {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return Priority(p)
	default:
		return PriorityMedium
	}
}

func hasOriginTag(id string) bool {
	n := Notification{ID: id}
	return n.Origin() != OriginUnknown
}
