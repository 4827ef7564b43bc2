package types

// ScheduleWindow is a daily quiet/active window in HH:MM local time.
type ScheduleWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NotificationSettings mirrors the notification-settings endpoint: global
// email/push switches, a per-type enable map and an optional delivery
// schedule. The engine forwards these verbatim; enforcement is server-side.
type NotificationSettings struct {
	EmailEnabled bool                      `json:"email_enabled"`
	PushEnabled  bool                      `json:"push_enabled"`
	Types        map[NotificationType]bool `json:"types,omitempty"`
	Schedule     map[string]ScheduleWindow `json:"schedule,omitempty"`
}

// TypeEnabled reports whether a notification type is enabled. Types absent
// from the map default to enabled.
func (s *NotificationSettings) TypeEnabled(t NotificationType) bool {
	if s.Types == nil {
		return true
	}
	enabled, ok := s.Types[t]
	if !ok {
		return true
	}
	return enabled
}
