package types

import "time"

// DeviceType identifies the platform a push endpoint belongs to.
type DeviceType string

const (
	DeviceTypeWeb     DeviceType = "web"
	DeviceTypeIOS     DeviceType = "ios"
	DeviceTypeAndroid DeviceType = "android"
)

// PushEndpoint is the endpoint descriptor yielded by the platform's push
// subscription call, forwarded verbatim to the device-token endpoint.
type PushEndpoint struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys,omitempty"`
}

// DeviceTokenRegistration is the register-device-token request body.
type DeviceTokenRegistration struct {
	Token      string            `json:"token"`
	Keys       map[string]string `json:"keys,omitempty"`
	DeviceType DeviceType        `json:"device_type"`
}

// HeartbeatPayload is the periodic liveness signal. It is a presence signal
// carrying light telemetry, not a correctness mechanism.
type HeartbeatPayload struct {
	SessionID      string    `json:"session_id"`
	ErrorCount     uint64    `json:"error_count"`
	MetricFamilies []string  `json:"metric_families,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// Alert is the platform alert-display request.
type Alert struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
}
