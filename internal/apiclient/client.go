package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// Client talks to the notification backend over HTTP. All write requests
// carry the session credential and a CSRF token; the credential can be
// swapped at runtime after a re-authentication.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	credential string
	csrfToken  string
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a backend API client rooted at baseURL.
func NewClient(baseURL, credential string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetCredential replaces the session credential, typically after the
// previous one expired and the user re-authenticated.
func (c *Client) SetCredential(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
	logger.GetLogger().Named("apiclient").Debugw("Session credential updated",
		"credential", logger.MaskCredential(credential))
}

// SetCSRFToken sets the token attached to mutating requests.
func (c *Client) SetCSRFToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.csrfToken = token
	logger.GetLogger().Named("apiclient").Debugw("CSRF token updated",
		"token", logger.MaskSensitiveString(token, 2, 2))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	credential := c.credential
	csrfToken := c.csrfToken
	c.mu.RUnlock()

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	if method != http.MethodGet && csrfToken != "" {
		req.Header.Set("X-CSRF-Token", csrfToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkUnreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		detail := errResp.Error
		if detail == "" {
			detail = errResp.Message
		}
		logger.GetLogger().Named("apiclient").Debugw("Request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return errors.FromStatusCode(resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// List fetches the authoritative notification set from the backend and
// normalizes each record into the internal shape. Records that fail
// normalization are dropped rather than failing the whole fetch.
func (c *Client) List(ctx context.Context) ([]*types.Notification, error) {
	var resp struct {
		Notifications []types.WireNotification `json:"notifications"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications", nil, &resp); err != nil {
		return nil, err
	}

	log := logger.GetLogger().Named("apiclient")
	out := make([]*types.Notification, 0, len(resp.Notifications))
	for i := range resp.Notifications {
		n, err := resp.Notifications[i].Normalize()
		if err != nil {
			log.Warnw("Dropping malformed notification from resync",
				"index", i,
				"error", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkRead marks a single notification read on the backend. Server ids
// only; client-origin records have no backend counterpart.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/"+id+"/read", nil, nil)
}

// MarkAllRead marks every notification read on the backend.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/read-all", nil, nil)
}

// Delete removes a single notification on the backend.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+id, nil, nil)
}

// DeleteAll clears the user's notifications on the backend.
func (c *Client) DeleteAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications", nil, nil)
}

// RegisterDeviceToken registers a push subscription or device token so
// the backend can reach this device natively.
func (c *Client) RegisterDeviceToken(ctx context.Context, reg types.DeviceTokenRegistration) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/device-token", reg, nil)
}

// UnregisterDeviceToken removes a previously registered token.
func (c *Client) UnregisterDeviceToken(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	return c.do(ctx, http.MethodDelete, "/api/notifications/device-token", body, nil)
}

// GetSettings fetches the user's notification preferences.
func (c *Client) GetSettings(ctx context.Context) (*types.NotificationSettings, error) {
	var settings types.NotificationSettings
	if err := c.do(ctx, http.MethodGet, "/api/notifications/settings", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateSettings persists the user's notification preferences.
func (c *Client) UpdateSettings(ctx context.Context, settings *types.NotificationSettings) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/settings", settings, nil)
}

// Heartbeat posts a liveness report. Callers treat failures as
// best-effort; this method is never wrapped in a retry policy.
func (c *Client) Heartbeat(ctx context.Context, payload types.HeartbeatPayload) error {
	return c.do(ctx, http.MethodPost, "/api/notifications/heartbeat", payload, nil)
}
