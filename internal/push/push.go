package push

import (
	"context"

	"go.uber.org/zap"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
)

// Permission is the native alert permission state.
type Permission string

const (
	PermissionUnsupported Permission = "unsupported"
	PermissionDefault     Permission = "default"
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
)

// DeniedGuidance is surfaced when alerts are blocked. The app cannot
// prompt again; only the user can lift the block in platform settings.
const DeniedGuidance = "Notifications are blocked. Enable them in your device or browser settings to receive alerts."

// Platform abstracts the host notification surface. Implementations wrap
// whatever the runtime provides: a browser push API bridge, a desktop
// notification daemon, a mobile shim.
type Platform interface {
	// Permission reports the current permission without prompting.
	Permission() Permission
	// RequestPermission prompts the user. Only call from a user gesture.
	RequestPermission(ctx context.Context) (Permission, error)
	// Display shows a native alert. Requires granted permission.
	Display(ctx context.Context, alert types.Alert) error
	// Subscribe obtains a push endpoint for this device.
	Subscribe(ctx context.Context) (*types.PushEndpoint, error)
	// Unsubscribe drops the push endpoint.
	Unsubscribe(ctx context.Context) error
}

// UnsupportedPlatform is used where the host has no notification surface.
// Every operation degrades cleanly; the feed itself keeps working.
type UnsupportedPlatform struct{}

func (UnsupportedPlatform) Permission() Permission { return PermissionUnsupported }

func (UnsupportedPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	return PermissionUnsupported, nil
}

func (UnsupportedPlatform) Display(ctx context.Context, alert types.Alert) error {
	return errors.Unsupported("native alerts")
}

func (UnsupportedPlatform) Subscribe(ctx context.Context) (*types.PushEndpoint, error) {
	return nil, errors.Unsupported("push subscriptions")
}

func (UnsupportedPlatform) Unsubscribe(ctx context.Context) error { return nil }

// TokenRegistrar registers and unregisters device push endpoints with the
// backend so it can deliver natively while the app is closed.
type TokenRegistrar interface {
	RegisterDeviceToken(ctx context.Context, reg types.DeviceTokenRegistration) error
	UnregisterDeviceToken(ctx context.Context, token string) error
}

// Manager drives the permission state machine and keeps the backend's
// device registration in sync with the platform subscription.
type Manager struct {
	platform   Platform
	registrar  TokenRegistrar
	deviceType types.DeviceType
	log        *zap.SugaredLogger
}

// NewManager creates a push manager over the given platform surface.
func NewManager(platform Platform, registrar TokenRegistrar, deviceType types.DeviceType) *Manager {
	return &Manager{
		platform:   platform,
		registrar:  registrar,
		deviceType: deviceType,
		log:        logger.GetLogger().Named("push"),
	}
}

// Permission reports the current permission state without prompting.
func (m *Manager) Permission() Permission {
	return m.platform.Permission()
}

// EnableAlerts requests permission if needed and, when granted, obtains a
// push subscription and registers it with the backend. A prior denial is
// terminal: no prompt is shown, and the returned error carries settings
// guidance for the user.
func (m *Manager) EnableAlerts(ctx context.Context) (Permission, error) {
	switch m.platform.Permission() {
	case PermissionUnsupported:
		return PermissionUnsupported, nil
	case PermissionDenied:
		return PermissionDenied, errors.PermissionDenied(DeniedGuidance)
	case PermissionGranted:
		return PermissionGranted, m.subscribe(ctx)
	}

	perm, err := m.platform.RequestPermission(ctx)
	if err != nil {
		return perm, err
	}

	switch perm {
	case PermissionGranted:
		return perm, m.subscribe(ctx)
	case PermissionDenied:
		m.log.Infow("User declined alert permission")
		return perm, errors.PermissionDenied(DeniedGuidance)
	default:
		// Prompt dismissed without a decision; state stays default.
		return perm, nil
	}
}

func (m *Manager) subscribe(ctx context.Context) error {
	endpoint, err := m.platform.Subscribe(ctx)
	if err != nil {
		return err
	}

	if err := m.registrar.RegisterDeviceToken(ctx, types.DeviceTokenRegistration{
		Token:      endpoint.Endpoint,
		Keys:       endpoint.Keys,
		DeviceType: m.deviceType,
	}); err != nil {
		m.log.Warnw("Failed to register push endpoint with backend", "error", err)
		return err
	}

	m.log.Infow("Push subscription registered",
		"deviceType", m.deviceType,
		"endpoint", logger.MaskDeviceToken(endpoint.Endpoint))
	return nil
}

// DisableAlerts drops the platform subscription and unregisters the
// endpoint from the backend. Backend failures are logged but do not block
// the local unsubscribe.
func (m *Manager) DisableAlerts(ctx context.Context) error {
	endpoint, err := m.platform.Subscribe(ctx)
	if err == nil && endpoint != nil {
		if err := m.registrar.UnregisterDeviceToken(ctx, endpoint.Endpoint); err != nil {
			m.log.Warnw("Failed to unregister push endpoint from backend", "error", err)
		}
	}
	return m.platform.Unsubscribe(ctx)
}

// Display shows a native alert when permission allows it. On any other
// permission state the alert is skipped and the caller falls back to
// in-feed presentation.
func (m *Manager) Display(ctx context.Context, alert types.Alert) error {
	switch m.platform.Permission() {
	case PermissionGranted:
		return m.platform.Display(ctx, alert)
	case PermissionDenied:
		return errors.PermissionDenied(DeniedGuidance)
	default:
		return errors.Unsupported("native alerts")
	}
}
