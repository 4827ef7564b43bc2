package retry

import (
	"context"
	"sync"
)

// NetworkMonitor reports connectivity so retry loops can suspend while
// offline instead of burning attempts that cannot succeed.
type NetworkMonitor interface {
	// Online reports current connectivity.
	Online() bool
	// WaitOnline blocks until connectivity returns or ctx is done.
	WaitOnline(ctx context.Context) error
}

// AlwaysOnline is the monitor used when no platform connectivity signal
// is available.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool                         { return true }
func (AlwaysOnline) WaitOnline(ctx context.Context) error { return ctx.Err() }

// ManualMonitor is a switchable monitor driven by explicit SetOnline calls,
// typically fed from a platform connectivity callback.
type ManualMonitor struct {
	mu      sync.Mutex
	online  bool
	waiters []chan struct{}
}

// NewManualMonitor returns a monitor in the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online}
}

func (m *ManualMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline updates connectivity and releases any goroutines blocked in
// WaitOnline when transitioning to online.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.online = online
	if online {
		for _, w := range m.waiters {
			close(w)
		}
		m.waiters = nil
	}
}

func (m *ManualMonitor) WaitOnline(ctx context.Context) error {
	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	m.waiters = append(m.waiters, wait)
	m.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
