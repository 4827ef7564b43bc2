package store

import (
	"sort"
	"sync"
	"time"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/types"
)

// DefaultRetentionCap bounds the store when no cap is configured.
const DefaultRetentionCap = 200

// MemoryStore is the in-memory NotificationStore. Eviction of expired and
// over-cap records happens lazily during mutation operations, so the store
// never holds more than the cap after any write.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*types.Notification
	cap   int
	now   func() time.Time
}

// NewMemoryStore creates a MemoryStore with the given retention cap.
// A non-positive cap falls back to DefaultRetentionCap.
func NewMemoryStore(retentionCap int) *MemoryStore {
	if retentionCap <= 0 {
		retentionCap = DefaultRetentionCap
	}
	return &MemoryStore{
		items: make(map[string]*types.Notification),
		cap:   retentionCap,
		now:   time.Now,
	}
}

// Add inserts or updates by ID. Returns true when the record is new.
func (s *MemoryStore) Add(n *types.Notification) (bool, error) {
	if err := n.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.items[n.ID]
	clone := *n
	s.items[n.ID] = &clone
	s.evictLocked()

	// The record may have been evicted immediately if it was already
	// expired; it still counts as an update, not an insert, in that case.
	_, present := s.items[n.ID]
	return !exists && present, nil
}

// Get returns a copy of the record with the given ID.
func (s *MemoryStore) Get(id string) (*types.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.items[id]
	if !ok {
		return nil, false
	}
	clone := *n
	return &clone, true
}

// Remove deletes a record by ID. Removing an absent ID is a no-op.
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	s.evictLocked()
	return nil
}

// Clear removes every record.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*types.Notification)
	return nil
}

// MarkRead flags a single record as read.
func (s *MemoryStore) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[id]
	if !ok {
		return errors.NotFound("notification", id)
	}
	n.IsRead = true
	s.evictLocked()
	return nil
}

// MarkAllRead flags every record as read.
func (s *MemoryStore) MarkAllRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.items {
		n.IsRead = true
	}
	s.evictLocked()
	return nil
}

// List returns a snapshot ordered most-recent-first.
func (s *MemoryStore) List() []types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// UnreadCount derives the unread count live from the records.
func (s *MemoryStore) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// evictLocked drops expired records, then trims the oldest records beyond
// the retention cap. Callers must hold the write lock.
func (s *MemoryStore) evictLocked() {
	now := s.now()
	for id, n := range s.items {
		if n.IsExpired(now) {
			delete(s.items, id)
		}
	}

	if len(s.items) <= s.cap {
		return
	}

	ordered := make([]*types.Notification, 0, len(s.items))
	for _, n := range s.items {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, n := range ordered[:len(ordered)-s.cap] {
		delete(s.items, n.ID)
	}
}
