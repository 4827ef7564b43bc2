package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/LinguaCrew/lingua-notify/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotification(id string, createdAt time.Time) *types.Notification {
	return &types.Notification{
		ID:        id,
		Type:      types.NotificationSystem,
		Priority:  types.PriorityMedium,
		Title:     "title " + id,
		Message:   "message " + id,
		CreatedAt: createdAt,
	}
}

func TestMemoryStoreAddIdempotent(t *testing.T) {
	s := NewMemoryStore(10)
	n := newTestNotification(types.ServerID("1"), time.Now())

	created, err := s.Add(n)
	require.NoError(t, err)
	assert.True(t, created)

	snapshot := s.List()

	created, err = s.Add(n)
	require.NoError(t, err)
	assert.False(t, created, "re-adding the same record is an update, not an insert")

	assert.Equal(t, snapshot, s.List(), "adding an identical record must not change observable state")
	assert.Equal(t, 1, s.UnreadCount())
}

func TestMemoryStoreDedupByID(t *testing.T) {
	s := NewMemoryStore(10)
	id := types.ServerID("7")

	first := newTestNotification(id, time.Now())
	second := newTestNotification(id, time.Now())
	second.Title = "updated title"

	// Apply in both orders; either way exactly one record survives.
	_, err := s.Add(first)
	require.NoError(t, err)
	_, err = s.Add(second)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "updated title", list[0].Title, "last write wins for a given id")
}

func TestMemoryStoreUnreadAccounting(t *testing.T) {
	s := NewMemoryStore(10)
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, err := s.Add(newTestNotification(types.ServerID(fmt.Sprintf("%d", i)), now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, s.UnreadCount())

	require.NoError(t, s.MarkRead(types.ServerID("2")))
	assert.Equal(t, 4, s.UnreadCount())

	// Marking the same record twice changes nothing.
	require.NoError(t, s.MarkRead(types.ServerID("2")))
	assert.Equal(t, 4, s.UnreadCount())

	require.NoError(t, s.MarkAllRead())
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMemoryStoreMarkReadMissing(t *testing.T) {
	s := NewMemoryStore(10)
	assert.Error(t, s.MarkRead("server-nope"))
}

func TestMemoryStoreRetentionCap(t *testing.T) {
	s := NewMemoryStore(3)
	base := time.Now()

	for i := 0; i < 5; i++ {
		_, err := s.Add(newTestNotification(types.ServerID(fmt.Sprintf("%d", i)), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3, "store must never hold more than the cap")
	// Oldest evicted first: 0 and 1 are gone.
	assert.Equal(t, types.ServerID("4"), list[0].ID)
	assert.Equal(t, types.ServerID("2"), list[2].ID)
}

func TestMemoryStoreExpiryEvictionIsLazy(t *testing.T) {
	s := NewMemoryStore(10)
	now := time.Now()
	past := now.Add(-time.Hour)

	expired := newTestNotification(types.ServerID("old"), now.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	_, err := s.Add(expired)
	require.NoError(t, err)

	// The next mutation sweeps it out.
	_, err = s.Add(newTestNotification(types.ServerID("new"), now))
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, types.ServerID("new"), list[0].ID)
}

func TestMemoryStoreListOrdering(t *testing.T) {
	s := NewMemoryStore(10)
	base := time.Now()

	_, _ = s.Add(newTestNotification(types.ServerID("a"), base.Add(-2*time.Minute)))
	_, _ = s.Add(newTestNotification(types.ServerID("b"), base))
	_, _ = s.Add(newTestNotification(types.ServerID("c"), base.Add(-time.Minute)))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, types.ServerID("b"), list[0].ID)
	assert.Equal(t, types.ServerID("c"), list[1].ID)
	assert.Equal(t, types.ServerID("a"), list[2].ID)
}

func TestMemoryStoreRemoveAndClear(t *testing.T) {
	s := NewMemoryStore(10)
	now := time.Now()

	_, _ = s.Add(newTestNotification(types.ServerID("1"), now))
	_, _ = s.Add(newTestNotification(types.ServerID("2"), now.Add(time.Second)))

	require.NoError(t, s.Remove(types.ServerID("1")))
	assert.Len(t, s.List(), 1)

	// Removing an absent id is a no-op.
	require.NoError(t, s.Remove(types.ServerID("1")))

	require.NoError(t, s.Clear())
	assert.Empty(t, s.List())
	assert.Equal(t, 0, s.UnreadCount())
}

func TestMemoryStoreSnapshotIsolation(t *testing.T) {
	s := NewMemoryStore(10)
	_, _ = s.Add(newTestNotification(types.ServerID("1"), time.Now()))

	list := s.List()
	list[0].Title = "mutated"

	fresh, ok := s.Get(types.ServerID("1"))
	require.True(t, ok)
	assert.NotEqual(t, "mutated", fresh.Title, "List must return copies")
}
