package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

func newSQLiteStore(t *testing.T, cap int) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), cap)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreAddAndGet(t *testing.T) {
	s := newSQLiteStore(t, 10)

	n := newTestNotification(types.ServerID("1"), time.Now().UTC().Truncate(time.Second))
	n.Data = []byte(`{"lessonId":"l-1"}`)
	n.Actions = []types.Action{{ID: "open", Label: "Open", ActionType: "navigate"}}

	created, err := s.Add(n)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Add(n)
	require.NoError(t, err)
	assert.False(t, created)

	got, ok := s.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, n.Title, got.Title)
	assert.JSONEq(t, `{"lessonId":"l-1"}`, string(got.Data))
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "open", got.Actions[0].ID)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	s, err := NewSQLiteStore(path, 10)
	require.NoError(t, err)
	_, err = s.Add(newTestNotification(types.ServerID("1"), time.Now().UTC()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path, 10)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Len(t, reopened.List(), 1, "cache must persist across restarts")
	assert.Equal(t, 1, reopened.UnreadCount())
}

func TestSQLiteStoreRetentionCap(t *testing.T) {
	s := newSQLiteStore(t, 3)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := s.Add(newTestNotification(types.ServerID(fmt.Sprintf("%d", i)), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, types.ServerID("4"), list[0].ID)
}

func TestSQLiteStoreMarkReadAndUnreadCount(t *testing.T) {
	s := newSQLiteStore(t, 10)
	now := time.Now().UTC()

	_, _ = s.Add(newTestNotification(types.ServerID("1"), now))
	_, _ = s.Add(newTestNotification(types.ServerID("2"), now.Add(time.Second)))
	assert.Equal(t, 2, s.UnreadCount())

	require.NoError(t, s.MarkRead(types.ServerID("1")))
	assert.Equal(t, 1, s.UnreadCount())

	assert.Error(t, s.MarkRead(types.ServerID("missing")))

	require.NoError(t, s.MarkAllRead())
	assert.Equal(t, 0, s.UnreadCount())
}

func TestSQLiteStoreExpiryEviction(t *testing.T) {
	s := newSQLiteStore(t, 10)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	expired := newTestNotification(types.ServerID("old"), now.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	_, err := s.Add(expired)
	require.NoError(t, err)

	_, err = s.Add(newTestNotification(types.ServerID("new"), now))
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, types.ServerID("new"), list[0].ID)
}

func TestSQLiteStoreRemoveAndClear(t *testing.T) {
	s := newSQLiteStore(t, 10)
	now := time.Now().UTC()

	_, _ = s.Add(newTestNotification(types.ServerID("1"), now))
	_, _ = s.Add(newTestNotification(types.ServerID("2"), now.Add(time.Second)))

	require.NoError(t, s.Remove(types.ServerID("1")))
	assert.Len(t, s.List(), 1)
	require.NoError(t, s.Remove(types.ServerID("1")))

	require.NoError(t, s.Clear())
	assert.Empty(t, s.List())
}
