// Package store holds the local notification cache: the single source of
// truth the UI reads from. The sync coordinator is the only writer; all
// other components receive snapshots.
package store

import (
	"github.com/LinguaCrew/lingua-notify/types"
)

// NotificationStore is the cache contract. All operations are synchronous
// and idempotent; the store is a best-effort cache, not a system of record.
type NotificationStore interface {
	// Add inserts or updates by ID and reports whether the record was newly
	// inserted. Adding an identical already-present record is a no-op.
	Add(n *types.Notification) (bool, error)
	// Get returns a copy of the record with the given ID.
	Get(id string) (*types.Notification, bool)
	Remove(id string) error
	Clear() error
	MarkRead(id string) error
	MarkAllRead() error
	// List returns a snapshot ordered most-recent-first.
	List() []types.Notification
	// UnreadCount is always derived live from the records, never cached.
	UnreadCount() int
}
