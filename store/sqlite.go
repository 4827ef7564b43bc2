package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/LinguaCrew/lingua-notify/errors"
	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/LinguaCrew/lingua-notify/types"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notifications (
    id         TEXT PRIMARY KEY,
    type       TEXT NOT NULL,
    priority   TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    message    TEXT NOT NULL DEFAULT '',
    data       TEXT,
    is_read    INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP,
    actions    TEXT
);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications (created_at DESC);
`

// notificationRow is the sqlite row shape for a notification.
type notificationRow struct {
	ID        string         `db:"id"`
	Type      string         `db:"type"`
	Priority  string         `db:"priority"`
	Title     string         `db:"title"`
	Message   string         `db:"message"`
	Data      sql.NullString `db:"data"`
	IsRead    bool           `db:"is_read"`
	CreatedAt time.Time      `db:"created_at"`
	ExpiresAt sql.NullTime   `db:"expires_at"`
	Actions   sql.NullString `db:"actions"`
}

// SQLiteStore is a NotificationStore backed by a local sqlite file. It gives
// the feed best-effort persistence across restarts; failures degrade the
// engine to memory-only behavior, they never fail a sync.
type SQLiteStore struct {
	db  *sqlx.DB
	cap int
	log *zap.SugaredLogger
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the cache file and ensures the schema.
func NewSQLiteStore(path string, retentionCap int) (*SQLiteStore, error) {
	if retentionCap <= 0 {
		retentionCap = DefaultRetentionCap
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ServerError, "failed to open notification cache")
	}
	// The cache is accessed from the coordinator's merge loop only; a single
	// connection avoids sqlite write contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ServerError, "failed to initialize notification cache schema")
	}

	return &SQLiteStore{
		db:  db,
		cap: retentionCap,
		log: logger.GetLogger().Named("sqlite_store"),
		now: time.Now,
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add inserts or updates by ID. Returns true when the record is new.
func (s *SQLiteStore) Add(n *types.Notification) (bool, error) {
	if err := n.Validate(); err != nil {
		return false, err
	}

	row, err := rowFromNotification(n)
	if err != nil {
		return false, err
	}

	var exists bool
	if err := s.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = ?)`, n.ID); err != nil {
		return false, errors.Wrap(err, errors.ServerError, "cache lookup failed")
	}

	_, err = s.db.NamedExec(`
		INSERT INTO notifications (id, type, priority, title, message, data, is_read, created_at, expires_at, actions)
		VALUES (:id, :type, :priority, :title, :message, :data, :is_read, :created_at, :expires_at, :actions)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			priority = excluded.priority,
			title = excluded.title,
			message = excluded.message,
			data = excluded.data,
			is_read = excluded.is_read,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			actions = excluded.actions`, row)
	if err != nil {
		return false, errors.Wrap(err, errors.ServerError, "cache write failed")
	}

	s.evict()
	if n.IsExpired(s.now()) {
		return false, nil
	}
	return !exists, nil
}

// Get returns the record with the given ID.
func (s *SQLiteStore) Get(id string) (*types.Notification, bool) {
	var row notificationRow
	if err := s.db.Get(&row, `SELECT * FROM notifications WHERE id = ?`, id); err != nil {
		return nil, false
	}
	n, err := row.toNotification()
	if err != nil {
		s.log.Warnw("Dropping undecodable cached notification", "id", id, "error", err)
		return nil, false
	}
	return n, true
}

// Remove deletes a record by ID. Removing an absent ID is a no-op.
func (s *SQLiteStore) Remove(id string) error {
	if _, err := s.db.Exec(`DELETE FROM notifications WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, errors.ServerError, "cache delete failed")
	}
	s.evict()
	return nil
}

// Clear removes every record.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM notifications`); err != nil {
		return errors.Wrap(err, errors.ServerError, "cache clear failed")
	}
	return nil
}

// MarkRead flags a single record as read.
func (s *SQLiteStore) MarkRead(id string) error {
	res, err := s.db.Exec(`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, errors.ServerError, "cache update failed")
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.NotFound("notification", id)
	}
	s.evict()
	return nil
}

// MarkAllRead flags every record as read.
func (s *SQLiteStore) MarkAllRead() error {
	if _, err := s.db.Exec(`UPDATE notifications SET is_read = 1`); err != nil {
		return errors.Wrap(err, errors.ServerError, "cache update failed")
	}
	s.evict()
	return nil
}

// List returns a snapshot ordered most-recent-first.
func (s *SQLiteStore) List() []types.Notification {
	var rows []notificationRow
	if err := s.db.Select(&rows, `SELECT * FROM notifications ORDER BY created_at DESC, id DESC`); err != nil {
		s.log.Warnw("Cache list failed", "error", err)
		return nil
	}

	out := make([]types.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toNotification()
		if err != nil {
			s.log.Warnw("Dropping undecodable cached notification", "id", row.ID, "error", err)
			continue
		}
		out = append(out, *n)
	}
	return out
}

// UnreadCount derives the unread count live from the records.
func (s *SQLiteStore) UnreadCount() int {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM notifications WHERE is_read = 0`); err != nil {
		s.log.Warnw("Cache unread count failed", "error", err)
		return 0
	}
	return count
}

// evict drops expired records and trims the oldest beyond the retention cap.
func (s *SQLiteStore) evict() {
	if _, err := s.db.Exec(`DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?`, s.now()); err != nil {
		s.log.Warnw("Cache expiry eviction failed", "error", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM notifications WHERE id IN (
			SELECT id FROM notifications
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)`, s.cap)
	if err != nil {
		s.log.Warnw("Cache retention eviction failed", "error", err)
	}
}

func rowFromNotification(n *types.Notification) (*notificationRow, error) {
	row := &notificationRow{
		ID:        n.ID,
		Type:      string(n.Type),
		Priority:  string(n.Priority),
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UTC(),
	}
	if n.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: n.ExpiresAt.UTC(), Valid: true}
	}
	if len(n.Data) > 0 {
		row.Data = sql.NullString{String: string(n.Data), Valid: true}
	}
	if len(n.Actions) > 0 {
		raw, err := json.Marshal(n.Actions)
		if err != nil {
			return nil, errors.Wrap(err, errors.ValidationError, "failed to encode actions")
		}
		row.Actions = sql.NullString{String: string(raw), Valid: true}
	}
	return row, nil
}

func (r *notificationRow) toNotification() (*types.Notification, error) {
	n := &types.Notification{
		ID:        r.ID,
		Type:      types.NotificationType(r.Type),
		Priority:  types.Priority(r.Priority),
		Title:     r.Title,
		Message:   r.Message,
		IsRead:    r.IsRead,
		CreatedAt: r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time
		n.ExpiresAt = &expiresAt
	}
	if r.Data.Valid {
		n.Data = json.RawMessage(r.Data.String)
	}
	if r.Actions.Valid {
		if err := json.Unmarshal([]byte(r.Actions.String), &n.Actions); err != nil {
			return nil, errors.Wrap(err, errors.ServerError, "failed to decode cached actions")
		}
	}
	return n, nil
}
