package cache

import (
	"time"

	"github.com/innosphere/chatsync/internal/store"
)

// UpsertConversation writes a conversation summary (idempotent on
// counterpart id).
func (db *DB) UpsertConversation(c store.Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (counterpart_id, name, role, extra, avatar_url, last_message, last_activity, unread, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(counterpart_id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			role = CASE WHEN excluded.role != '' THEN excluded.role ELSE conversations.role END,
			extra = CASE WHEN excluded.extra != '' THEN excluded.extra ELSE conversations.extra END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
			last_message = excluded.last_message,
			last_activity = MAX(conversations.last_activity, excluded.last_activity),
			unread = excluded.unread,
			updated_at = excluded.updated_at`,
		c.CounterpartID, c.Name, c.Role, c.Extra, c.AvatarURL,
		c.LastMessage, c.LastActivity.UnixMilli(), c.Unread, now)
	return err
}

// ListConversations returns cached summaries sorted by last activity
// descending.
func (db *DB) ListConversations() ([]store.Conversation, error) {
	rows, err := db.Query(`
		SELECT counterpart_id, name, role, extra, avatar_url, last_message, last_activity, unread
		FROM conversations
		ORDER BY last_activity DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.Conversation
	for rows.Next() {
		var c store.Conversation
		var activity int64
		if err := rows.Scan(&c.CounterpartID, &c.Name, &c.Role, &c.Extra, &c.AvatarURL, &c.LastMessage, &activity, &c.Unread); err != nil {
			return nil, err
		}
		c.LastActivity = time.UnixMilli(activity)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages from the cache.
func (db *DB) DeleteConversation(counterpartID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE counterpart_id = ?`, counterpartID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE counterpart_id = ?`, counterpartID); err != nil {
		return err
	}
	return tx.Commit()
}
