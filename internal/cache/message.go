package cache

import (
	"time"

	"github.com/innosphere/chatsync/internal/store"
)

// UpsertMessage persists a confirmed message (idempotent on counterpart +
// server id). Pending messages are in-memory only; they reach the cache
// once a server id exists.
func (db *DB) UpsertMessage(m store.Message) error {
	if m.ID == 0 {
		return nil
	}
	var attURL, attType, attName string
	if m.Attachment != nil {
		attURL = m.Attachment.URL
		attType = m.Attachment.MimeType
		attName = m.Attachment.OriginalName
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (server_id, counterpart_id, sender_id, sender_name, content, attachment_url, attachment_type, attachment_name, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(counterpart_id, server_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			attachment_url = excluded.attachment_url,
			attachment_type = excluded.attachment_type,
			attachment_name = excluded.attachment_name,
			status = excluded.status`,
		m.ID, m.ConversationID, m.SenderID, m.SenderName, m.Content,
		attURL, attType, attName, string(m.Status), m.Timestamp.UnixMilli(), now)
	return err
}

// ListMessages returns the cached thread for a counterpart, oldest first.
func (db *DB) ListMessages(counterpartID int64, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT server_id, counterpart_id, sender_id, sender_name, content, attachment_url, attachment_type, attachment_name, status, timestamp
		FROM messages
		WHERE counterpart_id = ?
		ORDER BY timestamp ASC
		LIMIT ?`, counterpartID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var attURL, attType, attName, status string
		var ts int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Content, &attURL, &attType, &attName, &status, &ts); err != nil {
			return nil, err
		}
		m.Status = store.Status(status)
		m.Timestamp = time.UnixMilli(ts)
		if attURL != "" {
			m.Attachment = &store.Attachment{URL: attURL, MimeType: attType, OriginalName: attName}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
