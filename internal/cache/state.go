package cache

import (
	"database/sql"
	"errors"
	"time"
)

// SetState stores a sync checkpoint value.
func (db *DB) SetState(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// GetState retrieves a sync checkpoint value. Returns "" when the key
// has never been written.
func (db *DB) GetState(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
