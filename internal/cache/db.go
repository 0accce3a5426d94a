// Package cache persists a snapshot of conversations and messages to the
// session's sqlite database. The in-memory store stays authoritative; the
// cache exists so a restarted session can list conversations and read
// history before the network is reachable.
package cache

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection for the session's chatsync.db.
type DB struct {
	*sql.DB
}

// Open creates a sqlite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}
