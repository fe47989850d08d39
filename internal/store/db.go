package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the app-owned quill.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// encodeAttachments serializes an attachment list for a TEXT column.
// nil and empty both encode as "[]" so scans round-trip cleanly.
func encodeAttachments(atts []string) string {
	if len(atts) == 0 {
		return "[]"
	}
	data, err := json.Marshal(atts)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// decodeAttachments is the inverse of encodeAttachments. Malformed data
// decodes to nil rather than failing the row scan.
func decodeAttachments(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var atts []string
	if err := json.Unmarshal([]byte(s), &atts); err != nil {
		return nil
	}
	return atts
}
