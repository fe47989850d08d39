package store

import (
	"database/sql"
	"time"
)

// SaveScrollPosition persists the scroll offset for a conversation.
func (db *DB) SaveScrollPosition(targetKey string, scrollTop int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO scroll_positions (target_key, scroll_top, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(target_key) DO UPDATE SET
			scroll_top = excluded.scroll_top,
			updated_at = excluded.updated_at`,
		targetKey, scrollTop, now)
	return err
}

// LoadScrollPosition returns the persisted scroll offset for a conversation
// and whether one exists. A never-visited conversation has no record.
func (db *DB) LoadScrollPosition(targetKey string) (int, bool, error) {
	var top int
	err := db.QueryRow(`SELECT scroll_top FROM scroll_positions WHERE target_key = ?`, targetKey).Scan(&top)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return top, true, nil
}
