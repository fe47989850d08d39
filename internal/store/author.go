package store

import (
	"database/sql"
	"time"
)

// UpsertAuthor inserts or updates an author profile. Empty fields never
// overwrite a previously known value.
func (db *DB) UpsertAuthor(a *Author) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO authors (author_id, display_name, username, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(author_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE authors.display_name END,
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE authors.username END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE authors.avatar_url END,
			updated_at = excluded.updated_at`,
		a.AuthorID, a.DisplayName, a.Username, a.AvatarURL, now)
	return err
}

// GetAuthor returns an author by id.
func (db *DB) GetAuthor(authorID string) (*Author, error) {
	var a Author
	err := db.QueryRow(`SELECT author_id, display_name, username, avatar_url FROM authors WHERE author_id = ?`, authorID).
		Scan(&a.AuthorID, &a.DisplayName, &a.Username, &a.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
