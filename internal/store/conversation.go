package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (target_key, kind, name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_key) DO UPDATE SET
			kind = excluded.kind,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			unread_count = excluded.unread_count,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.TargetKey, c.Kind, c.Name, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListConversations returns conversations sorted by last message timestamp
// descending. Direct conversations with a known author fall back to the
// author's display name when unnamed.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.target_key, c.kind,
			COALESCE(NULLIF(c.name,''), NULLIF(a.display_name,''), NULLIF(a.username,''), c.target_key) AS display_name,
			c.unread_count, c.last_message_at, c.last_message_preview
		FROM conversations c
		LEFT JOIN authors a ON c.kind = 'direct' AND c.target_key = 'direct:' || a.author_id
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.TargetKey, &c.Kind, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation by target key.
func (db *DB) GetConversation(targetKey string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT target_key, kind, name, unread_count, last_message_at, last_message_preview
		FROM conversations
		WHERE target_key = ?`, targetKey).
		Scan(&c.TargetKey, &c.Kind, &c.Name, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// ConversationMessageCount returns the number of undeleted messages in
// one conversation.
func (db *DB) ConversationMessageCount(targetKey string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE target_key = ? AND deleted = 0`, targetKey).Scan(&count)
	return count, err
}
