package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on target_key +
// msg_id). This is the reconciliation point for optimistic echo: a server
// copy arriving with the same client-generated id replaces the pending row
// in place.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (target_key, msg_id, author_id, author_name, body, attachments, reply_to, message_type, from_me, status, pinned, edited, deleted, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(target_key, msg_id) DO UPDATE SET
			author_name = excluded.author_name,
			body = excluded.body,
			attachments = excluded.attachments,
			status = excluded.status,
			pinned = excluded.pinned,
			edited = excluded.edited,
			deleted = excluded.deleted`,
		m.TargetKey, m.MsgID, m.AuthorID, m.AuthorName, m.Body, encodeAttachments(m.Attachments),
		m.ReplyTo, m.MessageType, m.FromMe, m.Status, m.Pinned, m.Edited, m.Deleted, m.Timestamp, now)
	return err
}

// SetMessageStatus updates only the delivery status of an own message.
func (db *DB) SetMessageStatus(targetKey, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE target_key = ? AND msg_id = ?`,
		status, targetKey, msgID)
	return err
}

// TombstoneMessage marks a message deleted without removing the row, so a
// re-delivered copy stays dead.
func (db *DB) TombstoneMessage(targetKey, msgID string) error {
	_, err := db.Exec(`UPDATE messages SET deleted = 1, body = '' WHERE target_key = ? AND msg_id = ?`,
		targetKey, msgID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first. Tombstoned messages are excluded.
func (db *DB) ListMessages(targetKey string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, target_key, msg_id, author_id, author_name, body, attachments, reply_to, message_type, from_me, status, pinned, edited, deleted, timestamp
		FROM messages
		WHERE target_key = ? AND timestamp < ? AND deleted = 0
		ORDER BY timestamp DESC
		LIMIT ?`, targetKey, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var atts string
		if err := rows.Scan(&m.ID, &m.TargetKey, &m.MsgID, &m.AuthorID, &m.AuthorName, &m.Body, &atts,
			&m.ReplyTo, &m.MessageType, &m.FromMe, &m.Status, &m.Pinned, &m.Edited, &m.Deleted, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Attachments = decodeAttachments(atts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
