package store

import "time"

// JournalOutbox records a queued outgoing message so the delivery queue can
// be rebuilt after a restart. client_msg_id is the idempotency key and is
// never reused.
func (db *DB) JournalOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, target_key, body, attachments, reply_to, retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_msg_id) DO UPDATE SET
			retries = excluded.retries,
			updated_at = excluded.updated_at`,
		e.ClientMsgID, e.TargetKey, e.Body, encodeAttachments(e.Attachments), e.ReplyTo, e.Retries, e.CreatedAt, now)
	return err
}

// ClearOutbox removes a journal entry once the message is acknowledged or
// dropped.
func (db *DB) ClearOutbox(clientMsgID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	return err
}

// PendingOutbox returns journaled entries in enqueue order.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, target_key, body, attachments, reply_to, retries, created_at
		FROM outbox ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var atts string
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.TargetKey, &e.Body, &atts, &e.ReplyTo, &e.Retries, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Attachments = decodeAttachments(atts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
