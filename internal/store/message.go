package store

import (
	"context"
	"time"
)

// UpsertMessageSQL is idempotent on (chat_jid, msg_id).
const UpsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_name = excluded.sender_name,
		body = excluded.body,
		status = excluded.status`

// UpsertMessage inserts or updates a message (idempotent on chat_jid + msg_id).
// Reports whether the message was new.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) (bool, error) {
	var exists bool
	if err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE chat_jid = ? AND msg_id = ?)`,
		m.ChatJID, m.MsgID).Scan(&exists); err != nil {
		return false, err
	}
	_, err := db.ExecContext(ctx, UpsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Status, m.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp.
func (db *DB) ListMessages(ctx context.Context, chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, status, timestamp
		FROM messages
		WHERE chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
