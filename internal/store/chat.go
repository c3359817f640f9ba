package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types"
)

const chatColumns = `c.jid,
	COALESCE(NULLIF(c.name,''), NULLIF(ct.push_name,''), NULLIF(ct.name,''), c.jid) AS display_name,
	c.is_group, c.unread_count, c.last_message_at, c.last_message_preview`

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (jid, name, is_group, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			is_group = excluded.is_group,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.JID, c.Name, c.IsGroup, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// TouchChatSQL records a chat's latest message, creating the chat if needed.
// Name and unread counter are never touched, and an older message never
// replaces a newer preview.
const TouchChatSQL = `
	INSERT INTO chats (jid, is_group, last_message_at, last_message_preview, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
		updated_at = excluded.updated_at`

// TouchChat applies TouchChatSQL outside a transaction.
func (db *DB) TouchChat(ctx context.Context, jid string, at int64, preview string) error {
	_, err := db.ExecContext(ctx, TouchChatSQL, jid, IsGroupJID(jid), at, preview, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("touch chat %q: %w", jid, err)
	}
	return nil
}

// IsGroupJID reports whether jid addresses a group chat.
func IsGroupJID(jid string) bool {
	parsed, err := types.ParseJID(jid)
	return err == nil && parsed.Server == types.GroupServer
}

// ListChats returns chats sorted by last message timestamp descending.
// Names are resolved via LEFT JOIN to contacts table with fallback:
// chat.name -> contact.push_name -> contact.name -> chat.jid
func (db *DB) ListChats(ctx context.Context, f ChatFilter) ([]Chat, error) {
	var q strings.Builder
	q.WriteString(`SELECT ` + chatColumns + `
		FROM chats c
		LEFT JOIN contacts ct ON c.jid = ct.jid`)
	if f.OnlyWithUnread {
		q.WriteString(` WHERE c.unread_count > 0`)
	}
	q.WriteString(` ORDER BY c.last_message_at DESC, c.jid ASC`)

	var args []any
	if f.Limit > 0 {
		q.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// LookupChat fetches a chat without creating it. Returns ErrNotFound when
// no chat is stored under exactly this JID.
func (db *DB) LookupChat(ctx context.Context, jid string) (*Chat, error) {
	var c Chat
	err := db.QueryRowContext(ctx, `SELECT `+chatColumns+`
		FROM chats c
		LEFT JOIN contacts ct ON c.jid = ct.jid
		WHERE c.jid = ?`, jid).
		Scan(&c.JID, &c.Name, &c.IsGroup, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat %q: %w", jid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindOrCreateChat returns the chat for jid, creating an empty record for
// user and LID chats. Group, broadcast and newsletter chats are never
// materialized here; a missing one yields ErrNotFound.
// Concurrent calls for the same JID create at most one row.
func (db *DB) FindOrCreateChat(ctx context.Context, jid string) (*Chat, error) {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("parse chat jid %q: %w", jid, err)
	}
	switch parsed.Server {
	case types.DefaultUserServer, types.HiddenUserServer:
		return db.CreateChat(ctx, jid)
	default:
		return db.LookupChat(ctx, jid)
	}
}

// CreateChat inserts an empty chat record for jid unless one exists, and
// returns the stored record.
func (db *DB) CreateChat(ctx context.Context, jid string) (*Chat, error) {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("parse chat jid %q: %w", jid, err)
	}
	now := time.Now().UnixMilli()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO chats (jid, is_group, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(jid) DO NOTHING`,
		jid, parsed.Server == types.GroupServer, now); err != nil {
		return nil, fmt.Errorf("create chat %q: %w", jid, err)
	}
	return db.LookupChat(ctx, jid)
}

// IncrementUnread bumps the chat's unread counter and returns the updated chat.
func (db *DB) IncrementUnread(ctx context.Context, jid string) (*Chat, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE chats SET unread_count = MAX(unread_count, 0) + 1, updated_at = ?
		WHERE jid = ?`, time.Now().UnixMilli(), jid)
	if err != nil {
		return nil, fmt.Errorf("increment unread %q: %w", jid, err)
	}
	if err := expectRow(res, jid); err != nil {
		return nil, err
	}
	return db.LookupChat(ctx, jid)
}

// SetUnreadCount overwrites the chat's unread counter and returns the updated chat.
func (db *DB) SetUnreadCount(ctx context.Context, jid string, count int) (*Chat, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE chats SET unread_count = ?, updated_at = ?
		WHERE jid = ?`, count, time.Now().UnixMilli(), jid)
	if err != nil {
		return nil, fmt.Errorf("set unread %q: %w", jid, err)
	}
	if err := expectRow(res, jid); err != nil {
		return nil, err
	}
	return db.LookupChat(ctx, jid)
}

// MarkUnread raises the unread counter to at least one.
func (db *DB) MarkUnread(ctx context.Context, jid string) (*Chat, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE chats SET unread_count = MAX(unread_count, 1), updated_at = ?
		WHERE jid = ?`, time.Now().UnixMilli(), jid)
	if err != nil {
		return nil, fmt.Errorf("mark unread %q: %w", jid, err)
	}
	if err := expectRow(res, jid); err != nil {
		return nil, err
	}
	return db.LookupChat(ctx, jid)
}

func expectRow(res sql.Result, jid string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("chat %q: %w", jid, ErrNotFound)
	}
	return nil
}

// ChatCount returns the total number of chats.
func (db *DB) ChatCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats`).Scan(&count)
	return count, err
}
