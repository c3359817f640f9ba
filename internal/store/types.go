package store

import (
	"errors"

	"github.com/matheus3301/wppchat/internal/wid"
)

// ErrNotFound is returned when no record exists for the exact key requested.
var ErrNotFound = errors.New("not found")

// Chat represents a synced chat. JID may be a phone-number JID or a LID.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Ref returns the chat as a coercible reference.
func (c *Chat) Ref() wid.Ref {
	return wid.Record(c.JID, "")
}

// Contact represents a synced contact. LID caches the contact's linked
// identifier and is empty until discovered.
type Contact struct {
	JID      string
	Name     string
	PushName string
	LID      string
}

// Message represents a synced message.
type Message struct {
	ID          int64
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Status      string
	Timestamp   int64
}

// ChatFilter narrows ListChats.
type ChatFilter struct {
	OnlyWithUnread bool
	Limit          int // 0 = no limit
	Offset         int
}

// UnreadCountChanged is published whenever a chat's unread counter changes.
type UnreadCountChanged struct {
	Chat        *Chat
	UnreadCount int
}

// HistoryBatch is one decoded history sync chunk. Chats carry the name and
// unread counter the platform reported for each conversation.
type HistoryBatch struct {
	Chats    []Chat
	Messages []*Message
}

// ChatRead reports a read or marked-unread action taken on another device.
type ChatRead struct {
	JID  string
	Read bool
}
