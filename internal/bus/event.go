package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published on the bus. Subscribers match on prefix, so "wa."
// receives every platform event.
const (
	KindWAMessage      = "wa.message"
	KindWAHistoryBatch = "wa.history_batch"
	KindWAContact      = "wa.contact"
	KindWAChatRead     = "wa.chat_read"
	KindWAConnected    = "wa.connected"
	KindWADisconnected = "wa.disconnected"
	KindWALoggedOut    = "wa.logged_out"

	KindChatUnreadCountChanged = "chat.unread_count_changed"
	KindMessageUpserted        = "message.upserted"

	KindSyncConnected    = "sync.connected"
	KindSyncHistoryBatch = "sync.history_batch"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
