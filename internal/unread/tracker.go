package unread

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/store"
	"go.uber.org/zap"
)

// DefaultBuffer is the bus subscription buffer used when none is configured.
const DefaultBuffer = 256

// Lister is the full-scan fallback for GetUnreadChats.
type Lister interface {
	ListChats(ctx context.Context, f store.ChatFilter) ([]store.Chat, error)
}

// Tracker keeps the set of chats whose latest observed unread count was
// positive. It is built from events only, so it reflects what happened since
// Subscribe, not the store's current state.
type Tracker struct {
	lister Lister
	logger *zap.Logger

	mu    sync.RWMutex
	chats []store.Chat
}

// NewTracker creates an empty tracker.
func NewTracker(lister Lister, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{lister: lister, logger: logger}
}

// Subscribe registers the tracker on the bus. Changes are applied in order on
// a single goroutine until ctx ends or the returned func is called.
func (t *Tracker) Subscribe(ctx context.Context, b *bus.Bus, bufSize int) (stop func()) {
	if bufSize <= 0 {
		bufSize = DefaultBuffer
	}
	return b.Listen(ctx, bus.KindChatUnreadCountChanged, bufSize, func(evt bus.Event) {
		switch p := evt.Payload.(type) {
		case store.UnreadCountChanged:
			t.Handle(p)
		case *store.UnreadCountChanged:
			if p != nil {
				t.Handle(*p)
			}
		default:
			t.logger.Warn("unexpected unread payload", zap.String("event_id", evt.ID))
		}
	})
}

// Handle applies one unread-count change. A positive count adds the chat if
// it is not tracked yet; zero or less removes it.
func (t *Tracker) Handle(change store.UnreadCountChanged) {
	if change.Chat == nil || change.Chat.JID == "" {
		return
	}
	jid := change.Chat.JID

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOf(jid)
	if change.UnreadCount > 0 {
		if idx < 0 {
			c := *change.Chat
			c.UnreadCount = change.UnreadCount
			t.chats = append(t.chats, c)
		}
		return
	}
	if idx >= 0 {
		t.chats = append(t.chats[:idx], t.chats[idx+1:]...)
	}
}

func (t *Tracker) indexOf(jid string) int {
	for i := range t.chats {
		if t.chats[i].JID == jid {
			return i
		}
	}
	return -1
}

// Snapshot returns a copy of the tracked chats in insertion order.
func (t *Tracker) Snapshot() []store.Chat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]store.Chat, len(t.chats))
	copy(out, t.chats)
	return out
}

// GetUnreadChats returns the tracked set when onlyNew is true. Otherwise it
// lists every chat with a positive unread count from the store.
func (t *Tracker) GetUnreadChats(ctx context.Context, onlyNew bool) ([]store.Chat, error) {
	if onlyNew {
		return t.Snapshot(), nil
	}
	chats, err := t.lister.ListChats(ctx, store.ChatFilter{OnlyWithUnread: true})
	if err != nil {
		return nil, fmt.Errorf("list unread chats: %w", err)
	}
	return chats, nil
}
