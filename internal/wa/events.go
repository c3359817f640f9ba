package wa

import (
	"context"

	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Identities maps a LID back to the phone number JID it belongs to.
type Identities interface {
	PNForLID(ctx context.Context, lid types.JID) (types.JID, bool)
}

// EventHandler translates whatsmeow events into bus events. Chats keep the
// identifier the platform used for them; when a LID chat's phone number is
// known, the pairing is published as a contact so the alias gets cached.
type EventHandler struct {
	bus    *bus.Bus
	ids    Identities
	logger *zap.Logger
}

// NewEventHandler creates a new event handler. ids may be nil.
func NewEventHandler(b *bus.Bus, ids Identities, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		bus:    b,
		ids:    ids,
		logger: logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.bus.Publish(bus.NewEvent(bus.KindWAContact, &store.Contact{
			JID:      evt.JID.ToNonAD().String(),
			PushName: evt.NewPushName,
		}))
	case *events.MarkChatAsRead:
		if evt.Action == nil {
			return
		}
		h.bus.Publish(bus.NewEvent(bus.KindWAChatRead, store.ChatRead{
			JID:  evt.JID.ToNonAD().String(),
			Read: evt.Action.GetRead(),
		}))
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Publish(bus.NewEvent(bus.KindWAConnected, nil))
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Publish(bus.NewEvent(bus.KindWADisconnected, nil))
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Publish(bus.NewEvent(bus.KindWALoggedOut, evt.Reason.String()))
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	h.learnAlias(evt.Info.Chat.ToNonAD())
	h.bus.Publish(bus.NewEvent(bus.KindWAMessage, parsed.ToStoreMessage()))
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	batch := &store.HistoryBatch{}
	pushNames := make(map[string]string)
	for _, conv := range data.GetConversations() {
		chatJID := NormalizeJID(conv.GetID())
		if chatJID == "" {
			continue
		}

		unread := int(conv.GetUnreadCount())
		if conv.GetMarkedAsUnread() && unread == 0 {
			unread = 1
		}
		batch.Chats = append(batch.Chats, store.Chat{
			JID:         chatJID,
			Name:        conv.GetName(),
			UnreadCount: unread,
		})
		if jid, err := types.ParseJID(chatJID); err == nil {
			h.learnAlias(jid)
		}

		for _, hm := range conv.GetMessages() {
			parsed := ParseHistoryMessage(chatJID, hm.GetMessage())
			if parsed == nil {
				continue
			}
			batch.Messages = append(batch.Messages, parsed.ToStoreMessage())
			if parsed.SenderName != "" && parsed.SenderJID != "" && !parsed.FromMe {
				pushNames[parsed.SenderJID] = parsed.SenderName
			}
		}
	}

	if len(batch.Chats) == 0 && len(batch.Messages) == 0 {
		return
	}
	h.bus.Publish(bus.NewEvent(bus.KindWAHistoryBatch, batch))
	for jid, name := range pushNames {
		h.bus.Publish(bus.NewEvent(bus.KindWAContact, &store.Contact{JID: jid, PushName: name}))
	}
}

// learnAlias publishes the phone number contact of a LID chat with the LID
// attached, when the device store can map it.
func (h *EventHandler) learnAlias(chat types.JID) {
	if h.ids == nil || chat.Server != types.HiddenUserServer {
		return
	}
	pn, ok := h.ids.PNForLID(context.Background(), chat)
	if !ok {
		return
	}
	h.logger.Debug("lid chat mapped", zap.String("lid", chat.String()), zap.String("pn", pn.String()))
	h.bus.Publish(bus.NewEvent(bus.KindWAContact, &store.Contact{
		JID: pn.ToNonAD().String(),
		LID: chat.String(),
	}))
}
