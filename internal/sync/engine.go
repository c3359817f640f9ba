package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/store"
	"go.uber.org/zap"
)

const (
	previewLen = 100
	busBuffer  = 256
)

// Engine handles idempotent ingestion of platform events into the store.
// It subscribes to "wa." events on the bus and keeps unread counters current,
// publishing a chat.unread_count_changed event for every counter it writes.
type Engine struct {
	db         *store.DB
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	stop       func()
}

// NewEngine creates a new sync engine. reconciler may be nil.
func NewEngine(db *store.DB, b *bus.Bus, reconciler *Reconciler, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:         db,
		bus:        b,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start subscribes to inbound WhatsApp events on the bus.
func (e *Engine) Start(ctx context.Context) {
	e.stop = e.bus.Listen(ctx, "wa.", busBuffer, func(evt bus.Event) {
		e.handleEvent(ctx, evt)
	})
}

// Stop stops the engine and waits for the in-flight event to finish.
func (e *Engine) Stop() {
	if e.stop != nil {
		e.stop()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindWAMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestMessage(ctx, msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.MsgID))
		}
	case bus.KindWAHistoryBatch:
		batch, ok := evt.Payload.(*store.HistoryBatch)
		if !ok {
			return
		}
		if err := e.IngestHistoryBatch(ctx, batch); err != nil {
			e.logger.Error("failed to ingest history batch", zap.Error(err), zap.Int("count", len(batch.Messages)))
		} else {
			e.logger.Info("history batch ingested", zap.Int("chats", len(batch.Chats)), zap.Int("messages", len(batch.Messages)))
		}
	case bus.KindWAContact:
		c, ok := evt.Payload.(*store.Contact)
		if !ok {
			return
		}
		if err := e.db.UpsertContact(ctx, c); err != nil {
			e.logger.Error("failed to upsert contact", zap.Error(err), zap.String("jid", c.JID))
		}
	case bus.KindWAChatRead:
		r, ok := evt.Payload.(store.ChatRead)
		if !ok {
			return
		}
		if err := e.ApplyChatRead(ctx, r); err != nil {
			e.logger.Error("failed to apply read state", zap.Error(err), zap.String("jid", r.JID))
		}
	case bus.KindWAConnected:
		if e.reconciler != nil {
			if err := e.reconciler.Reconcile(ctx); err != nil {
				e.logger.Error("reconcile failed", zap.Error(err))
			}
		}
		e.bus.Publish(bus.NewEvent(bus.KindSyncConnected, nil))
	case bus.KindWADisconnected:
		e.logger.Warn("platform disconnected")
	case bus.KindWALoggedOut:
		e.logger.Warn("platform session logged out", zap.Any("reason", evt.Payload))
	}
}

// IngestMessage processes a single message into the store (idempotent).
// A new inbound message bumps the chat's unread counter; redelivery does not.
func (e *Engine) IngestMessage(ctx context.Context, msg *store.Message) error {
	if err := e.db.TouchChat(ctx, msg.ChatJID, msg.Timestamp, truncate(msg.Body, previewLen)); err != nil {
		return err
	}

	created, err := e.db.UpsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	e.bus.Publish(bus.NewEvent(bus.KindMessageUpserted, map[string]string{
		"chat_jid": msg.ChatJID,
		"msg_id":   msg.MsgID,
	}))

	if !created || msg.FromMe {
		return nil
	}
	chat, err := e.db.IncrementUnread(ctx, msg.ChatJID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	e.publishUnread(chat)
	return nil
}

// IngestHistoryBatch processes a batch of history chats and messages in a
// transaction. Each chat's unread counter is set to what history reported.
func (e *Engine) IngestHistoryBatch(ctx context.Context, batch *store.HistoryBatch) error {
	now := time.Now().UnixMilli()
	chatsSeen := make(map[string]struct{})
	err := e.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range batch.Chats {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chats (jid, name, is_group, unread_count, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(jid) DO UPDATE SET
					name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
					unread_count = excluded.unread_count,
					updated_at = excluded.updated_at`,
				c.JID, c.Name, store.IsGroupJID(c.JID), c.UnreadCount, now); err != nil {
				return fmt.Errorf("upsert chat in batch: %w", err)
			}
		}

		for _, sm := range batch.Messages {
			if _, err := tx.ExecContext(ctx, store.TouchChatSQL,
				sm.ChatJID, store.IsGroupJID(sm.ChatJID), sm.Timestamp, truncate(sm.Body, previewLen), now); err != nil {
				return fmt.Errorf("touch chat in batch: %w", err)
			}
			chatsSeen[sm.ChatJID] = struct{}{}

			if _, err := tx.ExecContext(ctx, store.UpsertMessageSQL,
				sm.ChatJID, sm.MsgID, sm.SenderJID, sm.SenderName, sm.Body, sm.MessageType, sm.FromMe, sm.Status, sm.Timestamp, now); err != nil {
				return fmt.Errorf("upsert message in batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest history batch: %w", err)
	}

	for _, c := range batch.Chats {
		chat, err := e.db.LookupChat(ctx, c.JID)
		if err != nil {
			e.logger.Warn("history chat vanished", zap.String("jid", c.JID), zap.Error(err))
			continue
		}
		e.publishUnread(chat)
	}

	e.bus.Publish(bus.NewEvent(bus.KindSyncHistoryBatch, map[string]int{
		"messages_count": len(batch.Messages),
		"chats_count":    len(chatsSeen),
	}))
	return nil
}

// ApplyChatRead mirrors a read-state change from another device: read clears
// the counter, marked-unread raises it to at least one. Unknown chats are
// ignored.
func (e *Engine) ApplyChatRead(ctx context.Context, r store.ChatRead) error {
	var (
		chat *store.Chat
		err  error
	)
	if r.Read {
		chat, err = e.db.SetUnreadCount(ctx, r.JID, 0)
	} else {
		chat, err = e.db.MarkUnread(ctx, r.JID)
	}
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("read state for unknown chat", zap.String("jid", r.JID))
		return nil
	}
	if err != nil {
		return err
	}
	e.publishUnread(chat)
	return nil
}

func (e *Engine) publishUnread(chat *store.Chat) {
	e.bus.Publish(bus.NewEvent(bus.KindChatUnreadCountChanged, store.UnreadCountChanged{
		Chat:        chat,
		UnreadCount: chat.UnreadCount,
	}))
}

// truncate cuts s to at most maxLen bytes without splitting a UTF-8
// sequence.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
