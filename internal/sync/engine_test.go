package sync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/wppchat/internal/bus"
	"github.com/matheus3301/wppchat/internal/store"
	"github.com/matheus3301/wppchat/internal/unread"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", kind)
			return bus.Event{}
		}
	}
}

func TestEngineIngestMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	msg := &store.Message{
		ChatJID: "chat@s.whatsapp.net", MsgID: "m1", Body: "hello",
		MessageType: "text", Timestamp: 1000,
	}
	if err := e.IngestMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	chat, err := db.LookupChat(ctx, "chat@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if chat.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", chat.UnreadCount)
	}

	msgs, err := db.ListMessages(ctx, "chat@s.whatsapp.net", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Errorf("got %d messages, want 1 with body=hello", len(msgs))
	}

	waitEvent(t, ch, bus.KindMessageUpserted)
	evt := waitEvent(t, ch, bus.KindChatUnreadCountChanged)
	change, ok := evt.Payload.(store.UnreadCountChanged)
	if !ok {
		t.Fatalf("payload = %T, want store.UnreadCountChanged", evt.Payload)
	}
	if change.Chat.JID != "chat@s.whatsapp.net" || change.UnreadCount != 1 {
		t.Errorf("change = %+v", change)
	}
}

func TestEngineIngestMessageIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	ctx := context.Background()

	msg := &store.Message{
		ChatJID: "chat@s.whatsapp.net", MsgID: "m1", Body: "v1",
		MessageType: "text", Timestamp: 1000,
	}
	if err := e.IngestMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "v2"
	if err := e.IngestMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(ctx, "chat@s.whatsapp.net", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Body != "v2" {
		t.Errorf("body = %q, want v2 (updated)", msgs[0].Body)
	}
	chat, _ := db.LookupChat(ctx, "chat@s.whatsapp.net")
	if chat.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (redelivery must not count)", chat.UnreadCount)
	}
}

func TestEngineFromMeDoesNotCount(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	ctx := context.Background()

	if err := e.IngestMessage(ctx, &store.Message{
		ChatJID: "chat@s.whatsapp.net", MsgID: "m1", Body: "mine", FromMe: true, Timestamp: 1000,
	}); err != nil {
		t.Fatal(err)
	}
	chat, _ := db.LookupChat(ctx, "chat@s.whatsapp.net")
	if chat.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", chat.UnreadCount)
	}
}

func TestEngineMultiBytePreview(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	ctx := context.Background()

	body := strings.Repeat("a", previewLen-1) + "é depois"
	if err := e.IngestMessage(ctx, &store.Message{
		ChatJID: "chat@s.whatsapp.net", MsgID: "m1", Body: body, MessageType: "text", Timestamp: 1000,
	}); err != nil {
		t.Fatal(err)
	}

	chat, err := db.LookupChat(ctx, "chat@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(chat.LastMessagePreview) {
		t.Fatalf("preview %q is not valid UTF-8", chat.LastMessagePreview)
	}
	if want := strings.Repeat("a", previewLen-1); chat.LastMessagePreview != want {
		t.Errorf("preview = %q, want %q", chat.LastMessagePreview, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"aé", 2, "a"},
		{"aé", 3, "aé"},
		{"😀x", 3, ""},
		{"😀x", 4, "😀"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.max)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
		}
	}
}

func TestEngineIngestHistoryBatch(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	e := NewEngine(db, b, nil, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe("", 20)
	defer unsub()

	batch := &store.HistoryBatch{
		Chats: []store.Chat{
			{JID: "a@s.whatsapp.net", Name: "Alice", UnreadCount: 2},
			{JID: "b@lid", UnreadCount: 0},
		},
		Messages: []*store.Message{
			{ChatJID: "a@s.whatsapp.net", MsgID: "m1", Body: "one", MessageType: "text", Timestamp: 1000, Status: "received"},
			{ChatJID: "a@s.whatsapp.net", MsgID: "m2", Body: "two", MessageType: "text", Timestamp: 2000, Status: "received"},
			{ChatJID: "b@lid", MsgID: "m3", Body: "three", MessageType: "text", Timestamp: 3000, Status: "received"},
		},
	}
	if err := e.IngestHistoryBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(ctx, store.ChatFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	if chats[0].JID != "b@lid" || chats[1].Name != "Alice" || chats[1].UnreadCount != 2 {
		t.Errorf("chats = %+v", chats)
	}
	if chats[1].LastMessagePreview != "two" {
		t.Errorf("preview = %q, want two", chats[1].LastMessagePreview)
	}

	msgsA, _ := db.ListMessages(ctx, "a@s.whatsapp.net", 0, 10)
	msgsB, _ := db.ListMessages(ctx, "b@lid", 0, 10)
	if len(msgsA) != 2 || len(msgsB) != 1 {
		t.Errorf("got %d+%d messages, want 2+1", len(msgsA), len(msgsB))
	}

	first := waitEvent(t, ch, bus.KindChatUnreadCountChanged).Payload.(store.UnreadCountChanged)
	second := waitEvent(t, ch, bus.KindChatUnreadCountChanged).Payload.(store.UnreadCountChanged)
	if first.UnreadCount != 2 || second.UnreadCount != 0 {
		t.Errorf("unread changes = %d, %d; want 2, 0", first.UnreadCount, second.UnreadCount)
	}
	waitEvent(t, ch, bus.KindSyncHistoryBatch)
}

func TestEngineHistoryBatchIdempotent(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	ctx := context.Background()

	batch := &store.HistoryBatch{Messages: []*store.Message{
		{ChatJID: "a@s.whatsapp.net", MsgID: "m1", Body: "hello", MessageType: "text", Timestamp: 1000, Status: "received"},
	}}

	for range 2 {
		if err := e.IngestHistoryBatch(ctx, batch); err != nil {
			t.Fatal(err)
		}
	}

	stored, _ := db.ListMessages(ctx, "a@s.whatsapp.net", 0, 10)
	if len(stored) != 1 {
		t.Errorf("got %d messages, want 1 (idempotent batch)", len(stored))
	}
}

func TestEngineApplyChatRead(t *testing.T) {
	db := testDB(t)
	e := NewEngine(db, bus.New(), nil, nil)
	ctx := context.Background()

	if err := db.UpsertChat(&store.Chat{JID: "a@s.whatsapp.net", UnreadCount: 5}); err != nil {
		t.Fatal(err)
	}

	if err := e.ApplyChatRead(ctx, store.ChatRead{JID: "a@s.whatsapp.net", Read: true}); err != nil {
		t.Fatal(err)
	}
	chat, _ := db.LookupChat(ctx, "a@s.whatsapp.net")
	if chat.UnreadCount != 0 {
		t.Errorf("after read unread = %d, want 0", chat.UnreadCount)
	}

	if err := e.ApplyChatRead(ctx, store.ChatRead{JID: "a@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	chat, _ = db.LookupChat(ctx, "a@s.whatsapp.net")
	if chat.UnreadCount != 1 {
		t.Errorf("after mark unread = %d, want 1", chat.UnreadCount)
	}

	if err := e.ApplyChatRead(ctx, store.ChatRead{JID: "ghost@s.whatsapp.net", Read: true}); err != nil {
		t.Errorf("unknown chat should be ignored, got %v", err)
	}
}

type fakeSource struct {
	contacts []store.Contact
	mappings []store.LIDMapping
	err      error
}

func (f *fakeSource) GetContacts(context.Context) ([]store.Contact, error) {
	return f.contacts, f.err
}

func (f *fakeSource) GetLIDMappings(context.Context) ([]store.LIDMapping, error) {
	return f.mappings, f.err
}

func TestReconcile(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	src := &fakeSource{
		contacts: []store.Contact{
			{JID: "a@s.whatsapp.net", Name: "Alice"},
			{JID: "b@s.whatsapp.net", LID: "old@lid"},
		},
		mappings: []store.LIDMapping{
			{LID: "1@lid", PN: "a@s.whatsapp.net"},
			{LID: "2@lid", PN: "b@s.whatsapp.net"},
		},
	}
	r := NewReconciler(db, src, zap.NewNop())

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	a, _ := db.GetContact(ctx, "a@s.whatsapp.net")
	if a == nil || a.LID != "1@lid" || a.Name != "Alice" {
		t.Errorf("contact a = %+v, want LID 1@lid", a)
	}
	b, _ := db.GetContact(ctx, "b@s.whatsapp.net")
	if b.LID != "old@lid" {
		t.Errorf("contact b LID = %q, want old@lid (never overwritten)", b.LID)
	}

	at, err := r.GetCheckpoint(ctx, CheckpointLIDReconcile)
	if err != nil || at == "" {
		t.Errorf("checkpoint = %q, %v", at, err)
	}
}

func TestReconcileSourceError(t *testing.T) {
	db := testDB(t)
	boom := errors.New("device store locked")
	r := NewReconciler(db, &fakeSource{err: boom}, nil)
	if err := r.Reconcile(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil, nil)
	ctx := context.Background()

	if v, err := r.GetCheckpoint(ctx, "missing"); err != nil || v != "" {
		t.Errorf("missing checkpoint = %q, %v", v, err)
	}
	if err := r.UpdateCheckpoint(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := r.UpdateCheckpoint(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.GetCheckpoint(ctx, "k"); v != "v2" {
		t.Errorf("checkpoint = %q, want v2", v)
	}
}

// TestEngineBusSubscription verifies the engine processes events from the bus
// and that the unread tracker observes the resulting counter changes.
func TestEngineBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	e := NewEngine(db, b, NewReconciler(db, nil, logger), logger)
	tracker := unread.NewTracker(db, logger)
	ctx := context.Background()

	stopTracker := tracker.Subscribe(ctx, b, 16)
	defer stopTracker()
	e.Start(ctx)
	defer e.Stop()

	b.Publish(bus.NewEvent(bus.KindWAMessage, &store.Message{
		ChatJID: "bus-test@s.whatsapp.net", MsgID: "bm1", Body: "from bus",
		MessageType: "text", Timestamp: 5000, Status: "received",
	}))

	deadline := time.Now().Add(time.Second)
	for len(tracker.Snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := tracker.Snapshot()
	if len(snap) != 1 || snap[0].JID != "bus-test@s.whatsapp.net" {
		t.Fatalf("tracked = %+v, want bus-test chat", snap)
	}

	b.Publish(bus.NewEvent(bus.KindWAChatRead, store.ChatRead{JID: "bus-test@s.whatsapp.net", Read: true}))

	deadline = time.Now().Add(time.Second)
	for len(tracker.Snapshot()) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(tracker.Snapshot()); n != 0 {
		t.Errorf("tracked %d chats after read, want 0", n)
	}

	msgs, err := db.ListMessages(ctx, "bus-test@s.whatsapp.net", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "from bus" {
		t.Errorf("got %+v, want one message 'from bus'", msgs)
	}
}
