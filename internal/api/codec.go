package api

import (
	"fmt"
	"strings"

	"github.com/matheus3301/wppchat/internal/chat"
	"github.com/matheus3301/wppchat/internal/store"
	"github.com/matheus3301/wppchat/internal/wid"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response fields.
//
// EnsureChat / EnsureChatSync request: ref (string, or {id, serialized}),
// create_chat (bool), ensure_lid (bool, default true). Response: chat.
// GetUnreadChats request: only_new (bool). Response: chats.
const (
	fieldRef        = "ref"
	fieldID         = "id"
	fieldSerialized = "serialized"
	fieldCreateChat = "create_chat"
	fieldEnsureLID  = "ensure_lid"
	fieldOnlyNew    = "only_new"
	fieldChat       = "chat"
	fieldChats      = "chats"
	fieldUnread     = "unread_count"
)

func chatToMap(c *store.Chat) map[string]any {
	return map[string]any{
		"jid":                  c.JID,
		"name":                 validText(c.Name),
		"is_group":             c.IsGroup,
		fieldUnread:            c.UnreadCount,
		"last_message_at":      c.LastMessageAt,
		"last_message_preview": validText(c.LastMessagePreview),
	}
}

// validText replaces invalid UTF-8, which structpb refuses to encode.
func validText(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func chatFromStruct(s *structpb.Struct) *store.Chat {
	f := s.GetFields()
	return &store.Chat{
		JID:                f["jid"].GetStringValue(),
		Name:               f["name"].GetStringValue(),
		IsGroup:            f["is_group"].GetBoolValue(),
		UnreadCount:        int(f[fieldUnread].GetNumberValue()),
		LastMessageAt:      int64(f["last_message_at"].GetNumberValue()),
		LastMessagePreview: f["last_message_preview"].GetStringValue(),
	}
}

func chatResponse(c *store.Chat) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{fieldChat: chatToMap(c)})
}

func chatsResponse(chats []store.Chat) (*structpb.Struct, error) {
	list := make([]any, len(chats))
	for i := range chats {
		list[i] = chatToMap(&chats[i])
	}
	return structpb.NewStruct(map[string]any{fieldChats: list})
}

func changeResponse(c store.UnreadCountChanged) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldChat:   chatToMap(c.Chat),
		fieldUnread: c.UnreadCount,
	})
}

// refFromRequest reads the chat reference. A string is a raw identifier; a
// struct is a record with id and/or serialized fields.
func refFromRequest(req *structpb.Struct) (wid.Ref, error) {
	v, ok := req.GetFields()[fieldRef]
	if !ok {
		return wid.Ref{}, fmt.Errorf("missing %q: %w", fieldRef, wid.ErrInvalidIdentifier)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return wid.Raw(k.StringValue), nil
	case *structpb.Value_StructValue:
		f := k.StructValue.GetFields()
		return wid.Record(f[fieldID].GetStringValue(), f[fieldSerialized].GetStringValue()), nil
	default:
		return wid.Ref{}, fmt.Errorf("%q must be a string or object: %w", fieldRef, wid.ErrInvalidIdentifier)
	}
}

func optionsFromRequest(req *structpb.Struct) chat.EnsureOptions {
	opts := chat.DefaultEnsureOptions()
	f := req.GetFields()
	if v, ok := f[fieldCreateChat]; ok {
		opts.CreateChat = v.GetBoolValue()
	}
	if v, ok := f[fieldEnsureLID]; ok {
		opts.EnsureLID = v.GetBoolValue()
	}
	return opts
}

func ensureRequest(ref any, opts *chat.EnsureOptions) (*structpb.Struct, error) {
	m := map[string]any{fieldRef: ref}
	if opts != nil {
		m[fieldCreateChat] = opts.CreateChat
		m[fieldEnsureLID] = opts.EnsureLID
	}
	return structpb.NewStruct(m)
}
