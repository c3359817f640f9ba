package wid

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrInvalidIdentifier is returned when a reference cannot be normalized to a JID.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Kind tags the shape of a Ref.
type Kind uint8

const (
	KindRaw Kind = iota + 1
	KindJID
	KindRecord
	KindSerialized
)

// Ref is a loosely-typed reference to a chat or contact. Build one with
// Raw, FromJID, Record or Serialized.
type Ref struct {
	kind       Kind
	raw        string
	jid        types.JID
	serialized string
}

// Raw wraps a raw string such as "5511999999999@s.whatsapp.net" or "+55 11 99999-9999".
func Raw(s string) Ref { return Ref{kind: KindRaw, raw: s} }

// FromJID wraps an already parsed JID.
func FromJID(j types.JID) Ref { return Ref{kind: KindJID, jid: j} }

// Record wraps an object exposing an id field and/or a serialized identifier.
// The id wins when both are set.
func Record(id, serialized string) Ref {
	return Ref{kind: KindRecord, raw: id, serialized: serialized}
}

// Serialized wraps an object that only exposes its serialized identifier.
func Serialized(s string) Ref { return Ref{kind: KindSerialized, serialized: s} }

// Kind reports which variant r holds.
func (r Ref) Kind() Kind { return r.kind }

func (r Ref) String() string {
	switch r.kind {
	case KindJID:
		return r.jid.String()
	case KindRecord:
		if r.raw != "" {
			return r.raw
		}
		return r.serialized
	case KindSerialized:
		return r.serialized
	default:
		return r.raw
	}
}

// Coerce normalizes r to a canonical, device-less JID.
func Coerce(r Ref) (types.JID, error) {
	switch r.kind {
	case KindRaw:
		return coerceRaw(r.raw)
	case KindJID:
		return coerceJID(r.jid)
	case KindRecord:
		return coerceRecord(r.raw, r.serialized)
	case KindSerialized:
		return coerceSerialized(r.serialized)
	default:
		return types.EmptyJID, fmt.Errorf("%w: empty reference", ErrInvalidIdentifier)
	}
}

func coerceRaw(raw string) (types.JID, error) {
	return Construct(raw)
}

func coerceJID(j types.JID) (types.JID, error) {
	return Construct(j.String())
}

func coerceRecord(id, serialized string) (types.JID, error) {
	if id != "" {
		return Construct(id)
	}
	return coerceSerialized(serialized)
}

func coerceSerialized(serialized string) (types.JID, error) {
	return Construct(serialized)
}

// Construct builds a JID from its raw form. The JID parser is tried first,
// then a bare phone number is accepted as a user identifier.
func Construct(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty value", ErrInvalidIdentifier)
	}
	if jid, ok := parseJID(raw); ok {
		return jid, nil
	}
	if jid, ok := parsePhone(raw); ok {
		return jid, nil
	}
	return types.EmptyJID, fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
}

var knownServers = map[string]bool{
	types.DefaultUserServer: true,
	types.HiddenUserServer:  true,
	types.GroupServer:       true,
	types.BroadcastServer:   true,
	types.NewsletterServer:  true,
}

func parseJID(raw string) (types.JID, bool) {
	if !strings.Contains(raw, "@") {
		return types.EmptyJID, false
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, false
	}
	if jid.Server == types.LegacyUserServer {
		jid.Server = types.DefaultUserServer
	}
	if jid.User == "" || !knownServers[jid.Server] {
		return types.EmptyJID, false
	}
	return jid.ToNonAD(), true
}

func parsePhone(raw string) (types.JID, bool) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return types.EmptyJID, false
		}
	}
	digits := b.String()
	if len(digits) < 5 || len(digits) > 20 {
		return types.EmptyJID, false
	}
	return types.NewJID(digits, types.DefaultUserServer), true
}

// IsUser reports whether j is a phone-number user identifier.
func IsUser(j types.JID) bool {
	return j.Server == types.DefaultUserServer && j.User != ""
}

// IsLID reports whether j is a linked identifier.
func IsLID(j types.JID) bool {
	return j.Server == types.HiddenUserServer && j.User != ""
}

// ParseLID parses a cached alias, returning ok=false unless it is a valid LID.
func ParseLID(s string) (types.JID, bool) {
	if s == "" {
		return types.EmptyJID, false
	}
	jid, ok := parseJID(s)
	if !ok || !IsLID(jid) {
		return types.EmptyJID, false
	}
	return jid, true
}
