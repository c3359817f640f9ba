package wid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
)

func TestCoerceVariants(t *testing.T) {
	user := types.NewJID("5511999990000", types.DefaultUserServer)

	tests := []struct {
		name string
		ref  Ref
		want types.JID
	}{
		{"raw jid", Raw("5511999990000@s.whatsapp.net"), user},
		{"raw legacy server", Raw("5511999990000@c.us"), user},
		{"raw device suffix", Raw("5511999990000:3@s.whatsapp.net"), user},
		{"raw phone", Raw("+55 11 99999-0000"), user},
		{"jid", FromJID(user), user},
		{"jid with device", FromJID(types.JID{User: "5511999990000", Server: types.DefaultUserServer, Device: 2}), user},
		{"record id", Record("5511999990000@s.whatsapp.net", "123@lid"), user},
		{"record serialized only", Record("", "5511999990000@s.whatsapp.net"), user},
		{"serialized", Serialized("5511999990000@c.us"), user},
		{"lid", Raw("3917077286968@lid"), types.NewJID("3917077286968", types.HiddenUserServer)},
		{"group", Raw("120363123456@g.us"), types.NewJID("120363123456", types.GroupServer)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceInvalid(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
	}{
		{"zero ref", Ref{}},
		{"empty raw", Raw("")},
		{"whitespace", Raw("   ")},
		{"record without fields", Record("", "")},
		{"unknown server", Raw("123@example.com")},
		{"missing user", Raw("@s.whatsapp.net")},
		{"letters", Raw("alice")},
		{"too short", Raw("123")},
		{"empty jid", FromJID(types.EmptyJID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.ref)
			require.ErrorIs(t, err, ErrInvalidIdentifier)
		})
	}
}

func TestCoerceIdempotent(t *testing.T) {
	inputs := []Ref{
		Raw("+5511999990000"),
		Raw("3917077286968@lid"),
		Record("", "120363123456@g.us"),
		Serialized("5511999990000:7@s.whatsapp.net"),
	}
	for _, in := range inputs {
		first, err := Coerce(in)
		require.NoError(t, err)

		again, err := Coerce(FromJID(first))
		require.NoError(t, err)
		assert.Equal(t, first, again)

		fromString, err := Coerce(Raw(first.String()))
		require.NoError(t, err)
		assert.Equal(t, first, fromString)
	}
}

func TestSubkinds(t *testing.T) {
	pn := types.NewJID("5511999990000", types.DefaultUserServer)
	lid := types.NewJID("3917077286968", types.HiddenUserServer)
	group := types.NewJID("120363123456", types.GroupServer)

	assert.True(t, IsUser(pn))
	assert.False(t, IsLID(pn))
	assert.True(t, IsLID(lid))
	assert.False(t, IsUser(lid))
	assert.False(t, IsUser(group))
	assert.False(t, IsLID(group))
	assert.False(t, IsUser(types.EmptyJID))
}

func TestParseLID(t *testing.T) {
	got, ok := ParseLID("3917077286968@lid")
	require.True(t, ok)
	assert.Equal(t, "3917077286968@lid", got.String())

	for _, bad := range []string{"", "5511999990000@s.whatsapp.net", "garbage"} {
		_, ok := ParseLID(bad)
		assert.False(t, ok, "ParseLID(%q)", bad)
	}
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "abc", Raw("abc").String())
	assert.Equal(t, "x@lid", Record("", "x@lid").String())
	assert.Equal(t, "id@c.us", Record("id@c.us", "x@lid").String())
	assert.Equal(t, KindSerialized, Serialized("a").Kind())
}
