package chat

import (
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/types"
)

// ErrInvalidChat matches any *InvalidChatError.
var ErrInvalidChat = errors.New("invalid chat")

// InvalidChatError reports that no chat could be found or created for the
// requested identifier. JID is always the identifier the caller asked for,
// never an internal alias.
type InvalidChatError struct {
	JID types.JID
	Err error
}

func (e *InvalidChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid chat %s: %v", e.JID, e.Err)
	}
	return fmt.Sprintf("invalid chat %s", e.JID)
}

func (e *InvalidChatError) Unwrap() error { return e.Err }

func (e *InvalidChatError) Is(target error) bool { return target == ErrInvalidChat }
