package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned by the surface while nobody is signed in.
	ErrNoIdentity = errors.New("session: no identity")
	// ErrClosed is returned by a Messenger after its identity was replaced
	// or cleared.
	ErrClosed = errors.New("session: messenger closed")
	// ErrUnknownConversation is returned for ids the conversation list does
	// not hold.
	ErrUnknownConversation = errors.New("session: unknown conversation")
	// ErrPendingDelete rejects deleting a send that is still in flight.
	ErrPendingDelete = errors.New("session: message is still being sent")
	// ErrBroadcastRoom rejects actions that do not apply to the shared room.
	ErrBroadcastRoom = errors.New("session: not allowed in the broadcast room")
)

// HistoryFetchError is the pane state of a conversation whose history
// could not be loaded. Selecting the conversation again clears it.
type HistoryFetchError struct {
	ConversationID string
	Err            error
}

func (e *HistoryFetchError) Error() string {
	return fmt.Sprintf("load history of %s: %v", e.ConversationID, e.Err)
}

func (e *HistoryFetchError) Unwrap() error { return e.Err }

// SendRejected is the reason recorded when the server refused one send.
type SendRejected struct {
	Reason string
}

func (e *SendRejected) Error() string { return "rejected by server: " + e.Reason }
