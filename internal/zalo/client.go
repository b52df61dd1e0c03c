// Package zalo wraps the vendor Zalo client behind the bridge's session
// adapter. The vendor protocol itself (login handshake, event subscription,
// message delivery) is an opaque capability behind the Client interface;
// the adapter only translates its shapes into the bridge's.
package zalo

import (
	"context"

	"github.com/zalo-relay/bridge/internal/model"
)

// ThreadType discriminates direct chats from group chats on the platform.
type ThreadType int

const (
	ThreadTypeUser ThreadType = iota
	ThreadTypeGroup
)

// RawEvent is a single event from the vendor listener, in the vendor's
// shape. Content is a string for plain text or a map for structured
// payloads; Timestamp is whatever the platform supplied (number, numeric
// string, or nothing). A non-nil Err marks a listener error event.
type RawEvent struct {
	SenderID   string
	ThreadID   string
	MessageID  string
	Timestamp  interface{}
	Content    interface{}
	ThreadType ThreadType
	Err        error
}

// Client is the vendor Zalo client contract.
//
// Login establishes the upstream session. Listen starts the vendor event
// stream; the returned channel is closed when the session ends or ctx is
// cancelled. Disconnect releases the session and must be safe to call more
// than once.
type Client interface {
	Login(ctx context.Context, creds model.Credentials) error
	Listen(ctx context.Context) (<-chan RawEvent, error)
	SendMessage(ctx context.Context, threadID, text string) error
	SendTypingEvent(ctx context.Context, threadID string) error
	Disconnect() error
}
