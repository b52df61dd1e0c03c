// Package model defines the bridge's data shapes: session credentials and
// the inbound message form forwarded to local clients.
package model

import "encoding/json"

// Credentials carry the cookie payload, device IMEI and user-agent used to
// authenticate the upstream Zalo session. They are supplied by whichever
// local client logs in first and are immutable for the life of the session.
//
// Cookie is kept as raw JSON: the platform accepts either a plain cookie
// string or a structured cookie array, and the bridge forwards it untouched.
type Credentials struct {
	Cookie    json.RawMessage
	IMEI      string
	UserAgent string
}

// Attachment is the forwarded form of a structured message payload that
// carries a link.
type Attachment struct {
	Type string `json:"type"`
	Href string `json:"href"`
}

// InboundMessage is a platform message translated into the bridge's shape.
// Content is either a plain string or an Attachment. Timestamp is unix
// milliseconds; the adapter guarantees it is never zero.
type InboundMessage struct {
	SenderID  string      `json:"senderId"`
	ThreadID  string      `json:"threadId"`
	Content   interface{} `json:"content"`
	MessageID string      `json:"messageId"`
	Timestamp int64       `json:"timestamp"`
	IsGroup   bool        `json:"isGroup"`
}
