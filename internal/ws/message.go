package ws

import (
	"encoding/json"

	"github.com/zalo-relay/bridge/internal/model"
)

// CommandType represents the type of a client -> server frame.
type CommandType string

const (
	CommandLogin  CommandType = "login"
	CommandSend   CommandType = "send"
	CommandTyping CommandType = "typing"
)

// EventType represents the type of a server -> client frame.
type EventType string

const (
	EventLogin   EventType = "login"
	EventStatus  EventType = "status"
	EventMessage EventType = "message"
	EventError   EventType = "error"
)

// Command is a frame received from a local client.
type Command struct {
	Type CommandType `json:"type"`

	// login
	Cookie    json.RawMessage `json:"cookie,omitempty"`
	IMEI      string          `json:"imei,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`

	// send / typing
	To   string `json:"to,omitempty"`
	Text string `json:"text,omitempty"`
}

// ParseCommand decodes and validates a single command frame.
func ParseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, err
	}
	switch cmd.Type {
	case CommandLogin, CommandSend, CommandTyping:
		return &cmd, nil
	default:
		return nil, &UnknownCommandError{Type: string(cmd.Type)}
	}
}

// UnknownCommandError reports a well-formed frame whose type is not part of
// the protocol.
type UnknownCommandError struct {
	Type string
}

func (e *UnknownCommandError) Error() string {
	if e.Type == "" {
		return "missing command type"
	}
	return "unknown command type: " + e.Type
}

type loginEvent struct {
	Type    EventType `json:"type"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

type statusEvent struct {
	Type   EventType `json:"type"`
	Status string    `json:"status"`
}

type messageEvent struct {
	Type EventType `json:"type"`
	model.InboundMessage
}

type errorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// MarshalLoginResult encodes the result of a login attempt.
func MarshalLoginResult(success bool, errMsg string) ([]byte, error) {
	return json.Marshal(loginEvent{Type: EventLogin, Success: success, Error: errMsg})
}

// MarshalStatus encodes a session lifecycle change.
func MarshalStatus(status string) ([]byte, error) {
	return json.Marshal(statusEvent{Type: EventStatus, Status: status})
}

// MarshalMessage encodes an inbound platform message.
func MarshalMessage(msg *model.InboundMessage) ([]byte, error) {
	return json.Marshal(messageEvent{Type: EventMessage, InboundMessage: *msg})
}

// MarshalError encodes a per-client protocol error.
func MarshalError(errMsg string) ([]byte, error) {
	return json.Marshal(errorEvent{Type: EventError, Error: errMsg})
}
