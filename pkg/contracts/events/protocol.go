// Client-to-server protocol for the TickerPulse WebSocket endpoint.
package events

import (
	"encoding/json"
)

// Client message types accepted on the stream.
const (
	ClientMessageSubmit    = "submit"
	ClientMessageCompare   = "compare"
	ClientMessageCancel    = "cancel"
	ClientMessageHeartbeat = "heartbeat"
)

// ClientMessage is the envelope for everything a client sends after the
// handshake. Exactly one of the optional fields is set, matching Type.
type ClientMessage struct {
	Type    string          `json:"type" validate:"required,oneof=submit compare cancel heartbeat"`
	Job     json.RawMessage `json:"job,omitempty"`
	Compare json.RawMessage `json:"compare,omitempty"`
}

// Handshake error codes surfaced before any session exists.
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeServerError    = "SERVER_ERROR"
)

// RejectMessage is returned when a submission is refused before a session
// is created. It is the only non-Event frame a client can receive.
type RejectMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RejectType is the Type value of a RejectMessage frame.
const RejectType = "reject"
