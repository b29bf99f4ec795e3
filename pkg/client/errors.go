package client

import (
	"errors"
	"fmt"
)

// Transport-level sentinels. These describe the connection, never the
// job: a failed job ends with a terminal event, not one of these.
var (
	// ErrRetriesExhausted surfaces when the reconnection budget runs out
	// with a job still outstanding.
	ErrRetriesExhausted = errors.New("transport retries exhausted")

	// ErrClientClosed is returned by commands on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrNotConnected is returned when a command needs an open channel.
	ErrNotConnected = errors.New("not connected")
)

// AuthError reports a rejected handshake. It is fatal: the client never
// retries it automatically.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("handshake rejected (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("handshake rejected (%d)", e.Status)
}

// IsAuthError reports whether err is a handshake rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// RejectError reports a server reject frame received after the
// handshake, such as a submission that failed validation.
type RejectError struct {
	Code    string
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("server rejected request [%s]: %s", e.Code, e.Message)
}
