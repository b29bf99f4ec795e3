package stream

import (
	"context"
	"time"

	"tickerpulse/pkg/contracts/domain"
)

// Connection is the transport surface the pumps need. It exists so tests
// can run the pumps against an in-memory connection.
type Connection interface {
	// WriteMessage writes a single frame of the given type.
	WriteMessage(messageType int, data []byte) error

	// ReadMessage blocks for the next frame.
	ReadMessage() (messageType int, p []byte, err error)

	// Close closes the underlying connection.
	Close() error

	// SetReadDeadline bounds the next read.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline bounds the next write.
	SetWriteDeadline(t time.Time) error

	// SetReadLimit caps inbound frame size.
	SetReadLimit(limit int64)

	// SetPongHandler installs the pong callback used to extend read
	// deadlines.
	SetPongHandler(h func(string) error)

	// RemoteAddr returns the peer address for logging.
	RemoteAddr() string
}

// Commands is the slice of the analysis service the stream layer drives.
// Submit and Compare attach the subscriber to the new session before the
// run starts, so the first event is never lost.
type Commands interface {
	// Submit starts a single-subject run and returns its session id.
	Submit(ctx context.Context, clientKey string, job domain.Job, sub *Client) (string, error)

	// Compare starts a fan-out comparison and returns its session id.
	Compare(ctx context.Context, clientKey string, req domain.CompareJob, sub *Client) (string, error)

	// Cancel cooperatively ends the client's active session.
	Cancel(ctx context.Context, clientKey string) error
}
