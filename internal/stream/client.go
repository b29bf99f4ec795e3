package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tickerpulse/pkg/contracts/domain"
	"tickerpulse/pkg/contracts/events"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Submissions carry free-form parameter
	// maps, so this is roomier than a bare command needs.
	maxMessageSize = 4096
)

var validate = validator.New()

// Client is one WebSocket subscriber: the read pump turns frames into
// commands, the write pump drains the send buffer to the socket.
type Client struct {
	hub      *Hub
	conn     Connection
	commands Commands

	// Buffered outbound frames. Never closed; the done channel ends the
	// write pump so enqueue can stay race-free.
	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once

	id          string
	clientKey   string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger

	mu               sync.Mutex
	messagesSent     int64
	messagesReceived int64
	bytesSent        int64
	bytesReceived    int64
}

// NewClient wires a connection into the hub. clientKey is the stable
// identity derived from the handshake credential; it survives reconnects
// and keys the one-session-per-client rule.
func NewClient(hub *Hub, conn Connection, commands Commands, clientKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New().String()
	logger = logger.With(
		slog.String("component", "stream.client"),
		slog.String("client_id", id),
	)

	return &Client{
		hub:         hub,
		conn:        conn,
		commands:    commands,
		send:        make(chan []byte, 256),
		done:        make(chan struct{}),
		id:          id,
		clientKey:   clientKey,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ID returns the connection identity used in logs.
func (c *Client) ID() string {
	return c.id
}

// Key returns the client's stable identity.
func (c *Client) Key() string {
	return c.clientKey
}

// enqueue offers a frame to the write pump without blocking. It reports
// false when the client is gone or backlogged.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown ends the write pump. Safe to call more than once.
func (c *Client) shutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ReadPump consumes frames until the connection dies, dispatching
// commands to the analysis service.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.Info("read pump stopped",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", c.received()))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("unexpected close",
					slog.String("error", err.Error()))
			}
			break
		}

		message = bytes.TrimSpace(message)
		if len(message) == 0 {
			continue
		}

		c.recordReceived(int64(len(message)))
		c.hub.metrics.RecordReceived()
		c.handleMessage(context.Background(), message)
	}
}

// handleMessage parses and dispatches one client frame. Bad frames earn
// a reject, never a disconnect.
func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reject(events.ErrCodeInvalidMessage, "malformed message")
		return
	}
	if err := validate.Struct(&msg); err != nil {
		c.logger.Warn("message failed validation",
			slog.String("error", err.Error()))
		c.reject(events.ErrCodeInvalidMessage, "unknown message type")
		return
	}

	switch msg.Type {
	case events.ClientMessageHeartbeat:
		// The pong handler already extended the read deadline.
		c.logger.Debug("heartbeat received")

	case events.ClientMessageSubmit:
		c.handleSubmit(ctx, msg.Job)

	case events.ClientMessageCompare:
		c.handleCompare(ctx, msg.Compare)

	case events.ClientMessageCancel:
		if err := c.commands.Cancel(ctx, c.clientKey); err != nil {
			c.reject(events.ErrCodeServerError, err.Error())
			return
		}
		c.logger.Info("cancel requested")
	}
}

func (c *Client) handleSubmit(ctx context.Context, raw json.RawMessage) {
	if len(raw) == 0 {
		c.reject(events.ErrCodeInvalidMessage, "submit requires a job")
		return
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		c.reject(events.ErrCodeInvalidMessage, "malformed job")
		return
	}
	if err := validate.Struct(&job); err != nil {
		c.logger.Warn("job failed validation",
			slog.String("subject", job.Subject),
			slog.String("error", err.Error()))
		c.reject(events.ErrCodeInvalidMessage, "job failed validation")
		return
	}

	sessionID, err := c.commands.Submit(ctx, c.clientKey, job, c)
	if err != nil {
		c.reject(events.ErrCodeServerError, err.Error())
		return
	}

	c.logger.Info("job submitted",
		slog.String("session_id", sessionID),
		slog.String("subject", job.Subject))
}

func (c *Client) handleCompare(ctx context.Context, raw json.RawMessage) {
	if len(raw) == 0 {
		c.reject(events.ErrCodeInvalidMessage, "compare requires subjects")
		return
	}

	var req domain.CompareJob
	if err := json.Unmarshal(raw, &req); err != nil {
		c.reject(events.ErrCodeInvalidMessage, "malformed comparison")
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.logger.Warn("comparison failed validation",
			slog.String("error", err.Error()))
		c.reject(events.ErrCodeInvalidMessage, "comparison failed validation")
		return
	}

	sessionID, err := c.commands.Compare(ctx, c.clientKey, req, c)
	if err != nil {
		c.reject(events.ErrCodeServerError, err.Error())
		return
	}

	c.logger.Info("comparison submitted",
		slog.String("session_id", sessionID),
		slog.Int("subjects", len(req.Subjects)))
}

// reject sends a protocol reject frame. Rejects share the send buffer
// with events and are droppable the same way.
func (c *Client) reject(code, message string) {
	frame, err := json.Marshal(events.RejectMessage{
		Type:    events.RejectType,
		Code:    code,
		Message: message,
	})
	if err != nil {
		return
	}
	if c.enqueue(frame) {
		c.hub.metrics.RecordReject()
	}
}

// WritePump drains the send buffer to the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("write pump stopped",
			slog.Int64("messages_sent", c.sent()),
			slog.Int64("bytes_sent", c.sentBytes()))
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("frame write failed",
					slog.String("error", err.Error()))
				return
			}
			c.recordSent(int64(len(frame)))

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed",
					slog.String("error", err.Error()))
				return
			}

		case <-c.done:
			// Flush what is already queued, then close cleanly.
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
					c.recordSent(int64(len(frame)))
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Client) recordSent(n int64) {
	c.mu.Lock()
	c.messagesSent++
	c.bytesSent += n
	c.mu.Unlock()
}

func (c *Client) recordReceived(n int64) {
	c.mu.Lock()
	c.messagesReceived++
	c.bytesReceived += n
	c.mu.Unlock()
}

func (c *Client) sent() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesSent
}

func (c *Client) sentBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesSent
}

func (c *Client) received() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messagesReceived
}
