package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tickerpulse/pkg/contracts/events"
)

// Frame is one inbound server frame: an event or a reject, never both.
type Frame struct {
	Event  *events.Event
	Reject *events.RejectMessage
}

// Channel is one open stream connection, explicitly owned by the state
// machine. Opening and closing it are deliberate operations; there is no
// ambient shared connection.
type Channel interface {
	// Frames returns the inbound frame channel. It closes when the
	// connection dies, planned or not.
	Frames() <-chan Frame

	// Send writes one client message.
	Send(msg events.ClientMessage) error

	// Close tears the connection down.
	Close() error
}

// Dialer opens channels. Tests substitute scripted implementations.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

const channelWriteWait = 10 * time.Second

// WSDialer dials the TickerPulse WebSocket endpoint with a bearer
// credential.
type WSDialer struct {
	URL   string
	Token string
}

// Dial opens a channel or classifies the failure. A 401 handshake comes
// back as *AuthError so the state machine can refuse to retry it.
func (d *WSDialer) Dial(ctx context.Context) (Channel, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized {
				authErr := &AuthError{Status: resp.StatusCode}
				var reject events.RejectMessage
				if decodeErr := json.NewDecoder(resp.Body).Decode(&reject); decodeErr == nil {
					authErr.Message = reject.Message
				}
				return nil, authErr
			}
			return nil, fmt.Errorf("dial %s: status %d: %w", d.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	ch := &wsChannel{
		conn:   conn,
		frames: make(chan Frame, 64),
	}
	go ch.readLoop()
	return ch, nil
}

// wsChannel adapts a gorilla connection to the Channel interface.
type wsChannel struct {
	conn   *websocket.Conn
	frames chan Frame
}

func (ch *wsChannel) Frames() <-chan Frame {
	return ch.frames
}

func (ch *wsChannel) Send(msg events.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	ch.conn.SetWriteDeadline(time.Now().Add(channelWriteWait))
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

func (ch *wsChannel) Close() error {
	ch.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ch.conn.Close()
}

// readLoop decodes frames until the connection dies, then closes the
// frame channel. A consumer that falls behind loses frames rather than
// wedging the read.
func (ch *wsChannel) readLoop() {
	defer close(ch.frames)
	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, ok := decodeFrame(data)
		if !ok {
			continue
		}
		select {
		case ch.frames <- frame:
		default:
		}
	}
}

// decodeFrame classifies one wire frame by its type field.
func decodeFrame(data []byte) (Frame, bool) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, false
	}

	if probe.Type == events.RejectType {
		var reject events.RejectMessage
		if err := json.Unmarshal(data, &reject); err != nil {
			return Frame{}, false
		}
		return Frame{Reject: &reject}, true
	}

	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Frame{}, false
	}
	return Frame{Event: &ev}, true
}
