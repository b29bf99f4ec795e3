package stream

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickerpulse/pkg/contracts/events"
)

func runReadPump(t *testing.T, c *Client) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.ReadPump()
		close(done)
	}()
	return done
}

func waitPump(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop")
	}
}

func expectReject(t *testing.T, c *Client, code string) {
	t.Helper()
	frame := recvFrame(t, c)
	var reject events.RejectMessage
	require.NoError(t, json.Unmarshal(frame, &reject))
	assert.Equal(t, events.RejectType, reject.Type)
	assert.Equal(t, code, reject.Code)
}

// TestReadPumpDispatchesSubmit tests that a submit frame reaches the
// command surface with the client's key.
func TestReadPumpDispatchesSubmit(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{hub: hub, session: "sess-42"}
	// Not registered: the pump's exit unregister would otherwise release
	// the session slot this test asserts on.
	c, conn := newTestClient(hub, commands)

	conn.QueueRead(websocket.TextMessage,
		[]byte(`{"type":"submit","job":{"subject":"AAPL","mode":"standard"}}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))

	submits := commands.submitted()
	require.Len(t, submits, 1)
	assert.Equal(t, "AAPL", submits[0].Subject)

	// The mock attached the subscriber like the real service does.
	assert.Equal(t, 1, hub.SessionCount())
}

// TestReadPumpRejectsMalformed tests the reject path for unparseable
// frames.
func TestReadPumpRejectsMalformed(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	c, conn := newTestClient(hub, &mockCommands{})
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage, []byte(`{not json`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))
	expectReject(t, c, events.ErrCodeInvalidMessage)
}

// TestReadPumpRejectsUnknownType tests that unrecognized message types
// are refused.
func TestReadPumpRejectsUnknownType(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	c, conn := newTestClient(hub, &mockCommands{})
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage, []byte(`{"type":"shutdown"}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))
	expectReject(t, c, events.ErrCodeInvalidMessage)
}

// TestReadPumpRejectsInvalidJob tests that jobs failing validation never
// reach the command surface.
func TestReadPumpRejectsInvalidJob(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{hub: hub, session: "sess-1"}
	c, conn := newTestClient(hub, commands)
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage,
		[]byte(`{"type":"submit","job":{"subject":"lowercase"}}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))

	expectReject(t, c, events.ErrCodeInvalidMessage)
	assert.Empty(t, commands.submitted())
}

// TestReadPumpRejectsSubmitWithoutJob tests the missing-payload reject.
func TestReadPumpRejectsSubmitWithoutJob(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{hub: hub, session: "sess-1"}
	c, conn := newTestClient(hub, commands)
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage, []byte(`{"type":"submit"}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))

	expectReject(t, c, events.ErrCodeInvalidMessage)
	assert.Empty(t, commands.submitted())
}

// TestReadPumpSubmitFailure tests that a refused submission surfaces as
// a server-error reject.
func TestReadPumpSubmitFailure(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{err: errors.New("registry full")}
	c, conn := newTestClient(hub, commands)
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage,
		[]byte(`{"type":"submit","job":{"subject":"AAPL"}}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))
	expectReject(t, c, events.ErrCodeServerError)
}

// TestReadPumpHeartbeat tests that heartbeats produce no reply and no
// dispatch.
func TestReadPumpHeartbeat(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{}
	c, conn := newTestClient(hub, commands)
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage, []byte(`{"type":"heartbeat"}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))

	assert.Empty(t, commands.submitted())
	select {
	case <-c.send:
		t.Fatal("heartbeat produced an outbound frame")
	default:
	}
}

// TestReadPumpDispatchesCancel tests the cancel command path.
func TestReadPumpDispatchesCancel(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	commands := &mockCommands{}
	c, conn := newTestClient(hub, commands)
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(websocket.TextMessage, []byte(`{"type":"cancel"}`), nil)
	conn.QueueRead(0, nil, errors.New("peer gone"))

	waitPump(t, runReadPump(t, c))

	cancels := commands.cancelled()
	require.Len(t, cancels, 1)
	assert.Equal(t, "key-1", cancels[0])
}

// TestReadPumpSetsReadLimit tests that the pump installs the inbound
// frame cap.
func TestReadPumpSetsReadLimit(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	c, conn := newTestClient(hub, &mockCommands{})
	hub.Register(c)
	time.Sleep(20 * time.Millisecond)

	conn.QueueRead(0, nil, errors.New("peer gone"))
	waitPump(t, runReadPump(t, c))

	assert.Equal(t, int64(maxMessageSize), conn.ReadLimit())
}

// TestWritePumpWritesFrames tests frame delivery and the close frame on
// shutdown.
func TestWritePumpWritesFrames(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	c, conn := newTestClient(hub, &mockCommands{})

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	require.True(t, c.enqueue([]byte(`{"seq":1}`)))
	time.Sleep(50 * time.Millisecond)

	c.shutdown()
	waitPump(t, done)

	texts := conn.WrittenOfType(websocket.TextMessage)
	require.Len(t, texts, 1)
	assert.JSONEq(t, `{"seq":1}`, string(texts[0].Data))

	closes := conn.WrittenOfType(websocket.CloseMessage)
	assert.Len(t, closes, 1)
	assert.True(t, conn.Closed())
}

// TestWritePumpFlushesOnShutdown tests that queued frames drain before
// the close frame.
func TestWritePumpFlushesOnShutdown(t *testing.T) {
	hub := NewHub(testLogger())
	hub.Start()
	defer hub.Stop()

	c, conn := newTestClient(hub, &mockCommands{})

	for i := 0; i < 3; i++ {
		require.True(t, c.enqueue([]byte(`{}`)))
	}
	c.shutdown()

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()
	waitPump(t, done)

	assert.Len(t, conn.WrittenOfType(websocket.TextMessage), 3)
	assert.Len(t, conn.WrittenOfType(websocket.CloseMessage), 1)
}

// TestEnqueueAfterShutdown tests that a finished client refuses frames.
func TestEnqueueAfterShutdown(t *testing.T) {
	hub := NewHub(testLogger())
	c, _ := newTestClient(hub, &mockCommands{})

	c.shutdown()
	assert.False(t, c.enqueue([]byte(`{}`)))
}
