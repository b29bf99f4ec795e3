package stream

import (
	"errors"
	"sync"
	"time"
)

// Frame is one recorded or scripted connection message.
type Frame struct {
	Type int
	Data []byte
	Err  error
}

// MockConn is an in-memory Connection for pump tests. Reads come from a
// scripted queue; an exhausted queue blocks until the connection closes,
// mimicking a quiet peer.
type MockConn struct {
	mu sync.Mutex

	WriteFunc func(messageType int, data []byte) error
	written   []Frame

	reads    chan Frame
	closed   bool
	closeCh  chan struct{}
	deadline struct {
		read  time.Time
		write time.Time
	}

	pongHandler func(string) error
	readLimit   int64

	RemoteAddress string
}

// NewMockConn creates a mock connection with room for scripted reads.
func NewMockConn() *MockConn {
	return &MockConn{
		reads:         make(chan Frame, 32),
		closeCh:       make(chan struct{}),
		RemoteAddress: "127.0.0.1:9999",
	}
}

// QueueRead scripts one inbound frame.
func (m *MockConn) QueueRead(messageType int, data []byte, err error) {
	m.reads <- Frame{Type: messageType, Data: data, Err: err}
}

func (m *MockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	if m.WriteFunc != nil {
		return m.WriteFunc(messageType, data)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.written = append(m.written, Frame{Type: messageType, Data: buf})
	return nil
}

func (m *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-m.reads:
		return f.Type, f.Data, f.Err
	case <-m.closeCh:
		return 0, nil, errors.New("connection closed")
	}
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.closeCh)
	}
	return nil
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline.read = t
	return nil
}

func (m *MockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline.write = t
	return nil
}

func (m *MockConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit = limit
}

func (m *MockConn) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongHandler = h
}

func (m *MockConn) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteAddress
}

// Written returns a copy of every frame written so far.
func (m *MockConn) Written() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Frame, len(m.written))
	copy(out, m.written)
	return out
}

// WrittenOfType filters written frames by message type.
func (m *MockConn) WrittenOfType(messageType int) []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Frame
	for _, f := range m.written {
		if f.Type == messageType {
			out = append(out, f)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ReadLimit returns the configured inbound frame cap.
func (m *MockConn) ReadLimit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLimit
}
