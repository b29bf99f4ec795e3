package stream

import (
	"time"

	"github.com/gorilla/websocket"
)

// gorillaConn adapts *websocket.Conn to the Connection interface.
type gorillaConn struct {
	conn *websocket.Conn
}

// NewConnection wraps a gorilla connection for the pumps.
func NewConnection(conn *websocket.Conn) Connection {
	return &gorillaConn{conn: conn}
}

func (g *gorillaConn) WriteMessage(messageType int, data []byte) error {
	return g.conn.WriteMessage(messageType, data)
}

func (g *gorillaConn) ReadMessage() (int, []byte, error) {
	return g.conn.ReadMessage()
}

func (g *gorillaConn) Close() error {
	return g.conn.Close()
}

func (g *gorillaConn) SetReadDeadline(t time.Time) error {
	return g.conn.SetReadDeadline(t)
}

func (g *gorillaConn) SetWriteDeadline(t time.Time) error {
	return g.conn.SetWriteDeadline(t)
}

func (g *gorillaConn) SetReadLimit(limit int64) {
	g.conn.SetReadLimit(limit)
}

func (g *gorillaConn) SetPongHandler(h func(string) error) {
	g.conn.SetPongHandler(h)
}

func (g *gorillaConn) RemoteAddr() string {
	if addr := g.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
