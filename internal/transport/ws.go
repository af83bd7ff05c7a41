/*
Package transport provides ordered, reliable frame streams for chat sessions.

This file adapts a WebSocket connection to the Conn interface so gateway
clients join the same session machinery as raw TCP clients: one WebSocket text
message carries exactly one packet, no newline required.
*/
package transport

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"beatrice/internal/protocol"
)

// wsConn adapts a *websocket.Conn to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

// NewWSConn wraps an upgraded WebSocket connection. The read limit is pinned
// to the frame ceiling; gorilla closes the connection when a peer exceeds it.
func NewWSConn(conn *websocket.Conn) Conn {
	conn.SetReadLimit(protocol.MaxFrameSize)
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, protocol.ErrFrameTooLarge
		}
		return nil, err
	}
	return frame, nil
}

func (c *wsConn) WriteFrame(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
