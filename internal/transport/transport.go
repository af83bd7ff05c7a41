/*
Package transport provides ordered, reliable frame streams for chat sessions.

This file defines the Conn interface consumed by the session layer and its
primary implementation over a raw TCP connection, where each frame is one
newline-terminated line bounded by the protocol's frame ceiling.
*/
package transport

import (
	"bufio"
	"errors"
	"net"
	"time"

	"beatrice/internal/protocol"
)

// WriteWait is the timeout applied to every outbound frame write.
const WriteWait = 10 * time.Second

// Conn is a bidirectional frame stream. Implementations must reject frames
// larger than protocol.MaxFrameSize instead of buffering them unbounded, and
// must unblock pending reads and writes when Close is called.
type Conn interface {
	// ReadFrame returns the next complete frame, trailing newline included
	// where the underlying transport uses one.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one complete frame.
	WriteFrame(frame []byte) error

	// SetReadDeadline bounds the next ReadFrame call.
	SetReadDeadline(t time.Time) error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string

	// Close tears down the underlying connection. Safe to call more than once.
	Close() error
}

// tcpConn adapts a net.Conn to the Conn interface with newline framing.
type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPConn wraps a net.Conn in newline framing. The read buffer is sized to
// the frame ceiling so an overlong line surfaces as a frame-size error rather
// than growing without bound.
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, protocol.MaxFrameSize),
	}
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return nil, protocol.ErrFrameTooLarge
		}
		return nil, err
	}

	// ReadSlice's result is only valid until the next read.
	frame := make([]byte, len(line))
	copy(frame, line)
	return frame, nil
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}

	_, err := c.conn.Write(frame)
	return err
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
