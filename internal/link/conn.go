// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ConnStream adapts a net.Conn, e.g. a serial-over-TCP bridge or one end of
// net.Pipe in tests.
type ConnStream struct {
	conn         net.Conn
	r            *bufio.Reader
	writeTimeout time.Duration
}

// NewConnStream wraps conn. A zero writeTimeout disables write deadlines.
func NewConnStream(conn net.Conn, writeTimeout time.Duration) *ConnStream {
	return &ConnStream{conn: conn, r: bufio.NewReader(conn), writeTimeout: writeTimeout}
}

// ReadByte returns a buffered byte or waits for the next one until timeout.
func (c *ConnStream) ReadByte(timeout time.Duration) (byte, error) {
	if c.r.Buffered() == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("set read deadline: %w", mapNetError(err))
		}
	}

	b, err := c.r.ReadByte()
	if err != nil {
		return 0, mapNetError(err)
	}
	return b, nil
}

func (c *ConnStream) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, fmt.Errorf("set write deadline: %w", mapNetError(err))
		}
	}
	n, err := c.conn.Write(p)
	if err != nil {
		return n, mapNetError(err)
	}
	return n, nil
}

func (c *ConnStream) Close() error {
	return c.conn.Close()
}

// DialTCP connects to a serial-over-TCP bridge
func DialTCP(addr string, timeout, writeTimeout time.Duration) (*ConnStream, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConnStream(conn, writeTimeout), nil
}

func mapNetError(err error) error {
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}
