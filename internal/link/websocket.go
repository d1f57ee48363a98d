// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketStream carries the node byte stream over binary WebSocket
// messages, as exposed by a Bluetooth-to-WebSocket bridge.
type WebSocketStream struct {
	conn         *websocket.Conn
	buf          []byte
	bufOffset    int
	closed       bool
	writeTimeout time.Duration
}

// NewWebSocketStream wraps an established connection.
func NewWebSocketStream(conn *websocket.Conn, writeTimeout time.Duration) *WebSocketStream {
	return &WebSocketStream{conn: conn, writeTimeout: writeTimeout}
}

// ReadByte returns the next buffered byte, reading a new binary message when
// the buffer is drained. A read timeout leaves the connection unusable, so
// every error after the first is ErrClosed.
func (w *WebSocketStream) ReadByte(timeout time.Duration) (byte, error) {
	if w.closed {
		return 0, ErrClosed
	}

	for w.bufOffset >= len(w.buf) {
		if err := w.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			w.closed = true
			return 0, fmt.Errorf("set read deadline: %w", err)
		}

		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return 0, fmt.Errorf("%w: %v", ErrClosed, err)
		}

		// Text frames are bridge chatter, not node data
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.buf = data
		w.bufOffset = 0
	}

	b := w.buf[w.bufOffset]
	w.bufOffset++
	return b, nil
}

func (w *WebSocketStream) Write(p []byte) (int, error) {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return 0, err
		}
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketStream) Close() error {
	return w.conn.Close()
}

// DialWebSocket opens a WebSocket connection with optional HTTP Basic auth
func DialWebSocket(ctx context.Context, wsURL, username, password string, skipSSLVerify bool, writeTimeout time.Duration) (*WebSocketStream, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocketStream(conn, writeTimeout), nil
}
