// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Target describes how to reach one node. Exactly one of Port, URL or TCP
// is set.
type Target struct {
	Port string
	Baud int

	URL         string
	Username    string
	Password    string
	NoSSLVerify bool

	TCP string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// Describe returns a short human-readable form of the target
func (t Target) Describe() string {
	switch {
	case t.URL != "":
		return fmt.Sprintf("WebSocket: %s", t.URL)
	case t.TCP != "":
		return fmt.Sprintf("TCP: %s", t.TCP)
	case t.Port != "":
		baud := t.Baud
		if baud <= 0 {
			baud = DefaultBaud
		}
		return fmt.Sprintf("Serial: %s @ %d baud", t.Port, baud)
	default:
		return "(no link)"
	}
}

// Opener opens a stream to a target. The gateway depends on this rather than
// on Open so tests can hand out in-process streams.
type Opener interface {
	Open(ctx context.Context, t Target) (Stream, error)
}

// OpenerFunc adapts a function to Opener
type OpenerFunc func(ctx context.Context, t Target) (Stream, error)

func (f OpenerFunc) Open(ctx context.Context, t Target) (Stream, error) {
	return f(ctx, t)
}

// ErrNoTarget is returned by Open when the target names no transport.
var ErrNoTarget = errors.New("link: target has no port, url or tcp address")

// Open opens the stream the target describes
func Open(ctx context.Context, t Target) (Stream, error) {
	dialTimeout := t.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 15 * time.Second
	}

	switch {
	case t.URL != "":
		return DialWebSocket(ctx, t.URL, t.Username, t.Password, t.NoSSLVerify, t.WriteTimeout)
	case t.TCP != "":
		return DialTCP(t.TCP, dialTimeout, t.WriteTimeout)
	case t.Port != "":
		return OpenSerial(t.Port, t.Baud)
	default:
		return nil, ErrNoTarget
	}
}

// DefaultOpener opens real serial, TCP and WebSocket links
var DefaultOpener Opener = OpenerFunc(Open)

// Traced logs every byte crossing s at trace level.
func Traced(s Stream, logger zerolog.Logger) Stream {
	if logger.GetLevel() > zerolog.TraceLevel {
		return s
	}
	return &tracedStream{Stream: s, log: logger}
}

type tracedStream struct {
	Stream
	log zerolog.Logger
}

func (t *tracedStream) ReadByte(timeout time.Duration) (byte, error) {
	b, err := t.Stream.ReadByte(timeout)
	if err != nil {
		t.log.Trace().Err(err).Msg("rx failed")
		return b, err
	}
	t.log.Trace().Hex("rx", []byte{b}).Send()
	return b, nil
}

func (t *tracedStream) Write(p []byte) (int, error) {
	n, err := t.Stream.Write(p)
	t.log.Trace().Hex("tx", p[:n]).Err(err).Send()
	return n, err
}
