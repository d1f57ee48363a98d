// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link provides byte streams to sensor nodes and the exact-length
// receive primitive the session engine is built on.
package link

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a byte did not arrive within its timeout.
	ErrTimeout = errors.New("link: receive timeout")
	// ErrShortRead is returned when the stream failed for any other reason
	// before the requested number of bytes arrived.
	ErrShortRead = errors.New("link: short read")
	// ErrClosed is returned by streams whose peer has gone away.
	ErrClosed = errors.New("link: stream closed")
)

// Stream is the minimal capability the session engine needs from a link.
type Stream interface {
	// ReadByte waits at most timeout for one byte.
	ReadByte(timeout time.Duration) (byte, error)
	Write(p []byte) (int, error)
	Close() error
}

// ReceiveError reports a failed ReceiveExact call.
type ReceiveError struct {
	Want  int
	Got   int
	Err   error // ErrTimeout or ErrShortRead
	Cause error
}

func (e *ReceiveError) Error() string {
	if e.Cause != nil && !errors.Is(e.Cause, e.Err) {
		return fmt.Sprintf("%v after %d/%d bytes: %v", e.Err, e.Got, e.Want, e.Cause)
	}
	return fmt.Sprintf("%v after %d/%d bytes", e.Err, e.Got, e.Want)
}

func (e *ReceiveError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// ReceiveExact reads exactly n bytes, one at a time, each with its own
// timeout. It stops at the first byte that fails and returns the bytes
// received so far together with a *ReceiveError. Nothing is retried.
func ReceiveExact(s Stream, n int, perByte time.Duration) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := s.ReadByte(perByte)
		if err != nil {
			kind := ErrShortRead
			if errors.Is(err, ErrTimeout) {
				kind = ErrTimeout
			}
			return buf[:i], &ReceiveError{Want: n, Got: i, Err: kind, Cause: err}
		}
		buf[i] = b
	}
	return buf, nil
}

// Send writes all of p or returns an error.
func Send(s Stream, p []byte) error {
	n, err := s.Write(p)
	if err != nil {
		return fmt.Errorf("link: write %d bytes: %w", len(p), err)
	}
	if n != len(p) {
		return fmt.Errorf("link: short write %d/%d bytes", n, len(p))
	}
	return nil
}
