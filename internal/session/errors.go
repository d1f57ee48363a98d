// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"errors"
	"fmt"

	"github.com/Thermoquad/hivegate/internal/link"
)

var (
	// ErrUnrecognizedCommand is returned for a command byte outside the
	// protocol's command set.
	ErrUnrecognizedCommand = errors.New("session: unrecognized command")
	// ErrWindowTooLarge is returned when a window header declares more
	// readings than the session accepts.
	ErrWindowTooLarge = errors.New("session: window exceeds reading limit")
	// ErrLinkWrite wraps failures sending to the node.
	ErrLinkWrite = errors.New("session: link write failed")
)

// ErrorCode is the value stored with an error event
type ErrorCode int

const (
	CodeUnrecognizedCommand ErrorCode = 0
	CodeTimeout             ErrorCode = 1
	CodeShortRead           ErrorCode = 2
	CodeWindowTooLarge      ErrorCode = 3
	CodeLinkWrite           ErrorCode = 4
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnrecognizedCommand:
		return "unrecognized_command"
	case CodeTimeout:
		return "timeout"
	case CodeShortRead:
		return "short_read"
	case CodeWindowTooLarge:
		return "window_too_large"
	case CodeLinkWrite:
		return "link_write"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// CodeOf maps a session-fatal error to its event value.
func CodeOf(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrUnrecognizedCommand):
		return CodeUnrecognizedCommand
	case errors.Is(err, ErrLinkWrite):
		return CodeLinkWrite
	case errors.Is(err, ErrWindowTooLarge):
		return CodeWindowTooLarge
	case errors.Is(err, link.ErrTimeout):
		return CodeTimeout
	default:
		return CodeShortRead
	}
}

// CommandError reports an unrecognized command byte
type CommandError struct {
	Command byte
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v: 0x%02X", ErrUnrecognizedCommand, e.Command)
}

func (e *CommandError) Unwrap() error { return ErrUnrecognizedCommand }
