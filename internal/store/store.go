// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store defines the time-series persistence the gateway writes
// sessions into. Implementations live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/hivegate/pkg/wire"
)

// ErrUnavailable marks failures where the backing store could not be reached.
// Callers may buffer and retry these; other errors are permanent.
var ErrUnavailable = errors.New("store: unavailable")

// EventKind names an event series entry
type EventKind string

const (
	EventCollectionStart EventKind = "start"
	EventInit            EventKind = "init"
	EventRendezvous      EventKind = "rendezvous"
	EventTime            EventKind = "time"
	EventError           EventKind = "error"
)

// Valid reports whether k is a known kind
func (k EventKind) Valid() bool {
	switch k {
	case EventCollectionStart, EventInit, EventRendezvous, EventTime, EventError:
		return true
	}
	return false
}

// Event is a single point in one of the event series. Value is only
// meaningful for EventError, where it carries the error code.
type Event struct {
	PeerID string
	Kind   EventKind
	Time   time.Time
	Value  int
}

// CollectionStart is a scheduled collection start for a node
type CollectionStart struct {
	PeerID string
	Time   time.Time
}

// Diagnostic is the payload of a TEST command
type Diagnostic struct {
	PeerID     string
	ReceivedAt time.Time
	DeviceTime time.Time
	Celsius    [wire.SensorsPerNode]float64
}

// Querier reads scheduling history
type Querier interface {
	// QueryCollectionStarts returns all collection starts in [from, to],
	// oldest first, for every node.
	QueryCollectionStarts(ctx context.Context, from, to time.Time) ([]CollectionStart, error)
}

// Writer persists session output. Implementations must be safe for
// concurrent use.
type Writer interface {
	WriteCollectionStart(ctx context.Context, peerID string, t time.Time) error
	WriteReadings(ctx context.Context, peerID string, w wire.Window) error
	WriteEvent(ctx context.Context, e Event) error
	WriteDiagnostic(ctx context.Context, d Diagnostic) error
}

// Store is the full capability set used by the gateway
type Store interface {
	Querier
	Writer
}

// Tagger resolves the human-readable device tag stored alongside readings
type Tagger interface {
	Tag(peerID string) string
}

// TaggerFunc adapts a function to Tagger
type TaggerFunc func(peerID string) string

func (f TaggerFunc) Tag(peerID string) string { return f(peerID) }

// SensorID returns the series name of sensor i (0-based): sensor_1..sensor_4
func SensorID(i int) string {
	return fmt.Sprintf("sensor_%d", i+1)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
