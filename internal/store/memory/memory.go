// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package memory is an in-process store for tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// Readings is one WriteReadings call
type Readings struct {
	PeerID string
	Window wire.Window
}

// Store keeps everything in slices guarded by a mutex.
type Store struct {
	mu          sync.RWMutex
	starts      []store.CollectionStart
	readings    []Readings
	events      []store.Event
	diagnostics []store.Diagnostic
	unavailable bool
}

func New() *Store {
	return &Store{}
}

// SetUnavailable makes every call fail with store.ErrUnavailable.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

func (s *Store) QueryCollectionStarts(_ context.Context, from, to time.Time) ([]store.CollectionStart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.unavailable {
		return nil, store.ErrUnavailable
	}

	var out []store.CollectionStart
	for _, cs := range s.starts {
		if !cs.Time.Before(from) && !cs.Time.After(to) {
			out = append(out, cs)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func (s *Store) WriteCollectionStart(_ context.Context, peerID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	s.starts = append(s.starts, store.CollectionStart{PeerID: peerID, Time: t})
	return nil
}

func (s *Store) WriteReadings(_ context.Context, peerID string, w wire.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	samples := make([]wire.Sample, len(w.Samples))
	copy(samples, w.Samples)
	w.Samples = samples
	s.readings = append(s.readings, Readings{PeerID: peerID, Window: w})
	return nil
}

func (s *Store) WriteEvent(_ context.Context, e store.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	s.events = append(s.events, e)
	return nil
}

func (s *Store) WriteDiagnostic(_ context.Context, d store.Diagnostic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return store.ErrUnavailable
	}
	s.diagnostics = append(s.diagnostics, d)
	return nil
}

// CollectionStarts returns a copy of all stored collection starts
func (s *Store) CollectionStarts() []store.CollectionStart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.CollectionStart(nil), s.starts...)
}

// Readings returns a copy of all stored reading batches
func (s *Store) Readings() []Readings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Readings(nil), s.readings...)
}

// Events returns a copy of all stored events
func (s *Store) Events() []store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Event(nil), s.events...)
}

// EventsOf returns the stored events of one kind
func (s *Store) EventsOf(kind store.EventKind) []store.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Event
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Diagnostics returns a copy of all stored diagnostics
func (s *Store) Diagnostics() []store.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Diagnostic(nil), s.diagnostics...)
}

var _ store.Store = (*Store)(nil)
