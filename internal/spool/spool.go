// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package spool buffers store writes on disk while the store is unreachable.
//
// Records are appended to a single file as a CBOR sequence. Flush replays
// them in order and rewrites the file with whatever could not be delivered.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// FileName is the spool file inside the spool directory
const FileName = "spool.cbor"

type recordType uint8

const (
	recCollectionStart recordType = iota + 1
	recReadings
	recEvent
	recDiagnostic
)

type record struct {
	Type       recordType `cbor:"1,keyasint"`
	PeerID     string     `cbor:"2,keyasint"`
	Time       time.Time  `cbor:"3,keyasint"`
	Kind       string     `cbor:"4,keyasint,omitempty"`
	Value      int        `cbor:"5,keyasint,omitempty"`
	Window     []byte     `cbor:"6,keyasint,omitempty"`
	DeviceTime time.Time  `cbor:"7,keyasint"`
	Celsius    []float64  `cbor:"8,keyasint,omitempty"`
}

// Spool wraps a store. Writes failing with store.ErrUnavailable are
// appended to the spool file and reported as successful.
type Spool struct {
	inner store.Store
	path  string
	log   zerolog.Logger
	enc   cbor.EncMode

	mu      sync.Mutex
	pending int
}

// Open creates dir if needed and counts the records already spooled.
func Open(dir string, inner store.Store, logger zerolog.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, err
	}

	s := &Spool{
		inner: inner,
		path:  filepath.Join(dir, FileName),
		log:   logger.With().Str("component", "spool").Logger(),
		enc:   enc,
	}

	recs, err := s.readAll()
	if err != nil {
		return nil, err
	}
	s.pending = len(recs)
	if s.pending > 0 {
		s.log.Info().Int("pending", s.pending).Msg("spool has undelivered records")
	}
	return s, nil
}

// Pending returns the number of spooled records
func (s *Spool) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Path returns the spool file path
func (s *Spool) Path() string { return s.path }

func (s *Spool) QueryCollectionStarts(ctx context.Context, from, to time.Time) ([]store.CollectionStart, error) {
	return s.inner.QueryCollectionStarts(ctx, from, to)
}

func (s *Spool) WriteCollectionStart(ctx context.Context, peerID string, t time.Time) error {
	err := s.inner.WriteCollectionStart(ctx, peerID, t)
	return s.spoolOnUnavailable(err, record{Type: recCollectionStart, PeerID: peerID, Time: t})
}

func (s *Spool) WriteReadings(ctx context.Context, peerID string, w wire.Window) error {
	err := s.inner.WriteReadings(ctx, peerID, w)
	if !errors.Is(err, store.ErrUnavailable) {
		return err
	}
	b, _ := w.MarshalBinary()
	return s.spoolOnUnavailable(err, record{Type: recReadings, PeerID: peerID, Window: b})
}

func (s *Spool) WriteEvent(ctx context.Context, e store.Event) error {
	err := s.inner.WriteEvent(ctx, e)
	return s.spoolOnUnavailable(err, record{Type: recEvent, PeerID: e.PeerID, Time: e.Time, Kind: string(e.Kind), Value: e.Value})
}

func (s *Spool) WriteDiagnostic(ctx context.Context, d store.Diagnostic) error {
	err := s.inner.WriteDiagnostic(ctx, d)
	return s.spoolOnUnavailable(err, record{
		Type:       recDiagnostic,
		PeerID:     d.PeerID,
		Time:       d.ReceivedAt,
		DeviceTime: d.DeviceTime,
		Celsius:    d.Celsius[:],
	})
}

func (s *Spool) spoolOnUnavailable(err error, rec record) error {
	if !errors.Is(err, store.ErrUnavailable) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if aerr := s.appendLocked(rec); aerr != nil {
		return fmt.Errorf("spool record after %v: %w", err, aerr)
	}
	s.pending++
	s.log.Warn().Err(err).Str("peer", rec.PeerID).Int("pending", s.pending).Msg("store unavailable, record spooled")
	return nil
}

func (s *Spool) appendLocked(rec record) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	b, err := s.enc.Marshal(rec)
	if err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readAll decodes the spool file. A torn record at the tail, left by a crash
// during append, is dropped.
func (s *Spool) readAll() ([]record, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []record
	dec := cbor.NewDecoder(f)
	for {
		var rec record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			s.log.Warn().Int("records", len(recs)).Msg("dropping torn record at spool tail")
			return recs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt spool %s: %w", s.path, err)
		}
		recs = append(recs, rec)
	}
}

// FlushResult summarizes a Flush call
type FlushResult struct {
	Replayed  int
	Dropped   int
	Remaining int
}

// Flush replays spooled records into the inner store in order. It stops at the
// first record that fails with store.ErrUnavailable and keeps it and all later
// records. Records rejected for any other reason are dropped and logged.
func (s *Spool) Flush(ctx context.Context) (FlushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.readAll()
	if err != nil {
		return FlushResult{}, err
	}
	if len(recs) == 0 {
		s.pending = 0
		return FlushResult{}, nil
	}

	var res FlushResult
	var stopErr error
	i := 0
	for ; i < len(recs); i++ {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		err := s.replay(ctx, recs[i])
		if errors.Is(err, store.ErrUnavailable) {
			stopErr = err
			break
		}
		if err != nil {
			s.log.Error().Err(err).Str("peer", recs[i].PeerID).Msg("dropping spooled record")
			res.Dropped++
			continue
		}
		res.Replayed++
	}

	if err := s.rewriteLocked(recs[i:]); err != nil {
		return res, err
	}
	res.Remaining = len(recs) - i
	s.pending = res.Remaining

	s.log.Info().
		Int("replayed", res.Replayed).
		Int("dropped", res.Dropped).
		Int("remaining", res.Remaining).
		Msg("spool flushed")
	return res, stopErr
}

func (s *Spool) replay(ctx context.Context, rec record) error {
	switch rec.Type {
	case recCollectionStart:
		return s.inner.WriteCollectionStart(ctx, rec.PeerID, rec.Time)
	case recReadings:
		w, err := decodeWindow(rec.Window)
		if err != nil {
			return err
		}
		return s.inner.WriteReadings(ctx, rec.PeerID, w)
	case recEvent:
		return s.inner.WriteEvent(ctx, store.Event{PeerID: rec.PeerID, Kind: store.EventKind(rec.Kind), Time: rec.Time, Value: rec.Value})
	case recDiagnostic:
		d := store.Diagnostic{PeerID: rec.PeerID, ReceivedAt: rec.Time, DeviceTime: rec.DeviceTime}
		copy(d.Celsius[:], rec.Celsius)
		return s.inner.WriteDiagnostic(ctx, d)
	default:
		return fmt.Errorf("unknown spool record type %d", rec.Type)
	}
}

func decodeWindow(b []byte) (wire.Window, error) {
	var w wire.Window
	if err := w.Header.UnmarshalBinary(b); err != nil {
		return w, err
	}
	samples, err := wire.ParseSamples(b[wire.WindowHeaderSize:])
	if err != nil {
		return w, err
	}
	w.Samples = samples
	return w, nil
}

func (s *Spool) rewriteLocked(recs []record) error {
	if len(recs) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := s.enc.NewEncoder(f)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

var _ store.Store = (*Spool)(nil)
