// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package schedule computes the next collection start handed to a node.
package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// Config holds the scheduling policy
type Config struct {
	Granularity time.Duration
	Guard       time.Duration
	Lookaround  time.Duration
}

// DefaultConfig returns the policy of the reference deployment
func DefaultConfig() Config {
	return Config{
		Granularity: wire.DefaultGranularityMin * time.Minute,
		Guard:       wire.DefaultGuardSeconds * time.Second,
		Lookaround:  12 * time.Hour,
	}
}

// Store is the part of the store the scheduler needs
type Store interface {
	store.Querier
	WriteCollectionStart(ctx context.Context, peerID string, t time.Time) error
}

// Scheduler aligns collection starts across nodes
type Scheduler struct {
	store Store
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func New(st Store, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Granularity < time.Minute {
		cfg.Granularity = def.Granularity
	}
	if cfg.Guard <= 0 {
		cfg.Guard = def.Guard
	}
	if cfg.Lookaround <= 0 {
		cfg.Lookaround = def.Lookaround
	}

	s := &Scheduler{store: st, cfg: cfg, now: time.Now, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "scheduler").Logger()
	return s
}

// Now returns the scheduler clock
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Next computes and records the next collection start. The returned plan has
// only CollectionStart set.
//
// Every node shares one anchor: the earliest collection start within the
// look-around window that is not before now, regardless of which node it
// belongs to. Starts already in the past are ignored.
func (s *Scheduler) Next(ctx context.Context, peerID string) (wire.Plan, time.Time) {
	now := s.now()
	anchor := now

	starts, err := s.store.QueryCollectionStarts(ctx, now.Add(-s.cfg.Lookaround), now.Add(s.cfg.Lookaround))
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("peer", peerID).Msg("collection start query failed, anchoring on now")
	default:
		if first, ok := earliestFrom(starts, now); ok {
			anchor = first
		}
	}

	aligned := Align(anchor, now, s.cfg.Granularity, s.cfg.Guard)

	// The plan goes out even if the session is cancelled meanwhile, so its
	// start must be recorded regardless.
	if err := s.store.WriteCollectionStart(context.WithoutCancel(ctx), peerID, aligned); err != nil {
		s.log.Error().Err(err).Str("peer", peerID).Time("start", aligned).Msg("failed to record collection start")
	}

	s.log.Debug().
		Str("peer", peerID).
		Time("anchor", anchor).
		Time("start", aligned).
		Msg("collection scheduled")

	return wire.Plan{CollectionStart: wire.EncodeDeviceTime(aligned)}, aligned
}

// earliestFrom returns the earliest start not before now.
func earliestFrom(starts []store.CollectionStart, now time.Time) (time.Time, bool) {
	var first time.Time
	found := false
	for _, cs := range starts {
		if cs.Time.Before(now) {
			continue
		}
		if !found || cs.Time.Before(first) {
			first, found = cs.Time, true
		}
	}
	return first, found
}

// Align returns the first granularity boundary strictly after anchor's
// minute, pushed one more step when it falls within guard of now.
func Align(anchor, now time.Time, granularity, guard time.Duration) time.Time {
	g := int64(granularity / time.Minute)
	if g < 1 {
		g = 1
	}

	m := anchor.Unix() / 60
	aligned := time.Unix((m+g-m%g)*60, 0).UTC()

	if aligned.Sub(now) <= guard {
		aligned = aligned.Add(time.Duration(g) * time.Minute)
	}
	return aligned
}
