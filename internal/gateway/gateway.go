// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package gateway visits nodes one after another: open the link, run a
// session, close the link.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/internal/metrics"
	"github.com/Thermoquad/hivegate/internal/monitor"
	"github.com/Thermoquad/hivegate/internal/session"
	"github.com/Thermoquad/hivegate/internal/spool"
	"github.com/Thermoquad/hivegate/internal/store"
)

// Node is one collection target
type Node struct {
	PeerID string
	Tag    string
	Target link.Target
}

// Runner runs one session on an open stream. *session.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, s link.Stream, peerID string) session.Result
}

// Flusher replays buffered store records. *spool.Spool satisfies it.
type Flusher interface {
	Flush(ctx context.Context) (spool.FlushResult, error)
	Pending() int
}

// OpenError reports a node whose link could not be opened
type OpenError struct {
	PeerID string
	Target string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s (%s): %v", e.PeerID, e.Target, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

type Gateway struct {
	runner  Runner
	opener  link.Opener
	tracker *monitor.Tracker
	metrics *metrics.Metrics
	spool   Flusher
	log     zerolog.Logger
}

type Option func(*Gateway)

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSpool makes Run replay the spool at the start of every cycle
func WithSpool(f Flusher) Option {
	return func(g *Gateway) { g.spool = f }
}

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func New(r Runner, opener link.Opener, opts ...Option) *Gateway {
	g := &Gateway{runner: r, opener: opener, tracker: monitor.NewTracker(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.opener == nil {
		g.opener = link.DefaultOpener
	}
	return g
}

func (g *Gateway) Tracker() *monitor.Tracker {
	return g.tracker
}

// CollectOnce runs one session per node, in order. Nodes whose link cannot be
// opened are skipped and reported through the returned error; a cancelled
// context stops before the next node.
func (g *Gateway) CollectOnce(ctx context.Context, nodes []Node) ([]session.Result, error) {
	results := make([]session.Result, 0, len(nodes))
	var errs []error

	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		res, err := g.visit(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (g *Gateway) visit(ctx context.Context, n Node) (session.Result, error) {
	logger := g.log.With().Str("peer", n.PeerID).Str("tag", n.Tag).Logger()
	logger.Info().Str("link", n.Target.Describe()).Msg("connecting")

	s, err := g.opener.Open(ctx, n.Target)
	if err != nil {
		openErr := &OpenError{PeerID: n.PeerID, Target: n.Target.Describe(), Err: err}
		logger.Error().Err(err).Msg("failed to open link")
		g.metrics.LinkError("open")
		g.tracker.RecordFailure(n.PeerID, n.Tag, openErr)
		return session.Result{}, openErr
	}

	res := g.runner.Run(ctx, link.Traced(s, logger), n.PeerID)
	g.tracker.Record(res, n.Tag)
	return res, nil
}

// Run collects from nodes every interval until ctx is cancelled. A cycle
// that overruns the interval is followed immediately by the next one.
func (g *Gateway) Run(ctx context.Context, interval time.Duration, nodes []Node) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g.cycle(ctx, nodes)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) cycle(ctx context.Context, nodes []Node) {
	g.FlushSpool(ctx)

	start := time.Now()
	results, err := g.CollectOnce(ctx, nodes)
	if err != nil && !errors.Is(err, context.Canceled) {
		g.log.Warn().Err(err).Msg("some nodes were unreachable")
	}

	g.log.Info().
		Int("nodes", len(nodes)).
		Int("sessions", len(results)).
		Int("failed", Failed(results)).
		Dur("duration", time.Since(start)).
		Msg("collection cycle finished")

	if g.spool != nil {
		g.metrics.SpoolPending(g.spool.Pending())
	}
}

// FlushSpool replays buffered records. A store that is still unavailable is
// not an error here; the records wait for the next cycle.
func (g *Gateway) FlushSpool(ctx context.Context) {
	if g.spool == nil || g.spool.Pending() == 0 {
		return
	}
	res, err := g.spool.Flush(ctx)
	switch {
	case errors.Is(err, store.ErrUnavailable):
		g.log.Warn().Int("remaining", res.Remaining).Msg("store still unavailable, spool kept")
	case err != nil:
		g.log.Error().Err(err).Msg("spool flush failed")
	}
	g.metrics.SpoolPending(g.spool.Pending())
}

// Failed counts the results that ended in error.
func Failed(results []session.Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == session.OutcomeError {
			n++
		}
	}
	return n
}
