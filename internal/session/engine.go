// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives one exchange with a connected sensor node.
//
// The gateway opens every session with an OKAY byte. The node then sends one
// command byte per round and the engine answers it:
//
//	INIT  OKAY, plan, device time                    continue
//	DATA  OKAY, <- window, plan                      done
//	DUMP  OKAY, <- window                            done
//	TIME  OKAY, device time                          continue
//	TEST  <- timestamp + sample                      continue
//	FINI                                             done
//
// Any receive failure or unknown command ends the session with an error
// event. The stream is always closed when Run returns.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/internal/metrics"
	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// Config holds the per-session protocol policy
type Config struct {
	ByteTimeout     time.Duration
	MaxRounds       int
	IntervalSeconds uint32
	// MaxReadings bounds the count a window header may declare. Zero
	// disables the check.
	MaxReadings int
	// WriteTimeout bounds each store call. Zero means no extra deadline.
	WriteTimeout time.Duration
}

// DefaultConfig returns the policy of the reference deployment
func DefaultConfig() Config {
	return Config{
		ByteTimeout:     wire.DefaultByteTimeoutMs * time.Millisecond,
		MaxRounds:       wire.DefaultMaxRounds,
		IntervalSeconds: wire.DefaultIntervalSeconds,
		MaxReadings:     4096,
		WriteTimeout:    5 * time.Second,
	}
}

// Planner computes rendezvous plans
type Planner interface {
	Next(ctx context.Context, peerID string) (wire.Plan, time.Time)
}

// Outcome classifies how a session ended
type Outcome string

const (
	// OutcomeCompleted means the node ended the session (DATA, DUMP, FINI).
	OutcomeCompleted Outcome = "completed"
	// OutcomeExhausted means the round budget ran out.
	OutcomeExhausted Outcome = "exhausted"
	OutcomeError     Outcome = "error"
	// OutcomeCancelled means the context was cancelled between rounds.
	OutcomeCancelled Outcome = "cancelled"
)

// Result summarizes a finished session
type Result struct {
	ID       uuid.UUID
	PeerID   string
	Started  time.Time
	Ended    time.Time
	Rounds   int
	Commands []byte
	Outcome  Outcome
	Err      error
	// ErrorCode is only meaningful when Outcome is OutcomeError.
	ErrorCode ErrorCode
	Readings  int
	// NextCollection is the collection start sent to the node, zero when no
	// plan was sent.
	NextCollection time.Time
}

// Engine runs sessions. It is safe for concurrent use; each Run call owns
// its session state.
type Engine struct {
	store   store.Writer
	planner Planner
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now for device time answers and event stamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(w store.Writer, p Planner, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.ByteTimeout <= 0 {
		cfg.ByteTimeout = def.ByteTimeout
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = def.IntervalSeconds
	}

	e := &Engine{store: w, planner: p, cfg: cfg, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

type state struct {
	ctx    context.Context
	stream link.Stream
	peerID string
	log    zerolog.Logger
	res    *Result
}

// Run drives one session on s and closes s before returning. Cancelling ctx
// stops the session between rounds.
func (e *Engine) Run(ctx context.Context, s link.Stream, peerID string) (res Result) {
	res = Result{ID: uuid.New(), PeerID: peerID, Started: e.now()}
	st := &state{
		ctx:    ctx,
		stream: s,
		peerID: peerID,
		log:    e.log.With().Str("session", res.ID.String()).Str("peer", peerID).Logger(),
		res:    &res,
	}

	defer func() {
		if err := s.Close(); err != nil {
			st.log.Debug().Err(err).Msg("close stream")
		}
		res.Ended = e.now()
		e.metrics.SessionFinished(string(res.Outcome), res.Ended.Sub(res.Started))
		e.logResult(st.log, res)
	}()

	if err := e.send(st, []byte{wire.CmdOkay}); err != nil {
		e.fail(st, err)
		return res
	}

	res.Outcome = OutcomeExhausted
	for round := 0; round < e.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeCancelled
			res.Err = err
			return res
		}

		cmd, err := link.ReceiveExact(s, 1, e.cfg.ByteTimeout)
		if err != nil {
			e.fail(st, fmt.Errorf("receive command: %w", err))
			return res
		}
		res.Rounds++
		res.Commands = append(res.Commands, cmd[0])
		e.metrics.Command(wire.FormatCommand(cmd[0]))
		st.log.Debug().Int("round", res.Rounds).Str("command", wire.FormatCommand(cmd[0])).Msg("command received")

		done, err := e.dispatch(st, cmd[0])
		if err != nil {
			e.fail(st, err)
			return res
		}
		if done {
			res.Outcome = OutcomeCompleted
			return res
		}
	}
	return res
}

func (e *Engine) dispatch(st *state, cmd byte) (bool, error) {
	switch cmd {
	case wire.CmdInit:
		return false, e.handleInit(st)
	case wire.CmdData:
		return true, e.handleData(st)
	case wire.CmdDump:
		return true, e.handleDump(st)
	case wire.CmdTime:
		return false, e.handleTime(st)
	case wire.CmdTest:
		return false, e.handleTest(st)
	case wire.CmdFini:
		return true, nil
	default:
		return true, &CommandError{Command: cmd}
	}
}

type planResult struct {
	plan  wire.Plan
	start time.Time
}

// schedule starts the planner in its own goroutine. The returned channel
// yields exactly one result.
func (e *Engine) schedule(st *state) <-chan planResult {
	ch := make(chan planResult, 1)
	go func() {
		plan, start := e.planner.Next(st.ctx, st.peerID)
		plan.IntervalSeconds = e.cfg.IntervalSeconds
		ch <- planResult{plan: plan, start: start}
	}()
	return ch
}

func (e *Engine) sendPlan(st *state, pr planResult) error {
	b, _ := pr.plan.MarshalBinary()
	if err := e.send(st, b); err != nil {
		return fmt.Errorf("send plan: %w", err)
	}
	st.res.NextCollection = pr.start
	st.log.Info().Time("collection_start", pr.start).Uint32("interval", pr.plan.IntervalSeconds).Msg("plan sent")
	return nil
}

func (e *Engine) handleInit(st *state) error {
	planned := e.schedule(st)

	if err := e.send(st, []byte{wire.CmdOkay}); err != nil {
		<-planned
		return err
	}
	if err := e.sendPlan(st, <-planned); err != nil {
		return err
	}
	if err := e.sendDeviceTime(st); err != nil {
		return err
	}
	e.writeEvent(st, store.EventInit, 0)
	return nil
}

func (e *Engine) handleData(st *state) error {
	planned := e.schedule(st)

	if err := e.send(st, []byte{wire.CmdOkay}); err != nil {
		<-planned
		return err
	}
	if err := e.receiveWindow(st); err != nil {
		<-planned
		return err
	}
	return e.sendPlan(st, <-planned)
}

func (e *Engine) handleDump(st *state) error {
	if err := e.send(st, []byte{wire.CmdOkay}); err != nil {
		return err
	}
	if err := e.receiveWindow(st); err != nil {
		return err
	}
	e.writeEvent(st, store.EventRendezvous, 0)
	return nil
}

func (e *Engine) handleTime(st *state) error {
	if err := e.send(st, []byte{wire.CmdOkay}); err != nil {
		return err
	}
	if err := e.sendDeviceTime(st); err != nil {
		return err
	}
	e.writeEvent(st, store.EventTime, 0)
	return nil
}

func (e *Engine) handleTest(st *state) error {
	tsBytes, err := link.ReceiveExact(st.stream, wire.TimestampSize, e.cfg.ByteTimeout)
	if err != nil {
		return fmt.Errorf("receive test timestamp: %w", err)
	}
	sampleBytes, err := link.ReceiveExact(st.stream, wire.SampleSize, e.cfg.ByteTimeout)
	if err != nil {
		return fmt.Errorf("receive test sample: %w", err)
	}

	ts, _ := wire.ParseTimestamp(tsBytes)
	sample, _ := wire.ParseSample(sampleBytes)
	e.checkAnomalies(st, "timestamp", wire.ValidateTimestamp(ts))

	d := store.Diagnostic{
		PeerID:     st.peerID,
		ReceivedAt: e.now(),
		DeviceTime: wire.DecodeDeviceTime(ts),
		Celsius:    sample.Celsius(),
	}
	st.log.Info().
		Time("device_time", d.DeviceTime).
		Floats64("celsius", d.Celsius[:]).
		Msg("test payload received")

	ctx, cancel := e.storeContext(st)
	defer cancel()
	if err := e.store.WriteDiagnostic(ctx, d); err != nil {
		e.metrics.StoreError("diagnostic")
		st.log.Error().Err(err).Msg("failed to store diagnostic")
	}
	return nil
}

// receiveWindow reads a window header and its samples and forwards them to
// the store. Store failures are logged; only link failures and an oversized
// header end the session.
func (e *Engine) receiveWindow(st *state) error {
	hdrBytes, err := link.ReceiveExact(st.stream, wire.WindowHeaderSize, e.cfg.ByteTimeout)
	if err != nil {
		return fmt.Errorf("receive window header: %w", err)
	}
	var hdr wire.WindowHeader
	if err := hdr.UnmarshalBinary(hdrBytes); err != nil {
		return err
	}

	e.checkAnomalies(st, "window", wire.ValidateWindowHeader(hdr, 0))
	if e.cfg.MaxReadings > 0 && uint64(hdr.Count) > uint64(e.cfg.MaxReadings) {
		return fmt.Errorf("%w: count=%d limit=%d", ErrWindowTooLarge, hdr.Count, e.cfg.MaxReadings)
	}

	payload, err := link.ReceiveExact(st.stream, hdr.PayloadSize(), e.cfg.ByteTimeout)
	if err != nil {
		return fmt.Errorf("receive %d readings: %w", hdr.Count, err)
	}
	samples, err := wire.ParseSamples(payload)
	if err != nil {
		return err
	}

	w := wire.Window{Header: hdr, Samples: samples}
	st.res.Readings += len(samples)
	e.metrics.Readings(len(samples))
	st.log.Info().
		Time("start", wire.DecodeDeviceTime(hdr.Start)).
		Uint32("interval", hdr.IntervalSeconds).
		Int("count", len(samples)).
		Msg("window received")

	ctx, cancel := e.storeContext(st)
	defer cancel()
	if err := e.store.WriteReadings(ctx, st.peerID, w); err != nil {
		e.metrics.StoreError("readings")
		st.log.Error().Err(err).Int("count", len(samples)).Msg("failed to store readings")
	}
	return nil
}

func (e *Engine) checkAnomalies(st *state, record string, errs []wire.ValidationError) {
	e.metrics.Anomalies(record, len(errs))
	for _, v := range errs {
		st.log.Warn().Str("record", record).Fields(v.Details).Msg(v.Message)
	}
}

func (e *Engine) sendDeviceTime(st *state) error {
	b, _ := wire.EncodeDeviceTime(e.now()).MarshalBinary()
	if err := e.send(st, b); err != nil {
		return fmt.Errorf("send device time: %w", err)
	}
	return nil
}

func (e *Engine) send(st *state, p []byte) error {
	if err := link.Send(st.stream, p); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkWrite, err)
	}
	return nil
}

func (e *Engine) storeContext(st *state) (context.Context, context.CancelFunc) {
	// Store calls outlive a cancelled session context so that data already
	// received from the node is not discarded.
	ctx := context.WithoutCancel(st.ctx)
	if e.cfg.WriteTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.WriteTimeout)
	}
	return ctx, func() {}
}

func (e *Engine) writeEvent(st *state, kind store.EventKind, value int) {
	ctx, cancel := e.storeContext(st)
	defer cancel()
	ev := store.Event{PeerID: st.peerID, Kind: kind, Time: e.now(), Value: value}
	if err := e.store.WriteEvent(ctx, ev); err != nil {
		e.metrics.StoreError("event")
		st.log.Error().Err(err).Str("kind", string(kind)).Msg("failed to store event")
	}
}

// fail marks the session as failed and records the error event.
func (e *Engine) fail(st *state, err error) {
	code := CodeOf(err)
	st.res.Outcome = OutcomeError
	st.res.Err = err
	st.res.ErrorCode = code

	switch code {
	case CodeTimeout, CodeShortRead, CodeLinkWrite:
		e.metrics.LinkError(code.String())
	}
	e.metrics.ErrorEvent(int(code))
	e.writeEvent(st, store.EventError, int(code))
}

func (e *Engine) logResult(l zerolog.Logger, res Result) {
	event := l.Info()
	if res.Outcome == OutcomeError {
		event = l.Warn().Err(res.Err).Int("error_code", int(res.ErrorCode))
	}
	event.
		Str("outcome", string(res.Outcome)).
		Int("rounds", res.Rounds).
		Int("readings", res.Readings).
		Dur("duration", res.Ended.Sub(res.Started)).
		Msg("session finished")
}
