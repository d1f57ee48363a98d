// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package timescale stores sessions in PostgreSQL / TimescaleDB.
package timescale

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

// DefaultBatchRows bounds the rows per INSERT statement.
const DefaultBatchRows = 500

// Options configures a Store
type Options struct {
	Tagger    store.Tagger
	BatchRows int
}

// Store implements store.Store on a *sql.DB
type Store struct {
	db        *sql.DB
	tagger    store.Tagger
	batchRows int
}

// New wraps an open database handle.
func New(db *sql.DB, opts Options) *Store {
	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultBatchRows
	}
	return &Store{db: db, tagger: opts.Tagger, batchRows: opts.BatchRows}
}

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, connString string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, store.Unavailable(fmt.Errorf("ping database: %w", err))
	}
	return New(db, opts), nil
}

// Dial is Open without the initial ping. The gateway uses it when a spool is
// configured so it can start while the database is down.
func Dial(connString string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, opts), nil
}

func (s *Store) Name() string { return "timescaledb" }

// Close closes the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) tag(peerID string) string {
	if s.tagger == nil {
		return ""
	}
	return s.tagger.Tag(peerID)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS temperature_readings (
	ts TIMESTAMPTZ NOT NULL,
	device_id TEXT NOT NULL,
	device_tag TEXT NOT NULL,
	sensor_id TEXT NOT NULL,
	celsius DOUBLE PRECISION NOT NULL,
	UNIQUE (device_id, sensor_id, ts))`,
	`CREATE TABLE IF NOT EXISTS collection_events (
	ts TIMESTAMPTZ NOT NULL,
	device_id TEXT NOT NULL,
	type TEXT NOT NULL)`,
	`CREATE INDEX IF NOT EXISTS collection_events_ts_idx ON collection_events (ts)`,
	`CREATE TABLE IF NOT EXISTS events (
	ts TIMESTAMPTZ NOT NULL,
	device_id TEXT NOT NULL,
	type TEXT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS error_events (
	ts TIMESTAMPTZ NOT NULL,
	device_id TEXT NOT NULL,
	type TEXT NOT NULL,
	value INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS diagnostics (
	received_at TIMESTAMPTZ NOT NULL,
	device_id TEXT NOT NULL,
	device_time TIMESTAMPTZ NOT NULL,
	sensor_1 DOUBLE PRECISION NOT NULL,
	sensor_2 DOUBLE PRECISION NOT NULL,
	sensor_3 DOUBLE PRECISION NOT NULL,
	sensor_4 DOUBLE PRECISION NOT NULL)`,
}

// EnsureSchema creates the tables. With hypertables set the readings and
// event tables are converted with create_hypertable, which requires the
// TimescaleDB extension.
func (s *Store) EnsureSchema(ctx context.Context, hypertables bool) error {
	stmts := schema
	if hypertables {
		stmts = append(stmts[:len(stmts):len(stmts)],
			"CREATE EXTENSION IF NOT EXISTS timescaledb",
			"SELECT create_hypertable('temperature_readings', 'ts', if_not_exists => TRUE)",
			"SELECT create_hypertable('collection_events', 'ts', if_not_exists => TRUE)",
		)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("ensure schema: %w", err))
		}
	}
	return nil
}

func (s *Store) QueryCollectionStarts(ctx context.Context, from, to time.Time) ([]store.CollectionStart, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT device_id, ts FROM collection_events WHERE type = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts ASC",
		string(store.EventCollectionStart), from.UTC(), to.UTC())
	if err != nil {
		return nil, classify(fmt.Errorf("query collection starts: %w", err))
	}
	defer rows.Close()

	var out []store.CollectionStart
	for rows.Next() {
		var cs store.CollectionStart
		if err := rows.Scan(&cs.PeerID, &cs.Time); err != nil {
			return nil, fmt.Errorf("scan collection start: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("query collection starts: %w", err))
	}
	return out, nil
}

func (s *Store) WriteCollectionStart(ctx context.Context, peerID string, t time.Time) error {
	return s.WriteEvent(ctx, store.Event{PeerID: peerID, Kind: store.EventCollectionStart, Time: t})
}

// WriteReadings stores one row per sensor per sample, sample i stamped
// start + i*interval. Rows are inserted in chunks of BatchRows.
func (s *Store) WriteReadings(ctx context.Context, peerID string, w wire.Window) error {
	readings := w.Readings()
	if len(readings) == 0 {
		return nil
	}
	tag := s.tag(peerID)

	const cols = 5
	perStmt := s.batchRows
	var b strings.Builder
	args := make([]any, 0, perStmt*cols)

	flush := func() error {
		if len(args) == 0 {
			return nil
		}
		b.WriteString(" ON CONFLICT (device_id, sensor_id, ts) DO NOTHING")
		_, err := s.db.ExecContext(ctx, b.String(), args...)
		b.Reset()
		args = args[:0]
		if err != nil {
			return classify(fmt.Errorf("insert readings: %w", err))
		}
		return nil
	}

	for _, r := range readings {
		for i, c := range r.Celsius {
			if len(args) == 0 {
				b.WriteString("INSERT INTO temperature_readings (ts, device_id, device_tag, sensor_id, celsius) VALUES ")
			} else {
				b.WriteString(",")
			}
			b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d)",
				len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5))
			args = append(args, r.Time.UTC(), peerID, tag, store.SensorID(i), c)

			if len(args) == perStmt*cols {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	return flush()
}

func (s *Store) WriteEvent(ctx context.Context, e store.Event) error {
	var (
		query string
		args  []any
	)
	switch e.Kind {
	case store.EventCollectionStart:
		query = "INSERT INTO collection_events (ts, device_id, type) VALUES ($1,$2,$3)"
		args = []any{e.Time.UTC(), e.PeerID, string(e.Kind)}
	case store.EventInit, store.EventRendezvous, store.EventTime:
		query = "INSERT INTO events (ts, device_id, type) VALUES ($1,$2,$3)"
		args = []any{e.Time.UTC(), e.PeerID, string(e.Kind)}
	case store.EventError:
		query = "INSERT INTO error_events (ts, device_id, type, value) VALUES ($1,$2,$3,$4)"
		args = []any{e.Time.UTC(), e.PeerID, string(e.Kind), e.Value}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Errorf("insert %s event: %w", e.Kind, err))
	}
	return nil
}

func (s *Store) WriteDiagnostic(ctx context.Context, d store.Diagnostic) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO diagnostics (received_at, device_id, device_time, sensor_1, sensor_2, sensor_3, sensor_4) VALUES ($1,$2,$3,$4,$5,$6,$7)",
		d.ReceivedAt.UTC(), d.PeerID, d.DeviceTime.UTC(), d.Celsius[0], d.Celsius[1], d.Celsius[2], d.Celsius[3])
	if err != nil {
		return classify(fmt.Errorf("insert diagnostic: %w", err))
	}
	return nil
}

// classify marks connection-level failures as store.ErrUnavailable.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// connection exception, insufficient resources, operator intervention
		case "08", "53", "57":
			return store.Unavailable(err)
		}
		return err
	}

	var ne net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne):
		return store.Unavailable(err)
	}
	return err
}

var _ store.Store = (*Store)(nil)
