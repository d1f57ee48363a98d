// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package timescale

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

func newMock(t *testing.T, opts Options) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, opts), mock
}

func testWindow(start time.Time, samples ...wire.Sample) wire.Window {
	return wire.Window{
		Header:  wire.WindowHeader{Start: wire.EncodeDeviceTime(start), IntervalSeconds: 60, Count: uint32(len(samples))},
		Samples: samples,
	}
}

func TestWriteReadings(t *testing.T) {
	tagger := store.TaggerFunc(func(peer string) string { return "hive-7" })
	s, mock := newMock(t, Options{Tagger: tagger})

	start := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	w := testWindow(start, wire.PackSample([4]uint16{0, 512, 1023, 256}))

	expectedQuery := regexp.QuoteMeta("INSERT INTO temperature_readings (ts, device_id, device_tag, sensor_id, celsius) VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10),($11,$12,$13,$14,$15),($16,$17,$18,$19,$20) ON CONFLICT (device_id, sensor_id, ts) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs(
			start, "AA:BB", "hive-7", "sensor_1", 0.0,
			start, "AA:BB", "hive-7", "sensor_2", 55.0,
			start, "AA:BB", "hive-7", "sensor_3", 1023*110.0/1024.0,
			start, "AA:BB", "hive-7", "sensor_4", 27.5,
		).
		WillReturnResult(sqlmock.NewResult(0, 4))

	if err := s.WriteReadings(context.Background(), "AA:BB", w); err != nil {
		t.Fatalf("write readings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteReadingsChunks(t *testing.T) {
	s, mock := newMock(t, Options{BatchRows: 3})

	start := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	w := testWindow(start, wire.Sample{}, wire.Sample{})

	three := regexp.QuoteMeta("VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10),($11,$12,$13,$14,$15) ON CONFLICT")
	two := regexp.QuoteMeta("VALUES ($1,$2,$3,$4,$5),($6,$7,$8,$9,$10) ON CONFLICT")
	mock.ExpectExec(three).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(three).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(two).
		WithArgs(
			start.Add(time.Minute), "AA:BB", "", "sensor_3", 0.0,
			start.Add(time.Minute), "AA:BB", "", "sensor_4", 0.0,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := s.WriteReadings(context.Background(), "AA:BB", w); err != nil {
		t.Fatalf("write readings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteReadingsEmptyWindow(t *testing.T) {
	s, mock := newMock(t, Options{})
	if err := s.WriteReadings(context.Background(), "AA:BB", wire.Window{}); err != nil {
		t.Fatalf("expected nil error for empty window, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteEventTables(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 10, 5, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event store.Event
		query string
		args  []any
	}{
		{
			name:  "collection start",
			event: store.Event{PeerID: "AA:BB", Kind: store.EventCollectionStart, Time: ts},
			query: "INSERT INTO collection_events (ts, device_id, type) VALUES ($1,$2,$3)",
			args:  []any{ts, "AA:BB", "start"},
		},
		{
			name:  "rendezvous",
			event: store.Event{PeerID: "AA:BB", Kind: store.EventRendezvous, Time: ts},
			query: "INSERT INTO events (ts, device_id, type) VALUES ($1,$2,$3)",
			args:  []any{ts, "AA:BB", "rendezvous"},
		},
		{
			name:  "error",
			event: store.Event{PeerID: "AA:BB", Kind: store.EventError, Time: ts, Value: 1},
			query: "INSERT INTO error_events (ts, device_id, type, value) VALUES ($1,$2,$3,$4)",
			args:  []any{ts, "AA:BB", "error", 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t, Options{})
			args := make([]driver.Value, 0, len(tt.args))
			for _, a := range tt.args {
				args = append(args, matchArg{a})
			}
			mock.ExpectExec(regexp.QuoteMeta(tt.query)).WithArgs(args...).WillReturnResult(sqlmock.NewResult(0, 1))

			if err := s.WriteEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("write event: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

// matchArg compares after driver conversion so ints and times match
type matchArg struct{ want any }

func (m matchArg) Match(v driver.Value) bool {
	switch w := m.want.(type) {
	case int:
		got, ok := v.(int64)
		return ok && got == int64(w)
	case time.Time:
		got, ok := v.(time.Time)
		return ok && got.Equal(w)
	default:
		return v == m.want
	}
}

func TestWriteEventUnknownKind(t *testing.T) {
	s, _ := newMock(t, Options{})
	if err := s.WriteEvent(context.Background(), store.Event{Kind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestWriteDiagnostic(t *testing.T) {
	s, mock := newMock(t, Options{})
	recv := time.Date(2024, time.March, 15, 10, 5, 0, 0, time.UTC)
	dev := recv.Add(-3 * time.Second)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO diagnostics")).
		WithArgs(matchArg{recv}, "AA:BB", matchArg{dev}, 1.0, 2.0, 3.0, 4.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.WriteDiagnostic(context.Background(), store.Diagnostic{
		PeerID: "AA:BB", ReceivedAt: recv, DeviceTime: dev, Celsius: [4]float64{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("write diagnostic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQueryCollectionStarts(t *testing.T) {
	s, mock := newMock(t, Options{})
	now := time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)
	from, to := now.Add(-12*time.Hour), now.Add(12*time.Hour)

	rows := sqlmock.NewRows([]string{"device_id", "ts"}).
		AddRow("AA:BB", now.Add(-time.Hour)).
		AddRow("CC:DD", now.Add(time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT device_id, ts FROM collection_events WHERE type = $1 AND ts >= $2 AND ts <= $3 ORDER BY ts ASC")).
		WithArgs("start", matchArg{from}, matchArg{to}).
		WillReturnRows(rows)

	got, err := s.QueryCollectionStarts(context.Background(), from, to)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].PeerID != "AA:BB" || !got[1].Time.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected result %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConnectionErrorsAreUnavailable(t *testing.T) {
	s, mock := newMock(t, Options{})
	mock.ExpectExec("INSERT INTO events").WillReturnError(&pq.Error{Code: "08006"})

	err := s.WriteEvent(context.Background(), store.Event{PeerID: "AA:BB", Kind: store.EventInit, Time: time.Now()})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("error %v is not ErrUnavailable", err)
	}
}

func TestConstraintErrorsAreNotUnavailable(t *testing.T) {
	s, mock := newMock(t, Options{})
	mock.ExpectExec("INSERT INTO events").WillReturnError(&pq.Error{Code: "23505"})

	err := s.WriteEvent(context.Background(), store.Event{PeerID: "AA:BB", Kind: store.EventInit, Time: time.Now()})
	if err == nil || errors.Is(err, store.ErrUnavailable) {
		t.Errorf("unexpected classification of %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	for _, hyper := range []bool{false, true} {
		s, mock := newMock(t, Options{})
		for _, stmt := range schema {
			mock.ExpectExec(regexp.QuoteMeta(stmt[:30])).WillReturnResult(sqlmock.NewResult(0, 0))
		}
		if hyper {
			mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS timescaledb").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(regexp.QuoteMeta("create_hypertable('temperature_readings'")).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(regexp.QuoteMeta("create_hypertable('collection_events'")).WillReturnResult(sqlmock.NewResult(0, 0))
		}

		if err := s.EnsureSchema(context.Background(), hyper); err != nil {
			t.Fatalf("ensure schema (hypertables=%v): %v", hyper, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations (hypertables=%v): %v", hyper, err)
		}
	}
}
