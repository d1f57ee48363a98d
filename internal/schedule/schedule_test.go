// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/Thermoquad/hivegate/internal/store/memory"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

func at(h, m, s int) time.Time {
	return time.Date(2024, time.March, 15, h, m, s, 0, time.UTC)
}

// ============================================================
// Align Tests
// ============================================================

func TestAlign(t *testing.T) {
	const g, guard = 5 * time.Minute, 10 * time.Second

	tests := []struct {
		name   string
		anchor time.Time
		now    time.Time
		want   time.Time
	}{
		{"mid interval", at(10, 2, 30), at(10, 2, 30), at(10, 5, 0)},
		{"on boundary moves on", at(10, 5, 0), at(10, 5, 0), at(10, 10, 0)},
		{"seconds truncated", at(10, 4, 59), at(10, 4, 0), at(10, 5, 0)},
		{"inside guard", at(10, 4, 55), at(10, 4, 55), at(10, 10, 0)},
		{"exactly guard", at(10, 4, 50), at(10, 4, 50), at(10, 10, 0)},
		{"just outside guard", at(10, 4, 49), at(10, 4, 49), at(10, 5, 0)},
		{"future anchor", at(11, 0, 0), at(10, 0, 0), at(11, 5, 0)},
		{"hour rollover", at(10, 58, 0), at(10, 58, 0), at(11, 0, 0)},
		{"day rollover", at(23, 57, 0), at(23, 57, 0), time.Date(2024, time.March, 16, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Align(tt.anchor, tt.now, g, guard); !got.Equal(tt.want) {
				t.Errorf("Align(%v, %v) = %v, want %v", tt.anchor, tt.now, got, tt.want)
			}
		})
	}
}

func TestAlign_Granularity(t *testing.T) {
	got := Align(at(10, 7, 0), at(10, 7, 0), 15*time.Minute, 10*time.Second)
	if !got.Equal(at(10, 15, 0)) {
		t.Errorf("got %v", got)
	}
	got = Align(at(10, 7, 0), at(10, 7, 0), time.Minute, 10*time.Second)
	if !got.Equal(at(10, 8, 0)) {
		t.Errorf("got %v", got)
	}
}

// ============================================================
// Scheduler Tests
// ============================================================

func TestNext_EmptyStoreAnchorsOnNow(t *testing.T) {
	mem := memory.New()
	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return at(10, 2, 30) }))

	plan, start := s.Next(context.Background(), "AA:BB")
	if !start.Equal(at(10, 5, 0)) {
		t.Fatalf("start = %v", start)
	}
	if plan.CollectionStart != wire.EncodeDeviceTime(at(10, 5, 0)) {
		t.Errorf("plan start = %s", wire.FormatTimestamp(plan.CollectionStart))
	}
	if !plan.NextRendezvous.IsZero() || plan.IntervalSeconds != 0 {
		t.Errorf("scheduler should only fill collection start: %+v", plan)
	}

	recorded := mem.CollectionStarts()
	if len(recorded) != 1 || recorded[0].PeerID != "AA:BB" || !recorded[0].Time.Equal(start) {
		t.Errorf("recorded = %+v", recorded)
	}
}

func TestNext_AnchorsOnEarliestRecordOfAnyPeer(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_ = mem.WriteCollectionStart(ctx, "CC:DD", at(11, 40, 0))
	_ = mem.WriteCollectionStart(ctx, "EE:FF", at(11, 20, 0))

	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return at(10, 0, 0) }))
	_, start := s.Next(ctx, "AA:BB")
	if !start.Equal(at(11, 25, 0)) {
		t.Errorf("start = %v, want 11:25", start)
	}
}

func TestNext_GuardPushesRepeatOneStep(t *testing.T) {
	mem := memory.New()
	now := at(10, 2, 30)
	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return now }))

	_, first := s.Next(context.Background(), "AA:BB")

	// Re-run from inside the guard window before the first start.
	now = first.Add(-5 * time.Second)
	_, second := s.Next(context.Background(), "AA:BB")

	if !second.Equal(first.Add(5 * time.Minute)) {
		t.Errorf("second = %v, want %v", second, first.Add(5*time.Minute))
	}
}

func TestNext_IgnoresPastStarts(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_ = mem.WriteCollectionStart(ctx, "XX", at(9, 0, 0))
	_ = mem.WriteCollectionStart(ctx, "YY", at(10, 47, 0))

	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return at(10, 0, 30) }))
	_, start := s.Next(ctx, "AA:BB")
	if !start.Equal(at(10, 50, 0)) {
		t.Errorf("start = %v, want 10:50", start)
	}
}

func TestNext_OnlyPastStartsAnchorsOnNow(t *testing.T) {
	mem := memory.New()
	ctx := context.Background()
	_ = mem.WriteCollectionStart(ctx, "XX", at(3, 0, 0))

	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return at(10, 2, 0) }))
	_, start := s.Next(ctx, "AA:BB")
	if !start.Equal(at(10, 5, 0)) {
		t.Errorf("start = %v, want 10:05", start)
	}
}

func TestNext_GuardOnEmptyStore(t *testing.T) {
	// 10:05:00 is 8s away, inside the 10s guard.
	s := New(memory.New(), DefaultConfig(), WithClock(func() time.Time { return at(10, 4, 52) }))

	_, start := s.Next(context.Background(), "AA:BB")
	if !start.Equal(at(10, 10, 0)) {
		t.Errorf("start = %v, want 10:10", start)
	}
}

// ctxStore refuses writes whose context is already done, like a SQL store.
type ctxStore struct {
	*memory.Store
}

func (c ctxStore) WriteCollectionStart(ctx context.Context, peerID string, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.WriteCollectionStart(ctx, peerID, t)
}

func TestNext_RecordsStartWhenCancelled(t *testing.T) {
	mem := memory.New()
	s := New(ctxStore{mem}, DefaultConfig(), WithClock(func() time.Time { return at(10, 2, 30) }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, start := s.Next(ctx, "AA:BB")

	recorded := mem.CollectionStarts()
	if len(recorded) != 1 || !recorded[0].Time.Equal(start) {
		t.Errorf("recorded = %+v", recorded)
	}
}

func TestNext_StoreUnavailable(t *testing.T) {
	mem := memory.New()
	mem.SetUnavailable(true)
	s := New(mem, DefaultConfig(), WithClock(func() time.Time { return at(10, 2, 30) }))

	_, start := s.Next(context.Background(), "AA:BB")
	if !start.Equal(at(10, 5, 0)) {
		t.Errorf("start = %v", start)
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(memory.New(), Config{})
	if s.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v", s.cfg)
	}
}
