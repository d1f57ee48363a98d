// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/metrics"
	"github.com/Thermoquad/hivegate/internal/monitor"
	"github.com/Thermoquad/hivegate/internal/session"
)

func newTestRouter(t *testing.T) (http.Handler, *monitor.Tracker, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	tracker := monitor.NewTracker()
	tracker.Record(session.Result{
		ID:             uuid.New(),
		PeerID:         "20:15:04:10:26:60",
		Outcome:        session.OutcomeCompleted,
		Readings:       3,
		NextCollection: time.Date(2024, time.March, 15, 10, 5, 0, 0, time.UTC),
	}, "hive-north")
	tracker.Record(session.Result{
		ID:        uuid.New(),
		PeerID:    "AA:BB:CC:DD:EE:FF",
		Outcome:   session.OutcomeError,
		Err:       errors.New("receive command: link: timeout"),
		ErrorCode: session.CodeTimeout,
	}, "hive-south")

	h := NewRouter(Options{
		Tracker:      tracker,
		Gatherer:     reg,
		Metrics:      metrics.New(reg),
		Logger:       zerolog.Nop(),
		StoreName:    "memory",
		SpoolPending: func() int { return 4 },
	})
	return h, tracker, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["store"] != "memory" || body["spool_pending"] != float64(4) {
		t.Errorf("body = %v", body)
	}
}

func TestNodes(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/nodes")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Nodes []monitor.NodeStatus `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Nodes) != 2 || body.Nodes[0].Tag != "hive-north" || body.Nodes[1].LastOutcome != "error" {
		t.Errorf("nodes = %+v", body.Nodes)
	}
}

func TestNodeByPeer(t *testing.T) {
	h, _, _ := newTestRouter(t)

	// Lookup is case-insensitive.
	rec := get(t, h, "/nodes/aa:bb:cc:dd:ee:ff")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var n monitor.NodeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	if n.LastErrorCode == nil || *n.LastErrorCode != int(session.CodeTimeout) {
		t.Errorf("node = %+v", n)
	}

	if rec := get(t, h, "/nodes/00:00:00:00:00:00"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown node status = %d", rec.Code)
	}
}

func TestNodeByPortPath(t *testing.T) {
	h, tracker, _ := newTestRouter(t)
	tracker.Record(session.Result{ID: uuid.New(), PeerID: "/dev/rfcomm0", Outcome: session.OutcomeExhausted}, "/dev/rfcomm0")

	rec := get(t, h, "/nodes//dev/rfcomm0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var n monitor.NodeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	if n.PeerID != "/dev/rfcomm0" || n.LastOutcome != "exhausted" {
		t.Errorf("node = %+v", n)
	}
}

func TestNodeWithoutPlanOmitsNextCollection(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := get(t, h, "/nodes/AA:BB:CC:DD:EE:FF")
	if strings.Contains(rec.Body.String(), "next_collection") {
		t.Errorf("unset next_collection serialized: %s", rec.Body.String())
	}
	rec = get(t, h, "/nodes/20:15:04:10:26:60")
	if !strings.Contains(rec.Body.String(), `"next_collection":"2024-03-15T10:05:00Z"`) {
		t.Errorf("next_collection missing: %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, reg := newTestRouter(t)
	get(t, h, "/nodes/AA:BB:CC:DD:EE:FF")
	get(t, h, "/nodes/11:22:33:44:55:66")

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hivegate_http_requests_total") {
		t.Errorf("metrics body missing http counter:\n%s", rec.Body.String())
	}

	// Both lookups share the route template label.
	n, err := testutil.GatherAndCount(reg, "hivegate_http_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("expected 3 series (two /nodes/*peer statuses plus /metrics), got %d", n)
	}
}
