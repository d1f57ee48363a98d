// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hivegate"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions        *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	commands        *prometheus.CounterVec
	readings        prometheus.Counter
	errorEvents     *prometheus.CounterVec
	linkErrors      *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	anomalies       *prometheus.CounterVec
	spoolPending    prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "total",
			Help:      "Sessions run, by outcome.",
		}, []string{"outcome"}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Wall time of a session from first OKAY to stream close.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "commands_total",
			Help:      "Command bytes received from nodes.",
		}, []string{"command"}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "readings_total",
			Help:      "Temperature samples received from nodes.",
		}),
		errorEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "error_events_total",
			Help:      "Error events emitted, by error code.",
		}, []string{"code"}),
		linkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "errors_total",
			Help:      "Link failures, by kind.",
		}, []string{"kind"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Store write or query failures, by operation.",
		}, []string{"op"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wire",
			Name:      "anomalies_total",
			Help:      "Implausible records received, by record.",
		}, []string{"record"}),
		spoolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "spool",
			Name:      "pending_records",
			Help:      "Records waiting in the store spool.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(
		m.sessions, m.sessionDuration, m.commands, m.readings, m.errorEvents,
		m.linkErrors, m.storeErrors, m.anomalies, m.spoolPending,
		m.httpRequests, m.httpDuration,
	)
	return m
}

func (m *Metrics) SessionFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

func (m *Metrics) Readings(n int) {
	if m == nil {
		return
	}
	m.readings.Add(float64(n))
}

func (m *Metrics) ErrorEvent(code int) {
	if m == nil {
		return
	}
	m.errorEvents.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *Metrics) LinkError(kind string) {
	if m == nil {
		return
	}
	m.linkErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) Anomalies(record string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.anomalies.WithLabelValues(record).Add(float64(n))
}

func (m *Metrics) SpoolPending(n int) {
	if m == nil {
		return
	}
	m.spoolPending.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(d.Seconds())
}
