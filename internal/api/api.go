// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api serves gateway status over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/hivegate/internal/devices"
	"github.com/Thermoquad/hivegate/internal/metrics"
	"github.com/Thermoquad/hivegate/internal/monitor"
)

const version = "0.3.0"

type Options struct {
	Tracker  *monitor.Tracker
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	// StoreName is reported by /healthz.
	StoreName string
	// SpoolPending reports buffered store records; nil when spooling is off.
	SpoolPending func() int
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(opts.Logger), RequestMetrics(opts.Metrics))

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"uptime":  time.Since(started).Truncate(time.Second).String(),
			"service": "hivegate",
			"version": version,
			"store":   opts.StoreName,
		}
		if opts.SpoolPending != nil {
			body["spool_pending"] = opts.SpoolPending()
		}
		c.JSON(http.StatusOK, body)
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nodes": opts.Tracker.Nodes()})
	})

	// Catch-all so ad hoc peers named after a port path (/dev/rfcomm0) or
	// URL are reachable too.
	r.GET("/nodes/*peer", func(c *gin.Context) {
		peer := strings.TrimPrefix(c.Param("peer"), "/")
		n, ok := opts.Tracker.Node(peer)
		if !ok {
			peer = devices.NormalizeAddress(peer)
			n, ok = opts.Tracker.Node(peer)
		}
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown node", "peer": peer})
			return
		}
		c.JSON(http.StatusOK, n)
	})

	return r
}

func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Int("bytes", c.Writer.Size()).
			Msg("http_request")
	}
}

func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.HTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// routePath prefers the route template so /nodes/*peer stays one series.
func routePath(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return c.Request.URL.Path
}

// ListenAndServe runs h on addr until ctx is cancelled, then shuts down.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("status api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
