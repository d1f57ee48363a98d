// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/config"
	"github.com/Thermoquad/hivegate/internal/devices"
	"github.com/Thermoquad/hivegate/internal/gateway"
	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/internal/logging"
	"github.com/Thermoquad/hivegate/internal/metrics"
	"github.com/Thermoquad/hivegate/internal/schedule"
	"github.com/Thermoquad/hivegate/internal/session"
	"github.com/Thermoquad/hivegate/internal/spool"
	"github.com/Thermoquad/hivegate/internal/store"
	"github.com/Thermoquad/hivegate/internal/store/memory"
	"github.com/Thermoquad/hivegate/internal/store/timescale"
)

// app holds everything a collecting command needs
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *devices.Registry

	store     store.Store
	storeName string
	spool     *spool.Spool
	closeDB   func() error

	registerer *prometheus.Registry
	metrics    *metrics.Metrics
	gateway    *gateway.Gateway
}

// loadConfig reads --config. A missing file is only an error when the flag
// was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Default(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// newLogger builds the process logger; --log-level wins over the config.
func newLogger(cfg *config.Config, out io.Writer, noColor bool) zerolog.Logger {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New("hivegate", out, logging.Config{
		Level:   level,
		JSON:    cfg.Log.Format == config.FormatJSON,
		NoColor: cfg.Log.NoColor || noColor,
	})
}

func loadRegistry(cfg *config.Config, logger zerolog.Logger) (*devices.Registry, error) {
	r, err := devices.Load(cfg.Devices)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug().Str("path", cfg.Devices).Msg("no device registry")
		return devices.New(nil)
	}
	return r, err
}

// openStore builds the configured store. With a spool directory the
// database may be down at startup; writes are buffered until it returns.
func openStore(ctx context.Context, cfg *config.Config, tagger store.Tagger, logger zerolog.Logger) (store.Store, *spool.Spool, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("store driver is memory, readings are not persisted")
		return memory.New(), nil, noop, nil

	case config.DriverTimescale:
		opts := timescale.Options{Tagger: tagger}
		var ts *timescale.Store
		var err error
		if cfg.Store.SpoolDir != "" {
			ts, err = timescale.Dial(cfg.Store.ConnString, opts)
		} else {
			ts, err = timescale.Open(ctx, cfg.Store.ConnString, opts)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.Store.SpoolDir == "" {
			return ts, nil, ts.Close, nil
		}

		sp, err := spool.Open(cfg.Store.SpoolDir, ts, logger)
		if err != nil {
			ts.Close()
			return nil, nil, nil, err
		}
		return sp, sp, ts.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newApp wires config, logging, store, scheduler, engine and gateway.
func newApp(cmd *cobra.Command, logOut io.Writer, noColor bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, logOut, noColor)

	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	st, sp, closeDB, err := openStore(cmd.Context(), cfg, registry, logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sched := schedule.New(st, cfg.SchedulerConfig(), schedule.WithLogger(logging.Component(logger, "schedule")))
	engine := session.New(st, sched, cfg.EngineConfig(),
		session.WithLogger(logging.Component(logger, "session")),
		session.WithMetrics(m),
	)

	opts := []gateway.Option{
		gateway.WithLogger(logging.Component(logger, "gateway")),
		gateway.WithMetrics(m),
	}
	if sp != nil {
		opts = append(opts, gateway.WithSpool(sp))
		m.SpoolPending(sp.Pending())
	}

	a := &app{
		cfg:        cfg,
		log:        logger,
		registry:   registry,
		store:      st,
		storeName:  cfg.Store.Driver,
		spool:      sp,
		closeDB:    closeDB,
		registerer: reg,
		metrics:    m,
		gateway:    gateway.New(engine, link.DefaultOpener, opts...),
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.closeDB(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}
