// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the gateway's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/internal/schedule"
	"github.com/Thermoquad/hivegate/internal/session"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid config")

const (
	DriverTimescale = "timescale"
	DriverMemory    = "memory"

	FormatConsole = "console"
	FormatJSON    = "json"
)

type Config struct {
	Devices  string         `yaml:"devices"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Session  SessionConfig  `yaml:"session"`
	Serial   SerialConfig   `yaml:"serial"`
	HTTP     HTTPConfig     `yaml:"http"`
	Collect  CollectConfig  `yaml:"collect"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	NoColor bool   `yaml:"no_color"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	ConnString  string `yaml:"conn_string"`
	Hypertables bool   `yaml:"hypertables"`
	// SpoolDir holds records that could not be written while the store was
	// unreachable. Empty disables spooling.
	SpoolDir string `yaml:"spool_dir"`
}

type ScheduleConfig struct {
	Granularity time.Duration `yaml:"granularity"`
	Guard       time.Duration `yaml:"guard"`
	Lookaround  time.Duration `yaml:"lookaround"`
}

type SessionConfig struct {
	ByteTimeout    time.Duration `yaml:"byte_timeout"`
	MaxRounds      int           `yaml:"max_rounds"`
	IntervalLength time.Duration `yaml:"interval_length"`
	MaxReadings    int           `yaml:"max_readings"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type SerialConfig struct {
	Baud int `yaml:"baud"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type CollectConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns a configuration usable without a file: in-memory store,
// registry at devices.toml.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Devices == "" {
		c.Devices = "devices.toml"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = FormatConsole
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	sched := schedule.DefaultConfig()
	if c.Schedule.Granularity == 0 {
		c.Schedule.Granularity = sched.Granularity
	}
	if c.Schedule.Guard == 0 {
		c.Schedule.Guard = sched.Guard
	}
	if c.Schedule.Lookaround == 0 {
		c.Schedule.Lookaround = sched.Lookaround
	}

	def := session.DefaultConfig()
	if c.Session.ByteTimeout == 0 {
		c.Session.ByteTimeout = def.ByteTimeout
	}
	if c.Session.MaxRounds == 0 {
		c.Session.MaxRounds = def.MaxRounds
	}
	if c.Session.IntervalLength == 0 {
		c.Session.IntervalLength = time.Duration(def.IntervalSeconds) * time.Second
	}
	if c.Session.MaxReadings == 0 {
		c.Session.MaxReadings = def.MaxReadings
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = def.WriteTimeout
	}

	if c.Serial.Baud == 0 {
		c.Serial.Baud = link.DefaultBaud
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":9100"
	}
	if c.Collect.Interval == 0 {
		c.Collect.Interval = time.Minute
	}
}

// Validate reports the first problem found, wrapped in ErrInvalid.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverTimescale:
		if strings.TrimSpace(c.Store.ConnString) == "" {
			return invalid("store.conn_string is required for driver %q", c.Store.Driver)
		}
	default:
		return invalid("store.driver %q is not one of %s, %s", c.Store.Driver, DriverTimescale, DriverMemory)
	}

	switch c.Log.Format {
	case FormatConsole, FormatJSON:
	default:
		return invalid("log.format %q is not one of %s, %s", c.Log.Format, FormatConsole, FormatJSON)
	}

	if c.Schedule.Granularity < time.Minute || c.Schedule.Granularity%time.Minute != 0 {
		return invalid("schedule.granularity must be a whole number of minutes, got %s", c.Schedule.Granularity)
	}
	if c.Schedule.Guard < 0 || c.Schedule.Guard >= c.Schedule.Granularity {
		return invalid("schedule.guard must be in [0, granularity), got %s", c.Schedule.Guard)
	}
	if c.Schedule.Lookaround <= 0 {
		return invalid("schedule.lookaround must be positive")
	}

	if c.Session.ByteTimeout <= 0 {
		return invalid("session.byte_timeout must be positive")
	}
	if c.Session.MaxRounds < 1 {
		return invalid("session.max_rounds must be at least 1")
	}
	if c.Session.IntervalLength < time.Second || c.Session.IntervalLength%time.Second != 0 ||
		c.Session.IntervalLength/time.Second > math.MaxUint32 {
		return invalid("session.interval_length must be a whole number of seconds, got %s", c.Session.IntervalLength)
	}
	if c.Session.MaxReadings < 0 {
		return invalid("session.max_readings must not be negative")
	}

	if c.Serial.Baud <= 0 {
		return invalid("serial.baud must be positive")
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return invalid("http.addr is required")
	}
	if c.Collect.Interval <= 0 {
		return invalid("collect.interval must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// SchedulerConfig converts the schedule section for the scheduler
func (c *Config) SchedulerConfig() schedule.Config {
	return schedule.Config{
		Granularity: c.Schedule.Granularity,
		Guard:       c.Schedule.Guard,
		Lookaround:  c.Schedule.Lookaround,
	}
}

// EngineConfig converts the session section for the engine
func (c *Config) EngineConfig() session.Config {
	return session.Config{
		ByteTimeout:     c.Session.ByteTimeout,
		MaxRounds:       c.Session.MaxRounds,
		IntervalSeconds: uint32(c.Session.IntervalLength / time.Second),
		MaxReadings:     c.Session.MaxReadings,
		WriteTimeout:    c.Session.WriteTimeout,
	}
}
