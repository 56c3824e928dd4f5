// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the monitor's runtime settings. Values are plain
// scalars bound to command-line flags; database credentials come from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dcpmon/internal/monitor/core"
)

// Config is the full set of knobs for the settle-and-write pipeline and the
// process around it.
type Config struct {
	Settle               time.Duration
	MaxQueued            int
	MatchWindow          time.Duration
	RetentionDays        int
	IgnoreInvalidAddress bool
	DrainInterval        time.Duration
	RetryInterval        time.Duration
	RetryTimeout         time.Duration
	FutureLimit          time.Duration
	OmitCodes            string
	PurgeInterval        time.Duration
	SaveTimeout          time.Duration

	// Store selects the gateway: memory, sqlite, postgres or redis.
	Store       string
	SQLitePath  string
	RedisAddr   string
	RedisPrefix string

	HTTPAddr string
	Input    string
	// AuditLog, when set, receives every accepted report line.
	AuditLog string
	Debug    bool
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Settle:        core.DefaultSettle,
		MaxQueued:     core.DefaultMaxQueued,
		MatchWindow:   core.DefaultMatchWindow,
		RetentionDays: core.DefaultRetentionDays,
		DrainInterval: core.DefaultDrainInterval,
		RetryInterval: core.DefaultRetryInterval,
		RetryTimeout:  core.DefaultRetryTimeout,
		FutureLimit:   core.DefaultFutureLimit,
		PurgeInterval: time.Hour,
		SaveTimeout:   core.DefaultSaveTimeout,
		Store:         "memory",
		SQLitePath:    "dcpmon.db",
		RedisAddr:     "127.0.0.1:6379",
		RedisPrefix:   "dcpmon:",
		HTTPAddr:      ":8080",
		Input:         "-",
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.Settle <= 0:
		return errors.New("settle must be positive")
	case c.MaxQueued < 2:
		return errors.New("max-queued must be at least 2")
	case c.MatchWindow <= 0:
		return errors.New("match-window must be positive")
	case c.RetentionDays < 0:
		return errors.New("retention-days must not be negative")
	case c.DrainInterval <= 0:
		return errors.New("drain-interval must be positive")
	case c.RetryInterval <= 0 || c.RetryTimeout < c.RetryInterval:
		return errors.New("retry-timeout must be at least retry-interval, both positive")
	}
	switch c.Store {
	case "memory", "postgres", "redis":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("sqlite-path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}

// Worker returns the drain worker settings.
func (c Config) Worker() core.WorkerConfig {
	return core.WorkerConfig{
		Settle:               c.Settle,
		DrainInterval:        c.DrainInterval,
		RetentionDays:        c.RetentionDays,
		IgnoreInvalidAddress: c.IgnoreInvalidAddress,
		PurgeInterval:        c.PurgeInterval,
		SaveTimeout:          c.SaveTimeout,
	}
}

// Consumer returns the producer-side settings.
func (c Config) Consumer() core.ConsumerConfig {
	return core.ConsumerConfig{
		RetryInterval: c.RetryInterval,
		RetryTimeout:  c.RetryTimeout,
		FutureLimit:   c.FutureLimit,
		OmitCodes:     c.OmitCodes,
		SaveTimeout:   c.SaveTimeout,
	}
}

// Capture records the settings for the end-of-process summary.
func (c Config) Capture() {
	core.SetThresholdDuration("settle", c.Settle)
	core.SetThresholdInt64("max_queued", int64(c.MaxQueued))
	core.SetThresholdDuration("match_window", c.MatchWindow)
	core.SetThresholdInt64("retention_days", int64(c.RetentionDays))
	core.SetThresholdBool("ignore_invalid_address", c.IgnoreInvalidAddress)
	core.SetThresholdDuration("drain_interval", c.DrainInterval)
	core.SetThresholdDuration("retry_interval", c.RetryInterval)
	core.SetThresholdDuration("retry_timeout", c.RetryTimeout)
	core.SetThresholdDuration("purge_interval", c.PurgeInterval)
	core.SetThreshold("omit_codes", c.OmitCodes)
	core.SetThreshold("store", c.Store)
	core.SetThreshold("http_addr", c.HTTPAddr)
	core.SetThreshold("audit_log", c.AuditLog)
}

// Postgres is the connection configuration read from the environment.
type Postgres struct {
	Host, User, Passwd, Name, SSLMode string
	ConnTimeout, MaxOpen, MaxIdle     int
}

// PostgresEnv reads DB_* variables. Errors name the offending variable.
func PostgresEnv() (Postgres, error) {
	var p Postgres
	var err error

	for _, s := range []struct {
		name string
		dst  *string
	}{
		{"DB_HOST", &p.Host},
		{"DB_USER", &p.User},
		{"DB_PASSWD", &p.Passwd},
		{"DB_NAME", &p.Name},
		{"DB_SSLMODE", &p.SSLMode},
	} {
		*s.dst = strings.TrimSpace(os.Getenv(s.name))
		if *s.dst == "" {
			return Postgres{}, fmt.Errorf("%s env var not set", s.name)
		}
	}

	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"DB_CONN_TIMEOUT", &p.ConnTimeout},
		{"DB_MAX_IDLE_CONNS", &p.MaxIdle},
		{"DB_MAX_OPEN_CONNS", &p.MaxOpen},
	} {
		v := os.Getenv(n.name)
		if v == "" {
			return Postgres{}, fmt.Errorf("%s env var not set", n.name)
		}
		if *n.dst, err = strconv.Atoi(v); err != nil {
			return Postgres{}, fmt.Errorf("%s invalid value: %w", n.name, err)
		}
	}

	return p, nil
}

// Connection returns a lib/pq connection string.
func (p Postgres) Connection() string {
	return fmt.Sprintf("host=%s connect_timeout=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.ConnTimeout, p.User, p.Passwd, p.Name, p.SSLMode)
}
