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

package main

import (
	"github.com/spf13/pflag"

	"dcpmon/internal/monitor/config"
	"dcpmon/internal/monitor/persistence"
)

// bindStoreFlags registers the flags that select and reach the gateway.
// Postgres credentials come from DB_* environment variables.
func bindStoreFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Store, "store", c.Store, "Record store: memory, sqlite, postgres or redis")
	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "SQLite database file (sqlite store)")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address host:port (redis store)")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", c.RedisPrefix, "Key prefix (redis store)")
	fs.DurationVar(&c.MatchWindow, "match-window", c.MatchWindow, "Two reports within this distance of each other describe the same transmission")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "Human-readable debug logging")
}

// bindPipelineFlags registers the settle buffer, worker and consumer knobs.
func bindPipelineFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.DurationVar(&c.Settle, "settle", c.Settle, "How long a record stays buffered before it is written")
	fs.IntVar(&c.MaxQueued, "max-queued", c.MaxQueued, "Buffer capacity; past half of it the head is written without settling")
	fs.IntVar(&c.RetentionDays, "retention-days", c.RetentionDays, "Records older than this many days are dropped and purged (0 keeps everything)")
	fs.BoolVar(&c.IgnoreInvalidAddress, "ignore-invalid-address", c.IgnoreInvalidAddress, "Do not write records flagged with an invalid address code")
	fs.DurationVar(&c.DrainInterval, "drain-interval", c.DrainInterval, "How often the worker checks the buffer head")
	fs.DurationVar(&c.RetryInterval, "retry-interval", c.RetryInterval, "Wait between attempts to buffer a record while the buffer is full")
	fs.DurationVar(&c.RetryTimeout, "retry-timeout", c.RetryTimeout, "Give up buffering a record after this long")
	fs.DurationVar(&c.FutureLimit, "future-limit", c.FutureLimit, "Reject reports stamped further ahead of the clock than this")
	fs.StringVar(&c.OmitCodes, "omit-codes", c.OmitCodes, "Status codes dropped on arrival, e.g. \"RU\"")
	fs.DurationVar(&c.PurgeInterval, "purge-interval", c.PurgeInterval, "How often stored records past retention are deleted (0 disables)")
	fs.DurationVar(&c.SaveTimeout, "save-timeout", c.SaveTimeout, "Deadline for one database write")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "Operations HTTP address for /status, /metrics and /reports (empty disables)")
	fs.StringVar(&c.Input, "input", c.Input, "Newline-delimited JSON reports: a file, \"-\" for stdin, empty for HTTP intake only")
	fs.StringVar(&c.AuditLog, "audit-log", c.AuditLog, "Append every accepted report line to this file for replay")
}

func gatewayOptions(c config.Config) persistence.Options {
	return persistence.Options{
		Window:      c.MatchWindow,
		SQLitePath:  c.SQLitePath,
		RedisAddr:   c.RedisAddr,
		RedisPrefix: c.RedisPrefix,
	}
}
