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

package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dcpmon/internal/monitor/config"
	"dcpmon/internal/monitor/core"
)

// BuildGateway opens the backend named by adapter:
//   - "memory": in-process map, lost on exit
//   - "sqlite": file at opts.SQLitePath (":memory:" when empty)
//   - "postgres": opts.Postgres, or DB_* environment variables when nil
//   - "redis": opts.RedisAddr with keys under opts.RedisPrefix
//
// Gateways that hold a connection also implement io.Closer.
func BuildGateway(ctx context.Context, adapter string, opts Options) (core.Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch adapter {
	case "", "memory":
		return core.NewMemoryGateway(opts.Window), nil
	case "sqlite":
		path := opts.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		g, err := OpenSQLite(ctx, path, opts.Window)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite gateway ready", zap.String("path", path))
		return g, nil
	case "postgres":
		var p config.Postgres
		if opts.Postgres != nil {
			p = *opts.Postgres
		} else {
			var err error
			if p, err = config.PostgresEnv(); err != nil {
				return nil, err
			}
		}
		g, err := OpenPostgres(ctx, logger, p, opts.Window)
		if err != nil {
			return nil, err
		}
		logger.Info("postgres gateway ready", zap.String("host", p.Host), zap.String("db", p.Name))
		return g, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis adapter needs an address")
		}
		client := NewGoRedisClient(opts.RedisAddr)
		if err := client.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", opts.RedisAddr, err)
		}
		logger.Info("redis gateway ready", zap.String("addr", opts.RedisAddr), zap.String("prefix", opts.RedisPrefix))
		return NewRedisGateway(client, opts.RedisPrefix, opts.Window), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, adapter)
	}
}
