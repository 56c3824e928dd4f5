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

// Package persistence provides durable gateways for transmission records:
// Postgres and SQLite through database/sql, and Redis through go-redis.
//
// Every gateway follows the same contract: a record without an ID is
// inserted and receives one; a record with an ID updates the stored row.
// Find uses the same exclusive fuzzy window as the settle buffer.
package persistence

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"dcpmon/internal/monitor/config"
)

// ErrRecordNotFound is returned when an update targets a record that is no
// longer stored, typically because retention removed it.
var ErrRecordNotFound = errors.New("record not found")

// ErrUnknownAdapter is returned by BuildGateway for unsupported names.
var ErrUnknownAdapter = errors.New("unknown persistence adapter")

// Options carries what BuildGateway needs to open a backend.
type Options struct {
	Logger      *zap.Logger
	Window      time.Duration
	SQLitePath  string
	Postgres    *config.Postgres
	RedisAddr   string
	RedisPrefix string
	// ConnectTimeout bounds the initial connectivity check.
	ConnectTimeout time.Duration
}
