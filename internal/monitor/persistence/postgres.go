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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"dcpmon/internal/monitor/config"
)

const errorUniqueViolation pq.ErrorCode = "23505"

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS dcp_trans (
			record_id       BIGSERIAL PRIMARY KEY,
			medium_type     CHAR(1) NOT NULL,
			medium_id       VARCHAR(64) NOT NULL,
			transmit_time   BIGINT NOT NULL,
			local_recv_time BIGINT NOT NULL,
			failure_codes   VARCHAR(8) NOT NULL,
			signal_strength INTEGER,
			battery         DOUBLE PRECISION,
			channel         INTEGER,
			msg_length      INTEGER,
			msg_data        BYTEA,
			UNIQUE (medium_type, medium_id, transmit_time)
		)`,
		`CREATE INDEX IF NOT EXISTS dcp_trans_transmit_time ON dcp_trans (transmit_time)`,
		`CREATE INDEX IF NOT EXISTS dcp_trans_local_recv_time ON dcp_trans (local_recv_time)`,
	},
	duplicate: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == errorUniqueViolation
	},
}

// NewPostgresGateway wraps an open Postgres handle.
func NewPostgresGateway(db *sql.DB, window time.Duration) *SQLGateway {
	return newSQLGateway(db, postgresDialect, window)
}

// OpenPostgres connects using p, waits for the database to answer and
// creates the table if needed. The ping is retried until ctx ends so the
// monitor can start before its database.
func OpenPostgres(ctx context.Context, logger *zap.Logger, p config.Postgres, window time.Duration) (*SQLGateway, error) {
	db, err := sql.Open("postgres", p.Connection())
	if err != nil {
		return nil, fmt.Errorf("problem with DB config: %w", err)
	}
	db.SetMaxIdleConns(p.MaxIdle)
	db.SetMaxOpenConns(p.MaxOpen)

	for {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Warn("problem pinging DB, waiting to retry", zap.String("host", p.Host), zap.Error(err))
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		case <-time.After(time.Second):
		}
	}

	g := NewPostgresGateway(db, window)
	if err := g.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}
