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
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

var sqliteDialect = dialect{
	name: "sqlite3",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS dcp_trans (
			record_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			medium_type     TEXT NOT NULL,
			medium_id       TEXT NOT NULL,
			transmit_time   INTEGER NOT NULL,
			local_recv_time INTEGER NOT NULL,
			failure_codes   TEXT NOT NULL,
			signal_strength INTEGER,
			battery         REAL,
			channel         INTEGER,
			msg_length      INTEGER,
			msg_data        BLOB,
			UNIQUE (medium_type, medium_id, transmit_time)
		)`,
		`CREATE INDEX IF NOT EXISTS dcp_trans_transmit_time ON dcp_trans (transmit_time)`,
		`CREATE INDEX IF NOT EXISTS dcp_trans_local_recv_time ON dcp_trans (local_recv_time)`,
	},
	duplicate: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
	},
}

// NewSQLiteGateway wraps an open SQLite handle.
func NewSQLiteGateway(db *sql.DB, window time.Duration) *SQLGateway {
	return newSQLGateway(db, sqliteDialect, window)
}

// OpenSQLite opens (or creates) the database file at path and creates the
// table if needed. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, window time.Duration) (*SQLGateway, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection also keeps :memory: a single database.
	db.SetMaxOpenConns(1)

	g := NewSQLiteGateway(db, window)
	if err := g.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}
