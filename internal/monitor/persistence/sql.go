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
	"strconv"
	"strings"
	"time"

	"dcpmon/internal/monitor/core"
)

// Table layout shared by the SQL dialects. Times are stored as Unix
// milliseconds so the fuzzy window is a plain range predicate.
//
// CREATE TABLE dcp_trans (
//   record_id       <serial> PRIMARY KEY,
//   medium_type     CHAR(1) NOT NULL,
//   medium_id       VARCHAR(64) NOT NULL,
//   transmit_time   BIGINT NOT NULL,
//   local_recv_time BIGINT NOT NULL,
//   failure_codes   VARCHAR(8) NOT NULL,
//   signal_strength INTEGER, battery <float>, channel INTEGER,
//   msg_length      INTEGER, msg_data <blob>,
//   UNIQUE (medium_type, medium_id, transmit_time)
// );

const recordColumns = `record_id, medium_type, medium_id, transmit_time, local_recv_time, failure_codes,
	signal_strength, battery, channel, msg_data`

// dialect captures what differs between the SQL backends.
type dialect struct {
	name      string
	schema    []string
	numbered  bool // $1 placeholders instead of ?
	duplicate func(error) bool
}

// SQLGateway stores records in a relational table through database/sql.
type SQLGateway struct {
	db             *sql.DB
	d              dialect
	window         time.Duration
	defaultTimeout time.Duration
}

func newSQLGateway(db *sql.DB, d dialect, window time.Duration) *SQLGateway {
	if window <= 0 {
		window = core.DefaultMatchWindow
	}
	return &SQLGateway{db: db, d: d, window: window, defaultTimeout: 10 * time.Second}
}

// rebind rewrites ? placeholders for dialects that number them.
func (g *SQLGateway) rebind(q string) string {
	if !g.d.numbered {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (g *SQLGateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && g.defaultTimeout > 0 {
		return context.WithTimeout(ctx, g.defaultTimeout)
	}
	return ctx, func() {}
}

// Init creates the table and index when they do not exist.
func (g *SQLGateway) Init(ctx context.Context) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	for _, stmt := range g.d.schema {
		if _, err := g.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s schema: %w", g.d.name, err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (g *SQLGateway) Close() error { return g.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*core.Record, error) {
	var (
		r         core.Record
		mt, codes string
		tx, recv  int64
		sig, ch   sql.NullInt64
		battery   sql.NullFloat64
		payload   []byte
	)
	if err := s.Scan(&r.ID, &mt, &r.MediumID, &tx, &recv, &codes, &sig, &battery, &ch, &payload); err != nil {
		return nil, err
	}
	if mt != "" {
		r.MediumType = core.MediumType(mt[0])
	}
	r.Timestamp = time.UnixMilli(tx).UTC()
	r.ReceivedAt = time.UnixMilli(recv).UTC()
	r.SetFailureCodes(codes)
	r.SignalStrength = int(sig.Int64)
	r.BatteryVolts = battery.Float64
	r.Channel = int(ch.Int64)
	r.Payload = payload
	return &r, nil
}

func (g *SQLGateway) Find(ctx context.Context, mt core.MediumType, mediumID string, ts time.Time) (*core.Record, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	lo := ts.Add(-g.window).UnixMilli()
	hi := ts.Add(g.window).UnixMilli()
	row := g.db.QueryRowContext(ctx, g.rebind(`SELECT `+recordColumns+` FROM dcp_trans
		WHERE medium_type = ? AND medium_id = ? AND transmit_time > ? AND transmit_time < ?
		ORDER BY record_id LIMIT 1`), string(rune(mt)), mediumID, lo, hi)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s:%s: %w", mt, mediumID, err)
	}
	return r, nil
}

// Save inserts records without an ID and updates the rest. An insert that
// collides with a row for the exact same transmission turns into an update
// of that row.
func (g *SQLGateway) Save(ctx context.Context, r *core.Record) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if r.ID != 0 {
		return g.update(ctx, r)
	}
	err := g.insert(ctx, r)
	if err == nil || !g.d.duplicate(err) {
		return err
	}
	var id int64
	if qerr := g.db.QueryRowContext(ctx, g.rebind(`SELECT record_id FROM dcp_trans
		WHERE medium_type = ? AND medium_id = ? AND transmit_time = ?`),
		string(rune(r.MediumType)), r.MediumID, r.Timestamp.UnixMilli()).Scan(&id); qerr != nil {
		return fmt.Errorf("resolve duplicate %s: %w", r, qerr)
	}
	r.ID = id
	return g.update(ctx, r)
}

func (g *SQLGateway) insert(ctx context.Context, r *core.Record) error {
	var id int64
	err := g.db.QueryRowContext(ctx, g.rebind(`INSERT INTO dcp_trans
		(medium_type, medium_id, transmit_time, local_recv_time, failure_codes,
		 signal_strength, battery, channel, msg_length, msg_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING record_id`),
		string(rune(r.MediumType)), r.MediumID, r.Timestamp.UnixMilli(), r.ReceivedAt.UnixMilli(),
		r.FailureCodes(), r.SignalStrength, r.BatteryVolts, r.Channel, len(r.Payload), r.Payload).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r, err)
	}
	r.ID = id
	return nil
}

func (g *SQLGateway) update(ctx context.Context, r *core.Record) error {
	res, err := g.db.ExecContext(ctx, g.rebind(`UPDATE dcp_trans SET
		transmit_time = ?, local_recv_time = ?, failure_codes = ?, signal_strength = ?,
		battery = ?, channel = ?, msg_length = ?, msg_data = ?
		WHERE record_id = ?`),
		r.Timestamp.UnixMilli(), r.ReceivedAt.UnixMilli(), r.FailureCodes(), r.SignalStrength,
		r.BatteryVolts, r.Channel, len(r.Payload), r.Payload, r.ID)
	if err != nil {
		return fmt.Errorf("update %s: %w", r, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", r, ErrRecordNotFound)
	}
	return nil
}

func (g *SQLGateway) LastReceiveTime(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	var last sql.NullInt64
	if err := g.db.QueryRowContext(ctx, `SELECT MAX(local_recv_time) FROM dcp_trans`).Scan(&last); err != nil {
		return time.Time{}, false, fmt.Errorf("last receive time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(last.Int64).UTC(), true, nil
}

func (g *SQLGateway) Purge(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	res, err := g.db.ExecContext(ctx, g.rebind(`DELETE FROM dcp_trans WHERE transmit_time < ?`), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

func (g *SQLGateway) Older(ctx context.Context, before time.Time, limit int) ([]*core.Record, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	q := `SELECT ` + recordColumns + ` FROM dcp_trans WHERE transmit_time < ? ORDER BY transmit_time, record_id`
	args := []any{before.UnixMilli()}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := g.db.QueryContext(ctx, g.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("older: %w", err)
	}
	defer rows.Close()

	var out []*core.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("older scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
