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

package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Gateway is the durable store behind the settle buffer.
//
// Find returns (nil, nil) when no stored record matches. Save inserts records
// with a zero ID and assigns one; records with an ID are updated in place.
type Gateway interface {
	Find(ctx context.Context, mt MediumType, mediumID string, ts time.Time) (*Record, error)
	Save(ctx context.Context, r *Record) error
	// LastReceiveTime is the newest local receive time stored, used as the
	// recovery point on startup. ok is false when the store is empty.
	LastReceiveTime(ctx context.Context) (t time.Time, ok bool, err error)
}

// Purger is implemented by gateways that can drop records older than a cutoff.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Exporter is implemented by gateways that can list records older than a
// cutoff, in timestamp order, so they can be archived before a purge.
type Exporter interface {
	Older(ctx context.Context, before time.Time, limit int) ([]*Record, error)
}

// MemoryGateway keeps records in process memory. It backs demos and tests.
type MemoryGateway struct {
	mu      sync.Mutex
	window  time.Duration
	seq     int64
	records map[int64]*Record
	inserts int64
	updates int64
}

// NewMemoryGateway creates an empty in-memory store using window for Find.
func NewMemoryGateway(window time.Duration) *MemoryGateway {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &MemoryGateway{window: window, records: make(map[int64]*Record)}
}

func (g *MemoryGateway) Find(ctx context.Context, mt MediumType, mediumID string, ts time.Time) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var best *Record
	for _, r := range g.records {
		if !r.Matches(mt, mediumID, ts, g.window) {
			continue
		}
		if best == nil || r.ID < best.ID {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.Clone(), nil
}

func (g *MemoryGateway) Save(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if r.ID == 0 {
		g.seq++
		r.ID = g.seq
		g.inserts++
	} else {
		if r.ID > g.seq {
			g.seq = r.ID
		}
		g.updates++
	}
	g.records[r.ID] = r.Clone()
	return nil
}

func (g *MemoryGateway) LastReceiveTime(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var last time.Time
	for _, r := range g.records {
		if r.ReceivedAt.After(last) {
			last = r.ReceivedAt
		}
	}
	return last, !last.IsZero(), nil
}

func (g *MemoryGateway) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var n int64
	for id, r := range g.records {
		if r.Timestamp.Before(before) {
			delete(g.records, id)
			n++
		}
	}
	return n, nil
}

func (g *MemoryGateway) Older(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	var out []*Record
	for _, r := range g.records {
		if r.Timestamp.Before(before) {
			out = append(out, r.Clone())
		}
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Records returns copies of everything stored, ordered by ID.
func (g *MemoryGateway) Records() []*Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Record, 0, len(g.records))
	for _, r := range g.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Writes reports how many inserts and updates the gateway has applied.
func (g *MemoryGateway) Writes() (inserts, updates int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inserts, g.updates
}
