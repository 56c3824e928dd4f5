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

// This file holds records in memory while they settle.
package core

import (
	"sync"
	"time"

	"dcpmon/internal/monitor/telemetry"
)

const (
	DefaultMaxQueued   = 10000
	DefaultMatchWindow = 20 * time.Second
)

// entry wraps a buffered record with the time it entered the buffer.
//
// insertedAt never changes while the entry is queued; Replace swaps rec
// only, so a replacement inherits the original settle clock.
type entry struct {
	rec        *Record
	insertedAt time.Time
}

// Buffer is a bounded FIFO of records waiting to settle before they are
// written. It is safe for concurrent use; every operation holds a single
// mutex and none of them performs I/O.
type Buffer struct {
	mu          sync.Mutex
	entries     []entry
	maxQueued   int
	matchWindow time.Duration
	now         func() time.Time
	// closed is set once the final shutdown drain has emptied the buffer.
	closed bool
}

// NewBuffer creates a settle buffer. Non-positive maxQueued or matchWindow
// fall back to the defaults; a nil now uses time.Now.
func NewBuffer(maxQueued int, matchWindow time.Duration, now func() time.Time) *Buffer {
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}
	if matchWindow <= 0 {
		matchWindow = DefaultMatchWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Buffer{maxQueued: maxQueued, matchWindow: matchWindow, now: now}
}

// Enqueue appends r to the tail. It returns false, leaving the buffer
// untouched, when the buffer is over capacity or already closed by the final
// drain. Enqueueing a record that is already buffered is a no-op that
// returns true.
func (b *Buffer) Enqueue(r *Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.entries) > b.maxQueued {
		return false
	}
	for i := range b.entries {
		if b.entries[i].rec == r {
			return true
		}
	}
	b.entries = append(b.entries, entry{rec: r, insertedAt: b.now()})
	telemetry.SetBufferDepth(len(b.entries))
	return true
}

// DequeueReady removes and returns the head record when it is ready to be
// written: the buffer is at least half full, shutdown is set, or the head has
// been buffered for at least settle. Only the head is inspected.
func (b *Buffer) DequeueReady(now time.Time, shutdown bool, settle time.Duration) (*Record, bool) {
	r, _, ok := b.dequeueReady(now, shutdown, settle)
	return r, ok
}

// dequeueReady also reports how long the record was buffered.
func (b *Buffer) dequeueReady(now time.Time, shutdown bool, settle time.Duration) (*Record, time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return nil, 0, false
	}
	head := b.entries[0]
	age := now.Sub(head.insertedAt)
	if len(b.entries) < b.maxQueued/2 && !shutdown && age < settle {
		return nil, 0, false
	}
	b.entries[0] = entry{}
	b.entries = b.entries[1:]
	if len(b.entries) == 0 {
		// Drop the drained backing array so a burst does not pin memory.
		b.entries = nil
	}
	telemetry.SetBufferDepth(len(b.entries))
	return head.rec, age, true
}

// closeIfEmpty closes the buffer when nothing is left in it. A closed buffer
// refuses every later Enqueue, so nothing can land after the last drain.
func (b *Buffer) closeIfEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) > 0 {
		return false
	}
	b.closed = true
	return true
}

// Find returns the first buffered record, in FIFO order, for the same medium
// whose timestamp is strictly within the match window of ts.
func (b *Buffer) Find(mt MediumType, mediumID string, ts time.Time) *Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.rec.Matches(mt, mediumID, ts, b.matchWindow) {
			return e.rec
		}
	}
	return nil
}

// Replace locates the entry matching existing's key and swaps in replacement,
// keeping the entry's insertion time. The replacement takes over the
// persistence ID of the record it replaces, so a record that was already
// written is updated rather than inserted twice. It reports whether an entry
// was found.
func (b *Buffer) Replace(existing, replacement *Record) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].rec.Matches(existing.MediumType, existing.MediumID, existing.Timestamp, b.matchWindow) {
			if replacement.ID == 0 {
				replacement.ID = b.entries[i].rec.ID
			}
			b.entries[i].rec = replacement
			return true
		}
	}
	return false
}

// Modify runs fn on r while holding the buffer lock, provided r is still
// buffered. It reports false when r has already been dequeued.
func (b *Buffer) Modify(r *Record, fn func(*Record)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].rec == r {
			fn(r)
			return true
		}
	}
	return false
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// OldestAge returns how long the head record has been buffered, zero when empty.
func (b *Buffer) OldestAge(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return 0
	}
	return now.Sub(b.entries[0].insertedAt)
}
