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

// This file implements the background worker that drains settled records to
// persistence and enforces retention.
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"dcpmon/internal/monitor/telemetry"
)

const (
	DefaultSettle        = 30 * time.Second
	DefaultDrainInterval = time.Second
	DefaultRetentionDays = 30
	DefaultSaveTimeout   = 10 * time.Second
)

// Shutdown is the process-wide stop flag shared by the producer retry loop
// and the drain worker. Once requested it stays requested.
type Shutdown struct {
	flag atomic.Bool
}

// Request sets the flag.
func (s *Shutdown) Request() { s.flag.Store(true) }

// Requested reports whether shutdown has been requested.
func (s *Shutdown) Requested() bool { return s.flag.Load() }

// ErrorHandler receives records whose save failed. It runs on the drain
// goroutine and must not block for long.
type ErrorHandler func(r *Record, err error)

// WorkerConfig holds the drain knobs.
//
// RetentionDays <= 0 disables the stale-record drop and the purge loop.
// PurgeInterval <= 0 disables the purge loop only.
type WorkerConfig struct {
	Settle               time.Duration
	DrainInterval        time.Duration
	RetentionDays        int
	IgnoreInvalidAddress bool
	PurgeInterval        time.Duration
	SaveTimeout          time.Duration
	Now                  func() time.Time
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Worker drains the settle buffer into the gateway once per tick.
type Worker struct {
	logger   *zap.Logger
	buffer   *Buffer
	gateway  Gateway
	cfg      WorkerConfig
	onError  ErrorHandler
	shutdown *Shutdown

	stopChan chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	started  uint32
	stopped  uint32
	day      int64

	// tick overrides the drain ticker; tests drive the loop through it.
	tick <-chan time.Time
}

// NewWorker creates a drain worker. shutdown is shared with the producers;
// a nil onError only logs failures.
func NewWorker(logger *zap.Logger, buffer *Buffer, gateway Gateway, shutdown *Shutdown, cfg WorkerConfig, onError ErrorHandler) (*Worker, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if buffer == nil || gateway == nil || shutdown == nil {
		return nil, errors.New("buffer, gateway and shutdown are required")
	}
	return &Worker{
		logger:   logger.With(zap.String("component", "drain-worker")),
		buffer:   buffer,
		gateway:  gateway,
		cfg:      cfg.withDefaults(),
		onError:  onError,
		shutdown: shutdown,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the drain loop and, when the gateway supports it, the purge loop.
func (w *Worker) Start() {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return
	}
	w.logger.Info("starting drain worker",
		zap.Duration("settle", w.cfg.Settle),
		zap.Duration("interval", w.cfg.DrainInterval),
		zap.Int("retention_days", w.cfg.RetentionDays))
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(w.done)
		w.drainLoop()
	}()
	if p, ok := w.gateway.(Purger); ok && w.cfg.PurgeInterval > 0 && w.cfg.RetentionDays > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.purgeLoop(p)
		}()
	}
}

// Stop requests shutdown and blocks until every buffered record has been
// handed to the gateway and the buffer is closed. A worker that was never
// started drains on the caller's goroutine. Safe to call more than once.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	w.logger.Info("stopping drain worker", zap.Int("buffered", w.buffer.Len()))
	w.shutdown.Request()
	if atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		w.finalDrain()
		close(w.done)
		return
	}
	close(w.stopChan)
	w.wg.Wait()
}

// finalDrain writes everything left and closes the buffer.
func (w *Worker) finalDrain() {
	for !w.drained() {
		w.runDrainCycle(w.cfg.Now(), true)
	}
}

// drained closes the buffer once shutdown is requested and nothing is left.
func (w *Worker) drained() bool {
	if !w.shutdown.Requested() || !w.buffer.closeIfEmpty() {
		return false
	}
	w.logger.Info("settle buffer drained")
	return true
}

// Done is closed once the drain loop has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) drainLoop() {
	tick := w.tick
	if tick == nil {
		ticker := time.NewTicker(w.cfg.DrainInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	stop := w.stopChan
	for {
		select {
		case <-tick:
		case <-stop:
			// Drain right away; later passes wait on the ticker only.
			stop = nil
		}
		w.runDrainCycle(w.cfg.Now(), w.shutdown.Requested())
		if w.drained() {
			return
		}
	}
}

// runDrainCycle dequeues every ready record and persists or drops it.
// It returns the number of records saved.
func (w *Worker) runDrainCycle(now time.Time, shutdown bool) int {
	w.rollDay(now)

	saved := 0
	for {
		r, age, ok := w.buffer.dequeueReady(now, shutdown, w.cfg.Settle)
		if !ok {
			return saved
		}
		if w.cfg.IgnoreInvalidAddress && r.HasCode(CodeInvalidAddress) {
			w.logger.Info("dropping record with invalid address", zap.Stringer("record", r))
			droppedInvalid.Add(1)
			telemetry.ObserveDrop(telemetry.DropInvalidAddress)
			continue
		}
		if w.cfg.RetentionDays > 0 && r.Timestamp.Before(retentionCutoff(now, w.cfg.RetentionDays)) {
			w.logger.Warn("dropping record older than retention",
				zap.Stringer("record", r), zap.Int("retention_days", w.cfg.RetentionDays))
			droppedStale.Add(1)
			telemetry.ObserveDrop(telemetry.DropStale)
			continue
		}
		if err := w.save(r, age); err != nil {
			saveErrors.Add(1)
			telemetry.ObserveSaveError()
			w.logger.Error("save failed", zap.Stringer("record", r), zap.Error(err))
			if w.onError != nil {
				w.onError(r, err)
			}
			continue
		}
		saved++
	}
}

func (w *Worker) save(r *Record, settled time.Duration) error {
	update := r.Persisted()
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SaveTimeout)
	defer cancel()
	if err := w.gateway.Save(ctx, r); err != nil {
		return err
	}
	if update {
		updates.Add(1)
		telemetry.ObserveSave(telemetry.SaveUpdate, settled)
	} else {
		inserts.Add(1)
		telemetry.ObserveSave(telemetry.SaveInsert, settled)
	}
	return nil
}

// rollDay tracks the day number; a change is only logged.
func (w *Worker) rollDay(now time.Time) {
	day := now.Unix() / 86400
	if w.day != 0 && day != w.day {
		w.logger.Info("day rollover", zap.Int64("day", day))
	}
	w.day = day
}

func (w *Worker) purgeLoop(p Purger) {
	ticker := time.NewTicker(w.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runPurgeCycle(p, w.cfg.Now())
		case <-w.stopChan:
			return
		}
	}
}

// runPurgeCycle removes stored records older than the retention window.
func (w *Worker) runPurgeCycle(p Purger, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SaveTimeout)
	defer cancel()

	n, err := p.Purge(ctx, retentionCutoff(now, w.cfg.RetentionDays))
	if err != nil {
		w.logger.Warn("retention purge failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		w.logger.Info("purged records older than retention", zap.Int64("count", n))
		telemetry.ObservePurged(n)
	}
	return n, nil
}

func retentionCutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
