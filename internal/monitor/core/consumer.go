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

// This file is the producer side: it validates decoded reports, classifies
// them against what is already known and feeds the settle buffer.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"dcpmon/internal/monitor/telemetry"
)

const (
	DefaultRetryInterval = 2 * time.Second
	DefaultRetryTimeout  = 2 * time.Minute
	DefaultFutureLimit   = 30 * time.Minute
)

// ErrQueueFull is returned when a record could not be buffered before the
// retry budget ran out or shutdown was requested.
var ErrQueueFull = errors.New("settle buffer full")

// Addresses used by test transmitters; their reports are never recorded.
var testAddresses = map[string]struct{}{
	"BBBBBBBB": {},
	"DADADADA": {},
	"11111111": {},
	"22222222": {},
	"33333333": {},
}

// Reasons a report is refused before classification.
const (
	rejectNoTimestamp = "no_timestamp"
	rejectNoCode      = "no_code"
	rejectNoMedium    = "no_medium"
	rejectTestAddress = "test_address"
	rejectFuture      = "future_timestamp"
	rejectOmitted     = "omitted_code"
)

// Report is a single decoded status or failure notification about a
// transmission. Code is the one status character it carries.
type Report struct {
	MediumType     MediumType
	MediumID       string
	Timestamp      time.Time
	Code           byte
	SignalStrength int
	BatteryVolts   float64
	Channel        int
	Payload        []byte
	ReceivedAt     time.Time
}

// record builds a fresh, unsaved record from the report.
func (rep Report) record(now time.Time) *Record {
	r := &Record{
		MediumType:     rep.MediumType,
		MediumID:       rep.MediumID,
		Timestamp:      rep.Timestamp,
		ReceivedAt:     rep.ReceivedAt,
		SignalStrength: rep.SignalStrength,
		BatteryVolts:   rep.BatteryVolts,
		Channel:        rep.Channel,
		Payload:        rep.Payload,
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = now
	}
	if len(r.Payload) > MaxPayload {
		r.Payload = r.Payload[:MaxPayload]
	}
	r.AddCode(rep.Code)
	return r
}

// ConsumerConfig holds the producer-side knobs.
type ConsumerConfig struct {
	RetryInterval time.Duration
	RetryTimeout  time.Duration
	// FutureLimit rejects reports stamped further than this ahead of now.
	FutureLimit time.Duration
	// OmitCodes lists status codes that are dropped on arrival.
	OmitCodes   string
	SaveTimeout time.Duration
	Now         func() time.Time
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = DefaultRetryTimeout
	}
	if c.FutureLimit <= 0 {
		c.FutureLimit = DefaultFutureLimit
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Consumer turns reports into buffer operations.
//
// Process is safe for concurrent use; the lookup, classify and apply steps of
// one report run under a single consumer lock so two reports about the same
// transmission cannot interleave.
type Consumer struct {
	logger   *zap.Logger
	buffer   *Buffer
	gateway  Gateway
	shutdown *Shutdown
	cfg      ConsumerConfig

	mu sync.Mutex
}

// NewConsumer wires a consumer to the buffer and the gateway it falls back to.
func NewConsumer(logger *zap.Logger, buffer *Buffer, gateway Gateway, shutdown *Shutdown, cfg ConsumerConfig) (*Consumer, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if buffer == nil || gateway == nil || shutdown == nil {
		return nil, errors.New("buffer, gateway and shutdown are required")
	}
	return &Consumer{
		logger:   logger.With(zap.String("component", "consumer")),
		buffer:   buffer,
		gateway:  gateway,
		shutdown: shutdown,
		cfg:      cfg.withDefaults(),
	}, nil
}

// Process classifies rep and applies the decision. Input problems are logged
// and yield Ignore with a nil error; the error is non-nil only for lookup or
// persistence failures and for ErrQueueFull.
func (c *Consumer) Process(ctx context.Context, rep Report) (Decision, error) {
	recordReceived()
	now := c.cfg.Now()
	if reason := c.reject(rep, now); reason != "" {
		telemetry.ObserveRejected(reason)
		c.count(Ignore)
		return Ignore, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	d, err := c.apply(ctx, rep, now)
	c.count(d)
	return d, err
}

func (c *Consumer) count(d Decision) {
	recordDecision(d)
	telemetry.ObserveDecision(d.String())
}

// reject returns the reason rep must not be classified, or "".
func (c *Consumer) reject(rep Report, now time.Time) string {
	switch {
	case rep.Timestamp.IsZero():
		c.logger.Warn("report without transmission time", zap.String("medium_id", rep.MediumID))
		return rejectNoTimestamp
	case rep.Code == 0:
		c.logger.Warn("report without status code", zap.String("medium_id", rep.MediumID),
			zap.Time("timestamp", rep.Timestamp))
		return rejectNoCode
	case !rep.MediumType.Valid() || rep.MediumID == "":
		c.logger.Warn("report without a usable medium", zap.Stringer("medium_type", rep.MediumType),
			zap.String("medium_id", rep.MediumID))
		return rejectNoMedium
	}
	if _, ok := testAddresses[strings.ToUpper(rep.MediumID)]; ok {
		c.logger.Debug("ignoring test transmitter", zap.String("medium_id", rep.MediumID))
		return rejectTestAddress
	}
	if rep.Timestamp.After(now.Add(c.cfg.FutureLimit)) {
		c.logger.Warn("report time is in the future",
			zap.String("medium_id", rep.MediumID), zap.Time("timestamp", rep.Timestamp))
		return rejectFuture
	}
	if strings.IndexByte(c.cfg.OmitCodes, rep.Code) >= 0 {
		return rejectOmitted
	}
	return ""
}

// apply looks up the known record, classifies and acts. A buffered record
// can drain between lookup and update; the second pass then consults the
// gateway only.
func (c *Consumer) apply(ctx context.Context, rep Report, now time.Time) (Decision, error) {
	for pass := 0; pass < 2; pass++ {
		existing, buffered, err := c.lookup(ctx, rep, pass == 0)
		if err != nil {
			return Ignore, err
		}
		d := Classify(rep.Code, existing)
		switch d {
		case Ignore:
			return Ignore, nil

		case Save:
			return Save, c.enqueueWithRetry(ctx, rep.record(now))

		case ReplaceExisting:
			r := rep.record(now)
			if buffered {
				if c.buffer.Replace(existing, r) {
					return d, nil
				}
				continue
			}
			// Already written: update the stored row in place.
			r.ID = existing.ID
			return d, c.saveDirect(ctx, r)

		case ModifyExisting:
			if buffered {
				if c.buffer.Modify(existing, func(r *Record) { r.AddCode(rep.Code) }) {
					return d, nil
				}
				continue
			}
			if !existing.AddCode(rep.Code) {
				// Already recorded, or no room for another code.
				return d, nil
			}
			return d, c.enqueueWithRetry(ctx, existing)
		}
	}
	c.logger.Warn("record kept draining during lookup; report dropped",
		zap.String("medium_id", rep.MediumID), zap.Time("timestamp", rep.Timestamp))
	return Ignore, nil
}

// lookup checks the buffer first (when allowed) and then the gateway.
func (c *Consumer) lookup(ctx context.Context, rep Report, useBuffer bool) (*Record, bool, error) {
	if useBuffer {
		if r := c.buffer.Find(rep.MediumType, rep.MediumID, rep.Timestamp); r != nil {
			return r, true, nil
		}
	}
	r, err := c.gateway.Find(ctx, rep.MediumType, rep.MediumID, rep.Timestamp)
	if err != nil {
		return nil, false, fmt.Errorf("find %s:%s: %w", rep.MediumType, rep.MediumID, err)
	}
	return r, false, nil
}

func (c *Consumer) saveDirect(ctx context.Context, r *Record) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SaveTimeout)
	defer cancel()
	if err := c.gateway.Save(ctx, r); err != nil {
		saveErrors.Add(1)
		telemetry.ObserveSaveError()
		return fmt.Errorf("save %s: %w", r, err)
	}
	updates.Add(1)
	telemetry.ObserveSave(telemetry.SaveUpdate, 0)
	return nil
}

// enqueueWithRetry keeps offering r to the buffer every RetryInterval until
// it is accepted, RetryTimeout elapses, shutdown is requested or ctx ends.
// Once shutdown is requested no further attempt is made: the final drain may
// already have run.
func (c *Consumer) enqueueWithRetry(ctx context.Context, r *Record) error {
	start := time.Now()
	for !c.shutdown.Requested() {
		if c.buffer.Enqueue(r) {
			return nil
		}
		enqueueRejected.Add(1)
		telemetry.ObserveEnqueueRejected()
		if time.Since(start) >= c.cfg.RetryTimeout {
			break
		}
		timer := time.NewTimer(c.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("enqueue %s: %w", r, ctx.Err())
		case <-timer.C:
		}
	}
	c.logger.Error("could not buffer record", zap.Stringer("record", r),
		zap.Int("buffered", c.buffer.Len()), zap.Bool("shutdown", c.shutdown.Requested()))
	return fmt.Errorf("enqueue %s: %w", r, ErrQueueFull)
}
