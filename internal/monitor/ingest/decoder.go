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

// Package ingest decodes status reports from newline-delimited JSON and
// hands them to the consumer.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dcpmon/internal/monitor/core"
)

// ErrInvalidJSON is returned when a line cannot be decoded.
var ErrInvalidJSON = errors.New("invalid JSON")

// Message is the wire form of one report. Payload is base64 in JSON.
type Message struct {
	MediumType     string     `json:"medium_type"`
	MediumID       string     `json:"medium_id"`
	Timestamp      time.Time  `json:"timestamp"`
	Code           string     `json:"code"`
	SignalStrength int        `json:"signal_strength,omitempty"`
	Battery        float64    `json:"battery,omitempty"`
	Channel        int        `json:"channel,omitempty"`
	Payload        []byte     `json:"payload,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
}

// Validate checks what Report cannot represent. Missing fields are left to
// the consumer, which counts them as rejections.
func (m Message) Validate() error {
	if len(m.Code) > 1 {
		return fmt.Errorf("code %q must be a single character", m.Code)
	}
	return nil
}

// Report converts the message. An unknown medium type is left zero so the
// consumer rejects and counts it.
func (m Message) Report() core.Report {
	rep := core.Report{
		MediumID:       m.MediumID,
		Timestamp:      m.Timestamp,
		SignalStrength: m.SignalStrength,
		BatteryVolts:   m.Battery,
		Channel:        m.Channel,
		Payload:        m.Payload,
	}
	if mt, err := core.ParseMediumType(m.MediumType); err == nil {
		rep.MediumType = mt
	}
	if m.Code != "" {
		rep.Code = m.Code[0]
	}
	if m.ReceivedAt != nil {
		rep.ReceivedAt = *m.ReceivedAt
	}
	return rep
}

// Decode parses one line, rejecting unknown fields.
func Decode(line []byte) (core.Report, error) {
	var m Message
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return core.Report{}, fmt.Errorf("%w: %s", ErrInvalidJSON, err)
	}
	if err := m.Validate(); err != nil {
		return core.Report{}, err
	}
	return m.Report(), nil
}
