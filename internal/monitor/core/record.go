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

// Package core provides the settle-and-write pipeline of the DCP monitor:
// transmission records, the classification policy, the settle buffer and the
// drain worker that hands settled records to persistence.
package core

import (
	"fmt"
	"strings"
	"time"
)

// MediumType identifies the transport a transmission arrived over.
type MediumType byte

const (
	MediumGOES    MediumType = 'G' // satellite relay
	MediumLogger  MediumType = 'L' // local logger
	MediumIridium MediumType = 'I' // alternate satellite messaging
)

func (m MediumType) String() string {
	switch m {
	case MediumGOES:
		return "GOES"
	case MediumLogger:
		return "LOGGER"
	case MediumIridium:
		return "IRIDIUM"
	default:
		return string(rune(m))
	}
}

// Valid reports whether m is one of the known medium types.
func (m MediumType) Valid() bool {
	return m == MediumGOES || m == MediumLogger || m == MediumIridium
}

// ParseMediumType accepts either the single-letter form ("G") or the long name ("GOES").
func ParseMediumType(s string) (MediumType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "G", "GOES":
		return MediumGOES, nil
	case "L", "LOGGER":
		return MediumLogger, nil
	case "I", "IRIDIUM":
		return MediumIridium, nil
	}
	return 0, fmt.Errorf("unknown medium type %q", s)
}

// Status codes carried by a transmission. Anything else non-zero is an
// "other" status code.
const (
	CodeGood           byte = 'G'
	CodeQuestionable   byte = '?'
	CodeMissing        byte = 'M'
	CodeInvalidAddress byte = 'I'
)

const (
	// MaxCodes is the most distinct codes a record accumulates; more are dropped.
	MaxCodes = 8
	// MaxPayload is the largest payload kept on a record, in bytes.
	MaxPayload = 7500
)

// Record is a single DCP transmission as known to the monitor.
//
// ID is the persistence identifier; zero means the record has not been
// written yet. A record with a non-zero ID is always updated on save.
type Record struct {
	ID             int64
	MediumType     MediumType
	MediumID       string
	Timestamp      time.Time
	ReceivedAt     time.Time
	SignalStrength int
	BatteryVolts   float64
	Channel        int
	Payload        []byte

	codes []byte
}

// Persisted reports whether the record already has a persistence identifier.
func (r *Record) Persisted() bool { return r.ID != 0 }

// AddCode appends c to the record's codes. Duplicates and codes beyond
// MaxCodes are ignored. It reports whether the code was added.
func (r *Record) AddCode(c byte) bool {
	if c == 0 || r.HasCode(c) || len(r.codes) >= MaxCodes {
		return false
	}
	r.codes = append(r.codes, c)
	return true
}

// HasCode reports whether c has been accumulated on the record.
func (r *Record) HasCode(c byte) bool {
	for _, x := range r.codes {
		if x == c {
			return true
		}
	}
	return false
}

// PrimaryCode is the first code the record accumulated, or 0 when it has none.
func (r *Record) PrimaryCode() byte {
	if len(r.codes) == 0 {
		return 0
	}
	return r.codes[0]
}

// Codes returns a copy of the accumulated codes in first-seen order.
func (r *Record) Codes() []byte {
	out := make([]byte, len(r.codes))
	copy(out, r.codes)
	return out
}

// FailureCodes renders the codes as stored in the database, "-" when empty.
func (r *Record) FailureCodes() string {
	if len(r.codes) == 0 {
		return "-"
	}
	return string(r.codes)
}

// SetFailureCodes replaces the codes from their stored form.
func (r *Record) SetFailureCodes(s string) {
	r.codes = r.codes[:0]
	if s == "-" {
		return
	}
	for i := 0; i < len(s); i++ {
		r.AddCode(s[i])
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.codes = r.Codes()
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	return &c
}

// Matches reports whether r describes the same physical transmission as the
// given key: identical medium and a timestamp strictly inside the window.
func (r *Record) Matches(mt MediumType, mediumID string, ts time.Time, window time.Duration) bool {
	return r.MediumType == mt && r.MediumID == mediumID && WithinWindow(r.Timestamp, ts, window)
}

func (r *Record) String() string {
	return fmt.Sprintf("%s:%s@%s codes=%s id=%d", r.MediumType, r.MediumID,
		r.Timestamp.UTC().Format(time.RFC3339), r.FailureCodes(), r.ID)
}

// WithinWindow reports whether -w < a-b < w.
func WithinWindow(a, b time.Time, w time.Duration) bool {
	d := a.Sub(b)
	return d > -w && d < w
}
