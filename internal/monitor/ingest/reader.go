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

package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"dcpmon/internal/monitor/core"
)

// maxLine fits a full payload after base64 plus the envelope. Longer lines
// are skipped as malformed.
const maxLine = 64 * 1024

var errLineTooLong = fmt.Errorf("line longer than %d bytes", maxLine)

// Processor receives decoded reports; *core.Consumer implements it.
type Processor interface {
	Process(ctx context.Context, rep core.Report) (core.Decision, error)
}

// Auditor records every line that decoded, before it is processed.
type Auditor interface {
	Append(line []byte) error
}

// Stats summarises one Run.
type Stats struct {
	Lines     int            `json:"lines"`
	Malformed int            `json:"malformed"`
	Failed    int            `json:"failed"`
	Decisions map[string]int `json:"decisions"`
}

// Reader feeds lines from a stream to a Processor.
type Reader struct {
	logger *zap.Logger
	proc   Processor
	audit  Auditor
}

// NewReader returns a reader that hands every decoded report to proc.
func NewReader(logger *zap.Logger, proc Processor) (*Reader, error) {
	if proc == nil {
		return nil, errors.New("ingest: nil processor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{logger: logger.With(zap.String("component", "ingest")), proc: proc}, nil
}

// SetAudit makes the reader append accepted lines to a. Call before Run.
func (rd *Reader) SetAudit(a Auditor) { rd.audit = a }

// Run reads r until EOF or ctx ends. Malformed and overlong lines are
// logged and skipped; a failed report is logged and counted. Run returns
// ctx.Err() when cancelled and a read error if the stream breaks.
func (rd *Reader) Run(ctx context.Context, r io.Reader) (Stats, error) {
	st := Stats{Decisions: map[string]int{}}
	br := bufio.NewReaderSize(r, maxLine)

	for {
		line, err := readLine(br)
		if err == io.EOF {
			return st, nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return st, cerr
		}
		if errors.Is(err, errLineTooLong) {
			st.Lines++
			st.Malformed++
			rd.logger.Warn("skipping oversized report", zap.Int("line", st.Lines), zap.Error(err))
			continue
		}
		if err != nil {
			return st, fmt.Errorf("ingest: read: %w", err)
		}
		if len(line) == 0 {
			continue
		}
		st.Lines++

		rep, err := Decode(line)
		if err != nil {
			st.Malformed++
			rd.logger.Warn("skipping malformed report", zap.Int("line", st.Lines), zap.Error(err))
			continue
		}
		if rd.audit != nil {
			if err := rd.audit.Append(line); err != nil {
				rd.logger.Warn("audit append failed", zap.Error(err))
			}
		}
		d, err := rd.proc.Process(ctx, rep)
		if err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.Failed++
			rd.logger.Error("report not applied", zap.String("medium_id", rep.MediumID),
				zap.Time("timestamp", rep.Timestamp), zap.Error(err))
			continue
		}
		st.Decisions[d.String()]++
	}
}

// readLine returns the next line without its terminator. The slice is only
// valid until the next read. An overlong line is consumed whole and reported
// as errLineTooLong; io.EOF means no more lines.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = br.ReadSlice('\n')
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		return nil, errLineTooLong
	}
	if err == io.EOF {
		if len(line) == 0 {
			return nil, io.EOF
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'}), nil
}

// Handler accepts POSTed newline-delimited reports and answers with the
// run's Stats.
func (rd *Reader) Handler(maxBodyBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		st, err := rd.Run(r.Context(), body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, fmt.Sprintf("request body exceeds limit of %d bytes", maxBodyBytes), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
}
