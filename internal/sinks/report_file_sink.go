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

// Package sinks holds append-only logs kept next to the pipeline.
package sinks

import (
	"bufio"
	"os"
	"sync"
	"time"
)

// flushEvery bounds how long an appended line may sit in the write buffer.
const flushEvery = 100 * time.Millisecond

// ReportFileSink appends accepted report lines to a JSONL file. The file can
// be fed back to "dcpmon run --input" to replay a session.
type ReportFileSink struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	dirty bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReportFileSink opens path for appending, creating it if needed, and
// starts flushing buffered lines every flushEvery until Close.
func NewReportFileSink(path string) (*ReportFileSink, error) {
	return newReportFileSink(path, flushEvery)
}

func newReportFileSink(path string, every time.Duration) (*ReportFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s := &ReportFileSink{
		f:    f,
		w:    bufio.NewWriterSize(f, 1<<20),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.flushLoop(every)
	return s, nil
}

func (s *ReportFileSink) flushLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty {
				_ = s.flushLocked()
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Append writes one line; a trailing newline is added.
func (s *ReportFileSink) Append(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return err
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

func (s *ReportFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *ReportFileSink) flushLocked() error {
	s.dirty = false
	return s.w.Flush()
}

// Close stops the flusher, writes what is left and closes the file.
func (s *ReportFileSink) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.flushLocked()
	return s.f.Close()
}
