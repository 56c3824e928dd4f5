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

// Package api implements the monitor's operations HTTP server: a status
// document, Prometheus metrics and an optional report intake.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"dcpmon/internal/monitor/core"
	"dcpmon/internal/monitor/telemetry"
)

// Status is the body of GET /status.
type Status struct {
	Buffered          int         `json:"buffered"`
	OldestAgeSeconds  float64     `json:"oldest_age_seconds"`
	ShutdownRequested bool        `json:"shutdown_requested"`
	Totals            core.Totals `json:"totals"`
}

// Server exposes the state of one running monitor.
type Server struct {
	buffer   *core.Buffer
	shutdown *core.Shutdown
	reports  http.Handler
	now      func() time.Time
}

// NewServer creates the server. reports, when non-nil, is mounted at
// /reports.
func NewServer(buffer *core.Buffer, shutdown *core.Shutdown, reports http.Handler) *Server {
	return &Server{buffer: buffer, shutdown: shutdown, reports: reports, now: time.Now}
}

// RegisterRoutes sets up the routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", telemetry.Handler())
	if s.reports != nil {
		mux.Handle("/reports", s.reports)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := Status{
		Buffered:          s.buffer.Len(),
		OldestAgeSeconds:  s.buffer.OldestAge(s.now()).Seconds(),
		ShutdownRequested: s.shutdown.Requested(),
		Totals:            core.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if st.ShutdownRequested {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(st)
}

// HTTPServer returns an *http.Server for addr with the routes registered.
// The caller owns ListenAndServe and Shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
