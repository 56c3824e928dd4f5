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

// Package telemetry exposes Prometheus metrics for the settle-and-write pipeline.
//
// Label sets are fixed and small (decision names, drop reasons, save kinds) so
// cardinality stays bounded regardless of how many DCPs report.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used with ObserveDrop.
const (
	DropInvalidAddress = "invalid_address"
	DropStale          = "stale"
)

// Save kinds used with ObserveSave.
const (
	SaveInsert = "insert"
	SaveUpdate = "update"
)

var (
	reportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcpmon_reports_total",
		Help: "Reports classified, by decision",
	}, []string{"decision"})
	rejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcpmon_reports_rejected_total",
		Help: "Reports rejected before classification, by reason",
	}, []string{"reason"})
	enqueueRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dcpmon_enqueue_rejected_total",
		Help: "Enqueue attempts refused because the settle buffer was over capacity",
	})
	bufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dcpmon_buffer_depth",
		Help: "Records currently held in the settle buffer",
	})
	savedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcpmon_saved_total",
		Help: "Records written to persistence, by kind (insert or update)",
	}, []string{"kind"})
	saveErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dcpmon_save_errors_total",
		Help: "Records whose save failed",
	})
	droppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dcpmon_dropped_total",
		Help: "Settled records dropped instead of saved, by reason",
	}, []string{"reason"})
	settleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dcpmon_settle_seconds",
		Help:    "Time a record spent in the settle buffer before it was saved",
		Buckets: []float64{0.5, 1, 5, 10, 20, 30, 45, 60, 120, 300},
	})
	purgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dcpmon_purged_total",
		Help: "Stored records removed by the retention purge",
	})
)

func init() {
	prometheus.MustRegister(reportsTotal, rejectedTotal, enqueueRejectedTotal, bufferDepth,
		savedTotal, saveErrorsTotal, droppedTotal, settleSeconds, purgedTotal)
}

// ObserveDecision counts a classified report.
func ObserveDecision(decision string) { reportsTotal.WithLabelValues(decision).Inc() }

// ObserveRejected counts a report refused at the input boundary.
func ObserveRejected(reason string) { rejectedTotal.WithLabelValues(reason).Inc() }

// ObserveEnqueueRejected counts a refused enqueue attempt.
func ObserveEnqueueRejected() { enqueueRejectedTotal.Inc() }

// SetBufferDepth publishes the current settle buffer length.
func SetBufferDepth(n int) { bufferDepth.Set(float64(n)) }

// ObserveSave counts a successful save. settled is the time spent buffered;
// zero skips the histogram (direct saves that bypassed the buffer).
func ObserveSave(kind string, settled time.Duration) {
	savedTotal.WithLabelValues(kind).Inc()
	if settled > 0 {
		settleSeconds.Observe(settled.Seconds())
	}
}

// ObserveSaveError counts a failed save.
func ObserveSaveError() { saveErrorsTotal.Inc() }

// ObserveDrop counts a settled record discarded by the drain.
func ObserveDrop(reason string) { droppedTotal.WithLabelValues(reason).Inc() }

// ObservePurged counts stored records removed by retention.
func ObservePurged(n int64) {
	if n > 0 {
		purgedTotal.Add(float64(n))
	}
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
