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

// Process-level totals for the end-of-process summary. Kept as plain atomics
// so the hot path never allocates or locks for bookkeeping.
package core

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
)

var (
	received        atomic.Int64
	decisions       [4]atomic.Int64
	enqueueRejected atomic.Int64
	inserts         atomic.Int64
	updates         atomic.Int64
	saveErrors      atomic.Int64
	droppedInvalid  atomic.Int64
	droppedStale    atomic.Int64

	// thresholds holds human-readable configuration captured at startup.
	thresholdsMu sync.RWMutex
	thresholds   = make(map[string]string)
)

func recordReceived() { received.Add(1) }

func recordDecision(d Decision) {
	if d >= Ignore && d <= ModifyExisting {
		decisions[d].Add(1)
	}
}

// SetThreshold captures a configuration knob for the final summary.
func SetThreshold(name string, value string) {
	thresholdsMu.Lock()
	thresholds[name] = value
	thresholdsMu.Unlock()
}

func SetThresholdInt64(name string, v int64)            { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdDuration(name string, d time.Duration) { SetThreshold(name, d.String()) }
func SetThresholdBool(name string, b bool)              { SetThreshold(name, fmt.Sprintf("%t", b)) }

// Totals is a snapshot of the process counters.
type Totals struct {
	Received        int64
	Ignored         int64
	Saved           int64
	Replaced        int64
	Modified        int64
	EnqueueRejected int64
	Inserts         int64
	Updates         int64
	SaveErrors      int64
	DroppedInvalid  int64
	DroppedStale    int64
}

// Snapshot returns the current totals.
func Snapshot() Totals {
	return Totals{
		Received:        received.Load(),
		Ignored:         decisions[Ignore].Load(),
		Saved:           decisions[Save].Load(),
		Replaced:        decisions[ReplaceExisting].Load(),
		Modified:        decisions[ModifyExisting].Load(),
		EnqueueRejected: enqueueRejected.Load(),
		Inserts:         inserts.Load(),
		Updates:         updates.Load(),
		SaveErrors:      saveErrors.Load(),
		DroppedInvalid:  droppedInvalid.Load(),
		DroppedStale:    droppedStale.Load(),
	}
}

func getThresholdSnapshot() map[string]string {
	thresholdsMu.RLock()
	defer thresholdsMu.RUnlock()
	out := make(map[string]string, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

// PrintFinalMetrics writes a single end-of-process summary to w.
func PrintFinalMetrics(w io.Writer) {
	t := Snapshot()
	th := getThresholdSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Coalescing: how many classified reports were folded into an existing write.
	var coalesced string
	if writes := t.Inserts + t.Updates; writes > 0 && t.Received > 0 {
		coalesced = fmt.Sprintf("%.1f%%", (1-float64(writes)/float64(t.Received))*100)
	} else {
		coalesced = "n/a"
	}

	y := color.New(color.FgYellow)
	sep := strings.Repeat("-", 60)
	y.Fprintf(w, "[%s] Final persistence metrics\n", time.Now().Format(time.RFC3339))
	y.Fprintln(w, sep)
	y.Fprintf(w, "%-22s %12s\n", "Metric", "Value")
	y.Fprintln(w, sep)
	rows := []struct {
		name string
		v    int64
	}{
		{"Received", t.Received},
		{"Ignored", t.Ignored},
		{"Save", t.Saved},
		{"Replace", t.Replaced},
		{"Modify", t.Modified},
		{"Enqueue rejected", t.EnqueueRejected},
		{"Inserts", t.Inserts},
		{"Updates", t.Updates},
		{"Save errors", t.SaveErrors},
		{"Dropped (address)", t.DroppedInvalid},
		{"Dropped (stale)", t.DroppedStale},
	}
	for _, r := range rows {
		y.Fprintf(w, "%-22s %12d\n", r.name, r.v)
	}
	y.Fprintf(w, "%-22s %12s\n", "Write reduction", coalesced)
	y.Fprintln(w, sep)

	if len(keys) > 0 {
		y.Fprintln(w, "Configured thresholds")
		y.Fprintln(w, sep)
		for _, k := range keys {
			y.Fprintf(w, "%-30s %24s\n", k, th[k])
		}
		y.Fprintln(w, sep)
	}
	if t.SaveErrors > 0 {
		color.New(color.FgRed).Fprintf(w, "%d records failed to save and were not retried.\n", t.SaveErrors)
	}
}

// resetTotalsForTests zeroes the counters. Tests only.
func resetTotalsForTests() {
	received.Store(0)
	for i := range decisions {
		decisions[i].Store(0)
	}
	enqueueRejected.Store(0)
	inserts.Store(0)
	updates.Store(0)
	saveErrors.Store(0)
	droppedInvalid.Store(0)
	droppedStale.Store(0)
}

// resetThresholdsForTests clears the thresholds registry. Tests only.
func resetThresholdsForTests() {
	thresholdsMu.Lock()
	defer thresholdsMu.Unlock()
	for k := range thresholds {
		delete(thresholds, k)
	}
}
