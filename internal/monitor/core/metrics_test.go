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

package core

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestPrintFinalMetrics_IncludesTotalsAndThresholds(t *testing.T) {
	resetTotalsForTests()
	resetThresholdsForTests()

	for i := 0; i < 4; i++ {
		recordReceived()
	}
	recordDecision(Save)
	recordDecision(ModifyExisting)
	recordDecision(Ignore)
	recordDecision(Ignore)
	inserts.Add(1)
	SetThresholdDuration("settle", 30*time.Second)
	SetThresholdInt64("max_queued", 10000)
	SetThresholdBool("ignore_invalid_address", true)

	var buf bytes.Buffer
	PrintFinalMetrics(&buf)
	out := buf.String()

	for _, want := range []string{
		"Final persistence metrics", "Received", "Inserts", "Write reduction", "75.0%",
		"Configured thresholds", "settle", "30s", "max_queued", "10000", "ignore_invalid_address",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "failed to save") {
		t.Fatalf("no save errors recorded, summary should not warn:\n%s", out)
	}
}

func TestPrintFinalMetrics_NoWritesAndSaveErrors(t *testing.T) {
	resetTotalsForTests()
	resetThresholdsForTests()
	saveErrors.Add(2)

	var buf bytes.Buffer
	PrintFinalMetrics(&buf)
	out := buf.String()
	if !strings.Contains(out, "n/a") {
		t.Fatalf("expected n/a write reduction with no writes:\n%s", out)
	}
	if !strings.Contains(out, "2 records failed to save") {
		t.Fatalf("expected save error note:\n%s", out)
	}
	if strings.Contains(out, "Configured thresholds") {
		t.Fatalf("thresholds section should be omitted when empty")
	}
}

func TestSnapshot_DecisionBuckets(t *testing.T) {
	resetTotalsForTests()
	recordDecision(ReplaceExisting)
	recordDecision(Decision(42)) // out of range is ignored
	s := Snapshot()
	if s.Replaced != 1 || s.Saved != 0 || s.Ignored != 0 {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}
