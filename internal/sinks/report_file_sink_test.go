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

package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcpmon/internal/monitor/core"
	"dcpmon/internal/monitor/ingest"
)

// readReports reads an audit log back, skipping lines that do not decode.
func readReports(t *testing.T, path string) []ingest.Message {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []ingest.Message
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m ingest.Message
		if err := json.Unmarshal(sc.Bytes(), &m); err == nil {
			out = append(out, m)
		}
	}
	require.NoError(t, sc.Err())
	return out
}

type countingProcessor struct{ n int }

func (c *countingProcessor) Process(ctx context.Context, rep core.Report) (core.Decision, error) {
	c.n++
	return core.Save, nil
}

func TestReportFileSink_AppendAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	s, err := NewReportFileSink(path)
	require.NoError(t, err)

	require.NoError(t, s.Append([]byte(`{"medium_type":"G","medium_id":"A","timestamp":"2025-10-01T12:00:00Z","code":"?"}`)))
	require.NoError(t, s.Append([]byte(`{"medium_type":"G","medium_id":"B","timestamp":"2025-10-01T12:00:00Z","code":"G"}`)))
	require.NoError(t, s.Close())

	msgs := readReports(t, path)
	require.Len(t, msgs, 2)
	assert.Equal(t, "A", msgs[0].MediumID)
	assert.Equal(t, "G", msgs[1].Code)
}

func TestReportFileSink_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	for _, id := range []string{"A", "B"} {
		s, err := NewReportFileSink(path)
		require.NoError(t, err)
		require.NoError(t, s.Append([]byte(`{"medium_id":"`+id+`"}`)))
		require.NoError(t, s.Flush())
		require.NoError(t, s.Close())
	}
	msgs := readReports(t, path)
	assert.Len(t, msgs, 2)
}

func TestReportFileSink_RecordsOnlyDecodedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	s, err := NewReportFileSink(path)
	require.NoError(t, err)

	proc := &countingProcessor{}
	rd, err := ingest.NewReader(nil, proc)
	require.NoError(t, err)
	rd.SetAudit(s)

	input := strings.Join([]string{
		`{"medium_type":"G","medium_id":"A","timestamp":"2025-10-01T12:00:00Z","code":"?"}`,
		`broken`,
		`{"medium_type":"L","medium_id":"B","timestamp":"2025-10-01T12:00:00Z","code":"G"}`,
	}, "\n")
	_, err = rd.Run(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, 2, proc.n)

	msgs := readReports(t, path)
	require.Len(t, msgs, 2)
	assert.Equal(t, "L", msgs[1].MediumType)
}

func TestReportFileSink_FlushesWithoutFurtherAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	s, err := newReportFileSink(path, 10*time.Millisecond)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append([]byte(`{"medium_type":"G","medium_id":"Q","timestamp":"2025-10-01T12:00:00Z","code":"G"}`)))

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(b), `"medium_id":"Q"`)
	}, 2*time.Second, 5*time.Millisecond, "a quiet sink must still reach the file")
}

func TestReportFileSink_CloseTwice(t *testing.T) {
	s, err := NewReportFileSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.Close(), "file is already closed")
}

func TestNewReportFileSink_BadPath(t *testing.T) {
	_, err := NewReportFileSink(filepath.Join(t.TempDir(), "missing", "audit.ndjson"))
	assert.Error(t, err)
}
