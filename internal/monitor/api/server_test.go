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

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcpmon/internal/monitor/core"
)

func newTestServer(t *testing.T, reports http.Handler) (*httptest.Server, *core.Buffer, *core.Shutdown) {
	t.Helper()
	t0 := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	buf := core.NewBuffer(0, 0, func() time.Time { return t0 })
	sd := &core.Shutdown{}
	srv := NewServer(buf, sd, reports)
	srv.now = func() time.Time { return t0.Add(12 * time.Second) }

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, buf, sd
}

func TestServer_Status(t *testing.T) {
	ts, buf, sd := newTestServer(t, nil)

	r := &core.Record{MediumType: core.MediumGOES, MediumID: "CE1234AA", Timestamp: time.Now()}
	r.AddCode(core.CodeGood)
	require.True(t, buf.Enqueue(r))

	resp, err := ts.Client().Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, 1, st.Buffered)
	assert.InDelta(t, 12.0, st.OldestAgeSeconds, 1e-9)
	assert.False(t, st.ShutdownRequested)

	sd.Request()
	resp2, err := ts.Client().Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestServer_StatusRejectsPost(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	resp, err := ts.Client().Post(ts.URL+"/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dcpmon_buffer_depth")
}

func TestServer_ReportsMountedOnlyWhenGiven(t *testing.T) {
	ts, _, _ := newTestServer(t, nil)
	resp, err := ts.Client().Post(ts.URL+"/reports", "application/x-ndjson", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	called := false
	ts2, _, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	resp, err = ts2.Client().Post(ts2.URL+"/reports", "application/x-ndjson", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, called)
}

func TestServer_HTTPServer(t *testing.T) {
	srv := NewServer(core.NewBuffer(0, 0, nil), &core.Shutdown{}, nil)
	hs := srv.HTTPServer(":0")
	assert.Equal(t, ":0", hs.Addr)
	assert.NotNil(t, hs.Handler)
	assert.Equal(t, 5*time.Second, hs.ReadHeaderTimeout)
}
