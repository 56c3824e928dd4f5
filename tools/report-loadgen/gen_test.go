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

package main

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcpmon/internal/monitor/core"
	"dcpmon/internal/monitor/ingest"
)

func TestBurst(t *testing.T) {
	ts := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	msgs := burst("HOT00001", ts, 2)
	require.Len(t, msgs, 4)
	assert.Equal(t, "?", msgs[0].Code)
	assert.Equal(t, "G", msgs[1].Code)
	assert.Equal(t, []string{"U", "A"}, []string{msgs[2].Code, msgs[3].Code})

	assert.Len(t, burst("X", ts, 99), 2+len(extraCodes))
}

func TestMediumFor(t *testing.T) {
	assert.Equal(t, "COLD0001", mediumFor(0, 5, 3))
	assert.Equal(t, "HOT00001", mediumFor(1, 5, 3))
	assert.Equal(t, "COLD0002", mediumFor(5, 5, 3))
	assert.Equal(t, "COLD0001", mediumFor(15, 5, 3))
	assert.Equal(t, "HOT00001", mediumFor(0, 1, 3))
}

func TestEncodeDecodesBack(t *testing.T) {
	ts := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	body, err := encode(burst("HOT00001", ts, 1))
	require.NoError(t, err)

	var codes []byte
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		rep, err := ingest.Decode(sc.Bytes())
		require.NoError(t, err)
		assert.Equal(t, core.MediumGOES, rep.MediumType)
		codes = append(codes, rep.Code)
	}
	assert.Equal(t, []byte("?GU"), codes)
}
