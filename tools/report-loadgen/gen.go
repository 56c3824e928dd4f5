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
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"dcpmon/internal/monitor/ingest"
)

// extraCodes are appended to a transmission after its good report, in order.
var extraCodes = []string{"U", "A", "T", "C"}

// burst returns the reports one transmission produces: a questionable
// report, the good message that replaces it a few seconds later, and up to
// extra additional status codes.
func burst(mediumID string, ts time.Time, extra int) []ingest.Message {
	msgs := []ingest.Message{
		{MediumType: "G", MediumID: mediumID, Timestamp: ts, Code: "?"},
		{MediumType: "G", MediumID: mediumID, Timestamp: ts.Add(2 * time.Second), Code: "G",
			SignalStrength: 44, Battery: 12.6, Channel: 87, Payload: []byte("B1:12.6 HG:3.42")},
	}
	if extra > len(extraCodes) {
		extra = len(extraCodes)
	}
	for i := 0; i < extra; i++ {
		msgs = append(msgs, ingest.Message{MediumType: "G", MediumID: mediumID, Timestamp: ts, Code: extraCodes[i]})
	}
	return msgs
}

// mediumFor spreads transmissions over a hot transmitter and a cold pool:
// every hotEvery-th index goes to a cold address, the rest to the hot one.
func mediumFor(i, hotEvery, coldN int) string {
	if hotEvery < 2 || coldN <= 0 || i%hotEvery != 0 {
		return "HOT00001"
	}
	return fmt.Sprintf("COLD%04d", (i/hotEvery)%coldN+1)
}

// encode renders msgs as one newline-delimited body.
func encode(msgs []ingest.Message) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	for i := range msgs {
		if err := enc.Encode(&msgs[i]); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}
