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

// Command report-loadgen posts synthetic report bursts to a running
// monitor's /reports endpoint.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	var (
		base     = pflag.String("base", "http://127.0.0.1:8080", "Monitor base URL")
		n        = pflag.Int("n", 1000, "Transmissions to simulate")
		conc     = pflag.IntP("concurrency", "c", 4, "Concurrent posters")
		extra    = pflag.Int("extra-codes", 1, "Additional status codes per transmission (0-4)")
		hotEvery = pflag.Int("hot-every", 5, "Every n-th transmission goes to a cold transmitter, the rest to the hot one")
		coldN    = pflag.Int("cold-transmitters", 50, "Size of the cold transmitter pool")
		spacing  = pflag.Duration("spacing", time.Minute, "Transmit time distance between transmissions of one transmitter")
		timeout  = pflag.Duration("timeout", time.Minute, "Overall run timeout")
	)
	pflag.Parse()

	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "--n and --concurrency must be > 0")
		os.Exit(2)
	}
	url := strings.TrimRight(*base, "/") + "/reports"
	client := &http.Client{Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Transmit times march back from now so none are in the future.
	origin := time.Now().UTC().Add(-time.Duration(*n) * *spacing).Truncate(time.Second)

	var sent, failed int64
	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *conc; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := id; i < *n; i += *conc {
				if ctx.Err() != nil {
					return
				}
				msgs := burst(mediumFor(i, *hotEvery, *coldN), origin.Add(time.Duration(i)**spacing), *extra)
				body, err := encode(msgs)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
				req.Header.Set("Content-Type", "application/x-ndjson")
				resp, err := client.Do(req)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					time.Sleep(200 * time.Microsecond)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&sent, int64(len(msgs)))
			}
		}(w)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("report-loadgen: transmissions=%d reports=%d failed_posts=%d c=%d go=%d duration=%s rate=%.0f reports/s\n",
		*n, sent, failed, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), float64(sent)/elapsed.Seconds())
}
