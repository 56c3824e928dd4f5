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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dcpmon/internal/monitor/api"
	"dcpmon/internal/monitor/config"
	"dcpmon/internal/monitor/core"
	"dcpmon/internal/monitor/ingest"
	"dcpmon/internal/monitor/persistence"
	"dcpmon/internal/sinks"
)

// maxReportBody bounds one POST /reports request.
const maxReportBody = 8 << 20

// errDatabase is returned by run when a write failed and the monitor stopped
// to avoid losing more records.
var errDatabase = errors.New("database failure, monitor stopped")

func runCmd() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume status reports, settle them and write transmission records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	bindStoreFlags(cmd.Flags(), &cfg)
	bindPipelineFlags(cmd.Flags(), &cfg)
	return cmd
}

// run wires the pipeline and blocks until ctx ends, the input is exhausted
// or a database write fails. Whatever is buffered is written before it
// returns.
func run(ctx context.Context, cfg config.Config, stdin io.Reader, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	cfg.Capture()

	opts := gatewayOptions(cfg)
	opts.Logger = logger
	gw, err := persistence.BuildGateway(ctx, cfg.Store, opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	if c, ok := gw.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	if last, ok, err := gw.LastReceiveTime(ctx); err != nil {
		logger.Warn("could not read last receive time", zap.Error(err))
	} else if ok {
		logger.Info("resuming after last stored record", zap.Time("last_receive_time", last))
	} else {
		logger.Info("store is empty")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dbFailed atomic.Bool
	onError := func(r *core.Record, err error) {
		if dbFailed.CompareAndSwap(false, true) {
			logger.Error("record write failed, stopping", zap.Stringer("record", r), zap.Error(err))
		}
		cancel()
	}

	buffer := core.NewBuffer(cfg.MaxQueued, cfg.MatchWindow, nil)
	shutdown := &core.Shutdown{}
	worker, err := core.NewWorker(logger, buffer, gw, shutdown, cfg.Worker(), onError)
	if err != nil {
		return err
	}
	consumer, err := core.NewConsumer(logger, buffer, gw, shutdown, cfg.Consumer())
	if err != nil {
		return err
	}
	reader, err := ingest.NewReader(logger, consumer)
	if err != nil {
		return err
	}
	if cfg.AuditLog != "" {
		sink, err := sinks.NewReportFileSink(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer func() { _ = sink.Close() }()
		reader.SetAudit(sink)
	}

	var in io.Reader
	if cfg.Input != "" {
		r, closeIn, err := openInput(cfg.Input, stdin)
		if err != nil {
			return err
		}
		defer closeIn()
		in = r
	}

	worker.Start()

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = api.NewServer(buffer, shutdown, reader.Handler(maxReportBody)).HTTPServer(cfg.HTTPAddr)
		go func() {
			logger.Info("operations server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("operations server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	inputDone := make(chan struct{})
	if cfg.Input != "" {
		go func() {
			defer close(inputDone)
			st, err := reader.Run(runCtx, in)
			logger.Info("input finished", zap.String("input", cfg.Input), zap.Int("lines", st.Lines),
				zap.Int("malformed", st.Malformed), zap.Int("failed", st.Failed), zap.Error(err))
		}()
	}

	select {
	case <-runCtx.Done():
	case <-inputDone:
	}

	logger.Info("shutting down", zap.Int("buffered", buffer.Len()))
	// Close intake first so nothing is buffered after the final drain.
	if httpServer != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Warn("operations server shutdown", zap.Error(err))
		}
	}
	if cfg.Input != "" {
		// A report in flight finishes before the final drain; a blocked read does not hold us.
		select {
		case <-inputDone:
		case <-time.After(2 * time.Second):
		}
	}
	worker.Stop()
	core.PrintFinalMetrics(out)

	if dbFailed.Load() {
		return errDatabase
	}
	return nil
}

func openInput(name string, stdin io.Reader) (io.Reader, func(), error) {
	if name == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
