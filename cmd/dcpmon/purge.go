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
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dcpmon/internal/monitor/archive"
	"dcpmon/internal/monitor/config"
	"dcpmon/internal/monitor/core"
	"dcpmon/internal/monitor/persistence"
)

type purgeOptions struct {
	beforeDays    int
	archiveBucket string
	archivePrefix string
	// newS3 is swapped in tests.
	newS3 func(ctx context.Context) (archive.PutObjectAPI, error)
}

func purgeCmd() *cobra.Command {
	cfg := config.Default()
	cfg.Store = "sqlite"
	po := purgeOptions{
		beforeDays: core.DefaultRetentionDays,
		newS3: func(ctx context.Context) (archive.PutObjectAPI, error) {
			return archive.NewS3Client(ctx)
		},
	}
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored records older than a number of days, optionally archiving them to S3 first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return purge(cmd.Context(), cfg, po, time.Now(), cmd.OutOrStdout())
		},
	}
	bindStoreFlags(cmd.Flags(), &cfg)
	cmd.Flags().IntVar(&po.beforeDays, "before-days", po.beforeDays, "Delete records transmitted more than this many days ago")
	cmd.Flags().StringVar(&po.archiveBucket, "archive-bucket", "", "Copy the records to this S3 bucket before deleting them (needs AWS_REGION)")
	cmd.Flags().StringVar(&po.archivePrefix, "archive-prefix", "dcpmon", "Key prefix inside the archive bucket")
	return cmd
}

func purge(ctx context.Context, cfg config.Config, po purgeOptions, now time.Time, out io.Writer) error {
	if po.beforeDays <= 0 {
		return errors.New("before-days must be positive")
	}
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	opts := gatewayOptions(cfg)
	opts.Logger = logger
	gw, err := persistence.BuildGateway(ctx, cfg.Store, opts)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	if c, ok := gw.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	purger, ok := gw.(core.Purger)
	if !ok {
		return fmt.Errorf("%s store does not support purge", cfg.Store)
	}

	cutoff := now.AddDate(0, 0, -po.beforeDays)

	if po.archiveBucket != "" {
		exporter, ok := gw.(core.Exporter)
		if !ok {
			return fmt.Errorf("%s store does not support archiving", cfg.Store)
		}
		client, err := po.newS3(ctx)
		if err != nil {
			return err
		}
		a, err := archive.New(logger, client, po.archiveBucket, po.archivePrefix)
		if err != nil {
			return err
		}
		n, err := a.Archive(ctx, exporter, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archived %d records to s3://%s\n", n, po.archiveBucket)
	}

	n, err := purger.Purge(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("purged records", zap.Int64("count", n), zap.Time("before", cutoff))
	color.New(color.FgYellow).Fprintf(out, "purged %d records transmitted before %s\n", n, cutoff.UTC().Format(time.RFC3339))
	return nil
}
