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

// Package archive copies records that are about to be purged to an S3
// bucket as newline-delimited JSON.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"dcpmon/internal/monitor/core"
)

// PutObjectAPI is the part of *s3.Client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds a client from the default AWS credential chain.
// AWS_REGION must be set.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	if os.Getenv("AWS_REGION") == "" {
		return nil, errors.New("AWS_REGION is not set")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// Line is one archived record.
type Line struct {
	ID             int64     `json:"record_id"`
	MediumType     string    `json:"medium_type"`
	MediumID       string    `json:"medium_id"`
	TransmitTime   time.Time `json:"transmit_time"`
	LocalRecvTime  time.Time `json:"local_recv_time"`
	FailureCodes   string    `json:"failure_codes"`
	SignalStrength int       `json:"signal_strength"`
	Battery        float64   `json:"battery"`
	Channel        int       `json:"channel"`
	Payload        []byte    `json:"payload,omitempty"`
}

func lineOf(r *core.Record) Line {
	return Line{
		ID:             r.ID,
		MediumType:     string(rune(r.MediumType)),
		MediumID:       r.MediumID,
		TransmitTime:   r.Timestamp.UTC(),
		LocalRecvTime:  r.ReceivedAt.UTC(),
		FailureCodes:   r.FailureCodes(),
		SignalStrength: r.SignalStrength,
		Battery:        r.BatteryVolts,
		Channel:        r.Channel,
		Payload:        r.Payload,
	}
}

// Archiver writes one object per run under Prefix in Bucket.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// New returns an archiver; bucket is required.
func New(logger *zap.Logger, client PutObjectAPI, bucket, prefix string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("archive: nil s3 client")
	}
	if bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger, now: time.Now}, nil
}

// Key names the object for records older than before.
func (a *Archiver) Key(before time.Time) string {
	name := fmt.Sprintf("dcp_trans-%s-%d.jsonl", before.UTC().Format("20060102"), a.now().Unix())
	return path.Join(a.prefix, name)
}

// Archive uploads every record older than before and returns how many were
// written. Nothing is uploaded when there are none.
func (a *Archiver) Archive(ctx context.Context, src core.Exporter, before time.Time) (int, error) {
	recs, err := src.Older(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("archive: list records: %w", err)
	}
	if len(recs) == 0 {
		a.logger.Info("nothing to archive", zap.Time("before", before))
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(lineOf(r)); err != nil {
			return 0, fmt.Errorf("archive: encode %s: %w", r, err)
		}
	}

	key := a.Key(before)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("archive: put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Info("archived records",
		zap.Int("count", len(recs)),
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("bytes", buf.Len()))
	return len(recs), nil
}
