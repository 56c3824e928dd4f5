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

package persistence

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcpmon/internal/monitor/core"
)

type evalCall struct {
	script string
	keys   []string
	args   []interface{}
}

type rangeCall struct {
	key string
	opt redis.ZRangeBy
}

type fakeRedisClient struct {
	evals     []evalCall
	evalReply interface{}
	ranges    []rangeCall
	ids       []string
	hashes    map[string]map[string]string
	strings   map[string]string
	err       error
	closed    bool
}

func (f *fakeRedisClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.evals = append(f.evals, evalCall{script: script, keys: append([]string{}, keys...), args: append([]interface{}{}, args...)})
	return f.evalReply, nil
}

func (f *fakeRedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hashes[key], nil
}

func (f *fakeRedisClient) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ranges = append(f.ranges, rangeCall{key: key, opt: *opt})
	return f.ids, nil
}

func (f *fakeRedisClient) Get(ctx context.Context, key string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.strings[key]
	return v, ok, nil
}

func (f *fakeRedisClient) Ping(ctx context.Context) error { return f.err }

func (f *fakeRedisClient) Close() error {
	f.closed = true
	return nil
}

func storedHash(r *core.Record) map[string]string {
	return map[string]string{
		"medium_type":     string(rune(r.MediumType)),
		"medium_id":       r.MediumID,
		"transmit_time":   strconv.FormatInt(r.Timestamp.UnixMilli(), 10),
		"local_recv_time": strconv.FormatInt(r.ReceivedAt.UnixMilli(), 10),
		"failure_codes":   r.FailureCodes(),
		"signal_strength": strconv.Itoa(r.SignalStrength),
		"battery":         "12.6",
		"channel":         strconv.Itoa(r.Channel),
		"msg_data":        string(r.Payload),
	}
}

func TestRedisGateway_Keys(t *testing.T) {
	g := NewRedisGateway(&fakeRedisClient{}, "", 0)
	assert.Equal(t, "dcpmon:seq", g.seqKey())
	assert.Equal(t, "dcpmon:bytime", g.byTimeKey())
	assert.Equal(t, "dcpmon:lastrecv", g.lastRecvKey())
	assert.Equal(t, "dcpmon:rec:42", g.recKey("42"))
	assert.Equal(t, "dcpmon:idx:G:CE1234AA", g.mediumKey(core.MediumGOES, "CE1234AA"))
	assert.Equal(t, core.DefaultMatchWindow, g.window)
}

func TestRedisGateway_Save(t *testing.T) {
	fake := &fakeRedisClient{evalReply: int64(7)}
	g := NewRedisGateway(fake, "t:", 20*time.Second)

	r := newRecord("CE1234AA", t0, core.CodeQuestionable)
	require.NoError(t, g.Save(context.Background(), r))
	assert.EqualValues(t, 7, r.ID)

	require.Len(t, fake.evals, 1)
	c := fake.evals[0]
	assert.Equal(t, redisSaveScript, c.script)
	assert.Equal(t, []string{"t:seq", "t:bytime", "t:lastrecv", "t:idx:G:CE1234AA"}, c.keys)
	require.Len(t, c.args, 11)
	assert.EqualValues(t, 0, c.args[0])
	assert.Equal(t, "t:", c.args[1])
	assert.Equal(t, "G", c.args[2])
	assert.Equal(t, t0.UnixMilli(), c.args[4])
	assert.Equal(t, "?", c.args[6])
	assert.Equal(t, "12.6", c.args[8])
}

func TestRedisGateway_SaveUnexpectedReply(t *testing.T) {
	g := NewRedisGateway(&fakeRedisClient{evalReply: "nope"}, "", 0)
	err := g.Save(context.Background(), newRecord("A", t0, core.CodeGood))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected reply")
}

func TestRedisGateway_FindUsesExclusiveRange(t *testing.T) {
	want := newRecord("CE1234AA", t0, core.CodeQuestionable)
	fake := &fakeRedisClient{
		ids:    []string{"5"},
		hashes: map[string]map[string]string{"dcpmon:rec:5": storedHash(want)},
	}
	g := NewRedisGateway(fake, "", 20*time.Second)

	got, err := g.Find(context.Background(), core.MediumGOES, "CE1234AA", t0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 5, got.ID)
	assert.Equal(t, core.MediumGOES, got.MediumType)
	assert.True(t, got.Timestamp.Equal(t0))
	assert.Equal(t, "?", got.FailureCodes())
	assert.Equal(t, 44, got.SignalStrength)
	assert.InDelta(t, 12.6, got.BatteryVolts, 1e-9)
	assert.Equal(t, want.Payload, got.Payload)

	require.Len(t, fake.ranges, 1)
	rc := fake.ranges[0]
	assert.Equal(t, "dcpmon:idx:G:CE1234AA", rc.key)
	assert.Equal(t, "("+strconv.FormatInt(t0.Add(-20*time.Second).UnixMilli(), 10), rc.opt.Min)
	assert.Equal(t, "("+strconv.FormatInt(t0.Add(20*time.Second).UnixMilli(), 10), rc.opt.Max)
	assert.EqualValues(t, 1, rc.opt.Count)
}

func TestRedisGateway_FindMissing(t *testing.T) {
	g := NewRedisGateway(&fakeRedisClient{}, "", 0)
	got, err := g.Find(context.Background(), core.MediumGOES, "X", t0)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Index entry left behind without a hash.
	g = NewRedisGateway(&fakeRedisClient{ids: []string{"9"}}, "", 0)
	got, err = g.Find(context.Background(), core.MediumGOES, "X", t0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisGateway_LastReceiveTime(t *testing.T) {
	fake := &fakeRedisClient{strings: map[string]string{}}
	g := NewRedisGateway(fake, "", 0)

	_, ok, err := g.LastReceiveTime(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	fake.strings["dcpmon:lastrecv"] = strconv.FormatInt(t0.UnixMilli(), 10)
	last, ok, err := g.LastReceiveTime(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, last.Equal(t0))

	fake.strings["dcpmon:lastrecv"] = "garbage"
	_, _, err = g.LastReceiveTime(context.Background())
	assert.Error(t, err)
}

func TestRedisGateway_PurgeAndOlder(t *testing.T) {
	rec := newRecord("A", t0, core.CodeGood)
	fake := &fakeRedisClient{
		evalReply: int64(3),
		ids:       []string{"1", "2"},
		hashes:    map[string]map[string]string{"dcpmon:rec:1": storedHash(rec)},
	}
	g := NewRedisGateway(fake, "", 0)
	cutoff := t0.Add(time.Hour)

	n, err := g.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.Len(t, fake.evals, 1)
	assert.Equal(t, []string{"dcpmon:bytime"}, fake.evals[0].keys)
	assert.Equal(t, []interface{}{cutoff.UnixMilli(), "dcpmon:"}, fake.evals[0].args)

	old, err := g.Older(context.Background(), cutoff, 10)
	require.NoError(t, err)
	require.Len(t, old, 1, "ids without a hash are skipped")
	assert.Equal(t, "A", old[0].MediumID)
	rc := fake.ranges[len(fake.ranges)-1]
	assert.Equal(t, "-inf", rc.opt.Min)
	assert.EqualValues(t, 10, rc.opt.Count)
}

func TestRedisGateway_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection refused")
	fake := &fakeRedisClient{err: boom}
	g := NewRedisGateway(fake, "", 0)
	ctx := context.Background()

	_, err := g.Find(ctx, core.MediumGOES, "A", t0)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, g.Save(ctx, newRecord("A", t0, core.CodeGood)), boom)
	_, _, err = g.LastReceiveTime(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = g.Purge(ctx, t0)
	assert.ErrorIs(t, err, boom)
	_, err = g.Older(ctx, t0, 0)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, g.Close())
	assert.True(t, fake.closed)
}

func TestParseRecordHash_BadID(t *testing.T) {
	_, err := parseRecordHash("x", map[string]string{"transmit_time": "1"})
	assert.Error(t, err)
}
