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
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dcpmon/internal/monitor/core"
)

// RedisGateway stores each record as a hash and keeps two sorted-set
// indexes scored by transmit time (Unix ms): one per medium for Find and one
// global for retention.
//
// Key layout (prefix defaults to "dcpmon:"):
//
//	<prefix>seq                 record id sequence
//	<prefix>rec:<id>            record hash
//	<prefix>idx:<type>:<id>     per-medium index
//	<prefix>bytime              global index
//	<prefix>lastrecv            newest local receive time
//
// The scripts touch keys derived from the record id, so the gateway expects
// a single-node Redis rather than a cluster.
type RedisGateway struct {
	client RedisClient
	prefix string
	window time.Duration
}

// NewRedisGateway builds a gateway over client.
func NewRedisGateway(client RedisClient, prefix string, window time.Duration) *RedisGateway {
	if prefix == "" {
		prefix = "dcpmon:"
	}
	if window <= 0 {
		window = core.DefaultMatchWindow
	}
	return &RedisGateway{client: client, prefix: prefix, window: window}
}

func (r *RedisGateway) seqKey() string      { return r.prefix + "seq" }
func (r *RedisGateway) byTimeKey() string   { return r.prefix + "bytime" }
func (r *RedisGateway) lastRecvKey() string { return r.prefix + "lastrecv" }
func (r *RedisGateway) recKey(id string) string {
	return r.prefix + "rec:" + id
}
func (r *RedisGateway) mediumKey(mt core.MediumType, mediumID string) string {
	return fmt.Sprintf("%sidx:%c:%s", r.prefix, byte(mt), mediumID)
}

// redisSaveScript writes the hash and indexes. A new record that lands on
// the exact transmit time of a stored one for the same medium updates it.
// Returns the record id.
const redisSaveScript = `
local id = tonumber(ARGV[1])
if id == 0 then
  local same = redis.call('ZRANGEBYSCORE', KEYS[4], ARGV[5], ARGV[5], 'LIMIT', 0, 1)
  if #same > 0 then
    id = tonumber(same[1])
  else
    id = redis.call('INCR', KEYS[1])
  end
end
local h = ARGV[2] .. 'rec:' .. id
redis.call('HSET', h,
  'medium_type', ARGV[3], 'medium_id', ARGV[4], 'transmit_time', ARGV[5],
  'local_recv_time', ARGV[6], 'failure_codes', ARGV[7], 'signal_strength', ARGV[8],
  'battery', ARGV[9], 'channel', ARGV[10], 'msg_data', ARGV[11])
redis.call('ZADD', KEYS[4], ARGV[5], id)
redis.call('ZADD', KEYS[2], ARGV[5], id)
local last = tonumber(redis.call('GET', KEYS[3]) or '0')
if tonumber(ARGV[6]) > last then
  redis.call('SET', KEYS[3], ARGV[6])
end
return id
`

// redisPurgeScript removes records with transmit time before ARGV[1].
const redisPurgeScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
  local h = ARGV[2] .. 'rec:' .. id
  local mt = redis.call('HGET', h, 'medium_type')
  local mid = redis.call('HGET', h, 'medium_id')
  if mt and mid then
    redis.call('ZREM', ARGV[2] .. 'idx:' .. mt .. ':' .. mid, id)
  end
  redis.call('DEL', h)
end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return #ids
`

func (r *RedisGateway) Save(ctx context.Context, rec *core.Record) error {
	keys := []string{r.seqKey(), r.byTimeKey(), r.lastRecvKey(), r.mediumKey(rec.MediumType, rec.MediumID)}
	args := []interface{}{
		rec.ID, r.prefix,
		string(rune(rec.MediumType)), rec.MediumID,
		rec.Timestamp.UnixMilli(), rec.ReceivedAt.UnixMilli(),
		rec.FailureCodes(), rec.SignalStrength,
		strconv.FormatFloat(rec.BatteryVolts, 'f', -1, 64), rec.Channel,
		string(rec.Payload),
	}
	res, err := r.client.Eval(ctx, redisSaveScript, keys, args...)
	if err != nil {
		return fmt.Errorf("redis save %s: %w", rec, err)
	}
	id, ok := res.(int64)
	if !ok {
		return fmt.Errorf("redis save %s: unexpected reply %T", rec, res)
	}
	rec.ID = id
	return nil
}

func (r *RedisGateway) Find(ctx context.Context, mt core.MediumType, mediumID string, ts time.Time) (*core.Record, error) {
	lo := ts.Add(-r.window).UnixMilli()
	hi := ts.Add(r.window).UnixMilli()
	ids, err := r.client.ZRangeByScore(ctx, r.mediumKey(mt, mediumID), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(lo, 10),
		Max:   "(" + strconv.FormatInt(hi, 10),
		Count: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("redis find %s:%s: %w", mt, mediumID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.load(ctx, ids[0])
}

// load reads one record hash; a missing hash yields (nil, nil).
func (r *RedisGateway) load(ctx context.Context, id string) (*core.Record, error) {
	h, err := r.client.HGetAll(ctx, r.recKey(id))
	if err != nil {
		return nil, fmt.Errorf("redis load %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	return parseRecordHash(id, h)
}

func parseRecordHash(id string, h map[string]string) (*core.Record, error) {
	var (
		rec core.Record
		err error
	)
	if rec.ID, err = strconv.ParseInt(id, 10, 64); err != nil {
		return nil, fmt.Errorf("record id %q: %w", id, err)
	}
	if mt := h["medium_type"]; mt != "" {
		rec.MediumType = core.MediumType(mt[0])
	}
	rec.MediumID = h["medium_id"]
	tx, err := strconv.ParseInt(h["transmit_time"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("record %s transmit_time: %w", id, err)
	}
	rec.Timestamp = time.UnixMilli(tx).UTC()
	if v, err := strconv.ParseInt(h["local_recv_time"], 10, 64); err == nil {
		rec.ReceivedAt = time.UnixMilli(v).UTC()
	}
	rec.SetFailureCodes(h["failure_codes"])
	rec.SignalStrength, _ = strconv.Atoi(h["signal_strength"])
	rec.BatteryVolts, _ = strconv.ParseFloat(h["battery"], 64)
	rec.Channel, _ = strconv.Atoi(h["channel"])
	if p := h["msg_data"]; p != "" {
		rec.Payload = []byte(p)
	}
	return &rec, nil
}

func (r *RedisGateway) LastReceiveTime(ctx context.Context) (time.Time, bool, error) {
	v, ok, err := r.client.Get(ctx, r.lastRecvKey())
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis last receive time: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis last receive time %q: %w", v, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (r *RedisGateway) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.client.Eval(ctx, redisPurgeScript, []string{r.byTimeKey()}, before.UnixMilli(), r.prefix)
	if err != nil {
		return 0, fmt.Errorf("redis purge: %w", err)
	}
	n, _ := res.(int64)
	return n, nil
}

func (r *RedisGateway) Older(ctx context.Context, before time.Time, limit int) ([]*core.Record, error) {
	opt := &redis.ZRangeBy{Min: "-inf", Max: "(" + strconv.FormatInt(before.UnixMilli(), 10)}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := r.client.ZRangeByScore(ctx, r.byTimeKey(), opt)
	if err != nil {
		return nil, fmt.Errorf("redis older: %w", err)
	}
	out := make([]*core.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close releases the client.
func (r *RedisGateway) Close() error { return r.client.Close() }
