//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStoreE2E runs the monitor against Redis and checks the settled
// record hash and index. Requires a Redis at 127.0.0.1:6379.
func TestRedisStoreE2E(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}

	prefix := fmt.Sprintf("dcpmon-e2e-%d:", time.Now().UnixNano())
	t.Cleanup(func() {
		keys, _ := rc.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			_ = rc.Del(context.Background(), keys...).Err()
		}
		_ = rc.Close()
	})

	m := startMonitor(t,
		"--store=redis",
		"--redis-addr=127.0.0.1:6379",
		"--redis-prefix="+prefix,
	)

	ts := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	postReports(t, m.baseURL, []string{
		report("RD000001", ts, "?"),
		report("RD000001", ts.Add(time.Second), "G"),
		report("RD000001", ts, "U"),
	})

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if st := status(t, m.baseURL); st.Totals.Inserts >= 1 && st.Buffered == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	ids, err := rc.ZRange(context.Background(), prefix+"idx:G:RD000001", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	h, err := rc.HGetAll(context.Background(), prefix+"rec:"+ids[0]).Result()
	require.NoError(t, err)
	assert.Equal(t, "GU", h["failure_codes"])
	assert.Equal(t, fmt.Sprint(ts.Add(time.Second).UnixMilli()), h["transmit_time"])
}
