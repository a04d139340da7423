package app

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window counter: the first hit in a window sets the expiry.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// TransferLimiter decides whether a customer may submit another transfer.
type TransferLimiter interface {
	Allow(ctx context.Context, customerID int64) (allowed bool, retryAfter time.Duration, err error)
}

// RedisTransferLimiter allows at most limit transfers per customer per window, shared
// across every services instance that points at the same Redis.
type RedisTransferLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisTransferLimiter returns a limiter; a nil client or non-positive limit allows everything.
func NewRedisTransferLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisTransferLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "corebank:rate_limit"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisTransferLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

func (l *RedisTransferLimiter) Allow(ctx context.Context, customerID int64) (bool, time.Duration, error) {
	if l == nil || l.client == nil || l.limit <= 0 {
		return true, 0, nil
	}

	key := l.prefix + ":transfer:" + strconv.FormatInt(customerID, 10)
	windowMs := l.window.Milliseconds()

	raw, err := fixedWindowScript.Run(ctx, l.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limiter script failed: %w", err)
	}
	count, ttlMs, err := parseWindowReply(raw, windowMs)
	if err != nil {
		return false, 0, err
	}
	if count <= int64(l.limit) {
		return true, 0, nil
	}

	retrySeconds := math.Ceil(float64(ttlMs) / 1000.0)
	if retrySeconds < 1 {
		retrySeconds = 1
	}
	return false, time.Duration(retrySeconds) * time.Second, nil
}

func parseWindowReply(raw interface{}, windowMs int64) (count int64, ttlMs int64, err error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	if count, ok = values[0].(int64); !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	if ttlMs, ok = values[1].(int64); !ok {
		return count, 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	return count, ttlMs, nil
}
