package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rentme-deposits/internal/app/policies"
)

var ErrRateLimited = errors.New("payments: processor rate limit reached")

// tokenBucket refills whole tokens per interval and returns
// {allowed, remaining, retry_after_ms}.
var tokenBucket = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local interval_ms = tonumber(ARGV[3])
	local ttl_seconds = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])
	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	if interval_ms > 0 then
		local elapsed = math.max(0, now_ms - last_refill)
		local intervals = math.floor(elapsed / interval_ms)
		if intervals > 0 then
			tokens = math.min(capacity, tokens + intervals)
			last_refill = last_refill + (intervals * interval_ms)
		end
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)
	return { allowed, tokens, retry_after_ms }
`)

// RateLimited shares one processor budget across every worker through Redis.
// A limited call is reported as transient so the deposit is rolled back and
// picked up by a later sweep. Redis failures fail open.
type RateLimited struct {
	Next     policies.PaymentGateway
	Redis    *redis.Client
	Key      string
	Capacity int
	Interval time.Duration
	Logger   *slog.Logger
}

func (g *RateLimited) RefundDeposit(ctx context.Context, req policies.RefundRequest) (policies.RefundReceipt, error) {
	if g.Redis == nil || g.Capacity <= 0 {
		return g.Next.RefundDeposit(ctx, req)
	}
	allowed, retryAfter, err := g.take(ctx)
	if err != nil {
		if g.Logger != nil {
			g.Logger.Warn("gateway rate limiter unavailable, allowing call", "key", g.key(), "error", err)
		}
		return g.Next.RefundDeposit(ctx, req)
	}
	if !allowed {
		return policies.RefundReceipt{}, &policies.GatewayError{
			Kind:    policies.GatewayTransient,
			Code:    "rate_limited",
			Message: fmt.Sprintf("retry after %s", retryAfter),
			Err:     ErrRateLimited,
		}
	}
	return g.Next.RefundDeposit(ctx, req)
}

func (g *RateLimited) take(ctx context.Context) (bool, time.Duration, error) {
	interval := g.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ttl := int64((interval * time.Duration(g.Capacity+1)) / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	vals, err := tokenBucket.Run(ctx, g.Redis, []string{g.key()},
		time.Now().UnixMilli(), g.Capacity, interval.Milliseconds(), ttl).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return false, 0, fmt.Errorf("payments: unexpected limiter result %#v", vals)
	}
	return asInt64(arr[0]) == 1, time.Duration(asInt64(arr[2])) * time.Millisecond, nil
}

func (g *RateLimited) key() string {
	if g.Key != "" {
		return g.Key
	}
	return "rentme-deposits:gateway:refunds"
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

var _ policies.PaymentGateway = (*RateLimited)(nil)
