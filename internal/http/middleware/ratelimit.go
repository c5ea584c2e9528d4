// Package middleware holds HTTP middlewares shared by the ride API.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/gatortaxi/internal/auth"
)

const defaultKeyPrefix = "gatortaxi:rl"

var throttled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "http_rate_limited_total",
	Help: "Requests rejected by the token bucket limiter grouped by scope.",
}, []string{"scope"})

// Bucket is a token bucket: Rate tokens per second refill up to Burst.
type Bucket struct {
	Rate  float64
	Burst float64
}

func (b Bucket) enabled() bool { return b.Rate > 0 && b.Burst > 0 }

// RateLimiter throttles callers with Redis-backed token buckets. Reads and
// mutations draw from separate buckets so dispatch traffic cannot be starved
// by dashboards polling ride listings.
type RateLimiter struct {
	client redis.Scripter
	read   Bucket
	write  Bucket
	prefix string
	script *redis.Script
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter returns nil when client is nil; a nil limiter passes every request.
func NewRateLimiter(client redis.Scripter, read, write Bucket, logger *zap.Logger) *RateLimiter {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		client: client,
		read:   read,
		write:  write,
		prefix: defaultKeyPrefix,
		script: redis.NewScript(tokenBucketLua),
		logger: logger,
		now:    time.Now,
	}
}

// Middleware enforces the bucket matching the request method. Place it after
// auth.Middleware so authenticated operators are limited by subject rather
// than by address. Redis failures let the request through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || (!l.read.enabled() && !l.write.enabled()) {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, scope := l.write, "write"
		if isReadMethod(r.Method) {
			bucket, scope = l.read, "read"
		}
		if !bucket.enabled() {
			next.ServeHTTP(w, r)
			return
		}

		caller := callerID(r)
		allowed, retryAfter, err := l.take(r.Context(), scope, caller, bucket)
		if err != nil {
			l.logger.Warn("rate limiter unavailable", zap.Error(err), zap.String("scope", scope))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			throttled.WithLabelValues(scope).Inc()
			w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) take(ctx context.Context, scope, caller string, b Bucket) (bool, time.Duration, error) {
	key := strings.Join([]string{l.prefix, scope, caller}, ":")
	result, err := l.script.Run(ctx, l.client, []string{key}, l.now().UnixMilli(), b.Rate, b.Burst, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run token bucket: %w", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return false, 0, errors.New("unexpected token bucket reply")
	}
	allowed, err := toInt64(values[0])
	if err != nil {
		return false, 0, err
	}
	if allowed == 1 {
		return true, 0, nil
	}
	wait, err := toInt64(values[2])
	if err != nil {
		return false, 0, err
	}
	return false, time.Duration(wait) * time.Millisecond, nil
}

func isReadMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// callerID prefers the authenticated operator, then an explicit client id,
// then the remote address.
func callerID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	if id := strings.TrimSpace(r.Header.Get("X-Client-ID")); id != "" {
		return "client:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "anonymous"
	}
	return "addr:" + host
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported token bucket value %T", v)
	}
}

// tokenBucketLua returns {allowed, tokens left, wait in ms}. Lua numbers are
// truncated to integers on the way out, so the wait is reported in ms.
const tokenBucketLua = `
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
  tokens = burst
end
if last == nil then
  last = now_ms
end

local elapsed = now_ms - last
if elapsed > 0 then
  tokens = math.min(burst, tokens + elapsed * rate / 1000)
  last = now_ms
end

local wait_ms = 0
local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  wait_ms = math.ceil((requested - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(last))
redis.call('PEXPIRE', key, math.ceil(burst * 1000 / rate))
return {allowed, math.floor(tokens), wait_ms}
`
