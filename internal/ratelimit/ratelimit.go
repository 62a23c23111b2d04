package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter applies a Redis-backed token bucket per client key. A nil Limiter
// is a no-op, so the bridge runs without Redis in small deployments.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	rps    int
	burst  int
}

// New creates a limiter. rps is the refill rate, burst the bucket size.
func New(rdb *redis.Client, prefix string, rps, burst int) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, rps: rps, burst: burst}
}

// Token bucket in a single Lua script so refill and take are atomic.
// KEYS[1]=bucket key, ARGV=[burst, rps, now_ms]; returns 1 if allowed.
const tokenBucketScript = `
local tokens_key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', tokens_key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
local refill = math.floor(delta * refill_rate)
tokens = math.min(max_tokens, tokens + refill)
if tokens > 0 then
  tokens = tokens - 1
  redis.call('HMSET', tokens_key, 'tokens', tokens, 'last', now)
  redis.call('EXPIRE', tokens_key, 2)
  return 1
else
  redis.call('HMSET', tokens_key, 'tokens', tokens, 'last', now)
  redis.call('EXPIRE', tokens_key, 2)
  return 0
end
`

// Middleware rejects requests over the limit with 429. keyFunc picks the
// bucket per request (usually KeyByIP).
func (l *Limiter) Middleware(keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || l.rdb == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.prefix + ":" + keyFunc(r)
			allowed, err := l.allow(r, key)
			if err != nil {
				// Fail open: an unavailable limiter should not take the
				// bridge down with it.
				slog.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) allow(r *http.Request, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := l.rdb.Eval(r.Context(), tokenBucketScript, []string{key}, l.burst, l.rps, now).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n == 1, nil
	default:
		return false, nil
	}
}

// KeyByIP buckets requests by client IP.
func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
