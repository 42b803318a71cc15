package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aiqsync/datasync/pkg/logger"
	"github.com/aiqsync/datasync/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// windowScript counts a hit in KEYS[1] and starts the window expiry (ARGV[1] ms)
// on the first hit. Returns {count, remaining ms}.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// RedisLimiter is a fixed-window counter shared by every service instance.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	window time.Duration
	limit  int64
}

// NewRedisLimiter allows rps*window+burst hits per key and window.
// Windows shorter than a second are rounded up to one second.
func NewRedisLimiter(client *redis.Client, rps float64, burst int, window time.Duration) *RedisLimiter {
	window = window.Truncate(time.Second)
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		prefix: "rl:",
		window: window,
		limit:  int64(rps*window.Seconds()) + int64(burst),
	}
}

// Key returns the counter key of limitKey k in the window containing at.
func (l *RedisLimiter) Key(k string, at time.Time) string {
	return l.prefix + k + ":" + strconv.FormatInt(at.Unix()/int64(l.window.Seconds()), 10)
}

// Allow records one hit for k. When the hit is over the limit it also returns
// how long until the window resets.
func (l *RedisLimiter) Allow(ctx context.Context, k string) (bool, time.Duration, error) {
	// the key outlives its window by a second to absorb clock skew between instances
	ttl := l.window + time.Second
	res, err := windowScript.Run(ctx, l.client, []string{l.Key(k, time.Now())}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}
	if res[0] <= l.limit {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Millisecond, nil
}

// RedisRateLimitMiddleware limits requests per limitKey through a RedisLimiter.
// Without a client it degrades to the in-process limiter.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	limiter := NewRedisLimiter(client, rps, burst, window)
	log := logger.Named("ratelimit")
	return func(c *gin.Context) {
		key := limitKey(c)
		ok, wait, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Errorw("rate limit check failed", "key", key, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			return
		}
		if !ok {
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}

// retryAfter renders wait as whole seconds, never less than one.
func retryAfter(wait time.Duration) string {
	secs := int64((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
