package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"qafala_backend/internal/logger"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	local       = newLocalWindow()
)

// InitRedisRateLimiter initializes a shared Redis client used by the middleware.
// If addr is empty or the ping fails the limiters count in process instead.
func InitRedisRateLimiter(addr, password string, db int) {
	if addr == "" {
		logger.Info("rate limiter using in-process counters")
		return
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, rate limiter using in-process counters", "addr", addr, "error", err)
		_ = client.Close()
		return
	}
	redisClient = client
	logger.Info("rate limiter using redis", "addr", addr)
}

// CloseRateLimiter releases the Redis client.
func CloseRateLimiter() {
	if redisClient != nil {
		_ = redisClient.Close()
		redisClient = nil
	}
}

// RateLimiterBackend names where the counters live.
func RateLimiterBackend() string {
	if redisClient == nil {
		return "local"
	}
	return "redis"
}

// hit increments the fixed-window counter for key using INCR/EXPIRE.
func hit(ctx context.Context, key string, window time.Duration) int64 {
	if redisClient == nil {
		return local.incr(key, window)
	}
	val, err := redisClient.Incr(ctx, key).Result()
	if err != nil {
		logger.WithContext(ctx).Warn("rate limiter redis error", "error", err)
		return local.incr(key, window)
	}
	if val == 1 {
		redisClient.Expire(ctx, key, window)
	}
	return val
}

func windowKey(parts ...string) string {
	key := "rl"
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func seconds(window time.Duration) string {
	return strconv.FormatInt(int64(window.Seconds()), 10)
}

// RedisRateLimit limits requests per client IP.
// key format: rl:<window_seconds>:<ip>
func RedisRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		val := hit(c.Request.Context(), windowKey(seconds(window), c.ClientIP()), window)
		if val > int64(maxRequests) {
			RLBlocked.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		RLRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// UserRateLimit limits requests per authenticated user within scope. JWT
// must run first.
// key format: rl:<scope>:<window_seconds>:<user_id>
func UserRateLimit(scope string, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		val := hit(c.Request.Context(), windowKey(scope, seconds(window), strconv.FormatInt(userID, 10)), window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(maxRequests)-val), 10))

		if val > int64(maxRequests) {
			RLBlocked.WithLabelValues(scope).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": int(window.Seconds()),
			})
			return
		}
		RLRequests.WithLabelValues(scope).Inc()
		c.Next()
	}
}
