package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/response"
)

// RateLimiter is a fixed-window counter in Redis, shared by every API instance.
// It limits per attempt, so one noisy client cannot flood the violation log.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing limit requests per window.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		log:    log.With().Str("component", "rate_limiter").Logger(),
		now:    time.Now,
	}
}

// Allow counts one hit for subject and reports whether it is within the limit.
// Redis errors allow the request.
func (rl *RateLimiter) Allow(ctx context.Context, subject string) bool {
	if rl.limit <= 0 {
		return true
	}
	window := rl.now().UnixNano() / int64(rl.window)
	key := config.CacheKey.AttemptViolationRateKey(subject, window)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		rl.log.Warn().Err(err).Str("subject", subject).Msg("Rate limiter unavailable, allowing request")
		return true
	}
	return incr.Val() <= int64(rl.limit)
}

// PerParam returns a middleware limiting requests by the named route parameter.
func (rl *RateLimiter) PerParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.Param(param)
		if subject == "" {
			subject = c.ClientIP()
		}
		if !rl.Allow(c.Request.Context(), subject) {
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
