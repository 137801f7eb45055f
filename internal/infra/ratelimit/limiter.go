// Package ratelimit throttles lender submissions per company. Redis holds
// the shared GCRA state when configured; a per-process token bucket takes
// over when Redis is absent or failing.
package ratelimit

import (
	"context"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyPrefix = "ratelimit:submit:"

// Limiter implements port.RateLimiter.
type Limiter struct {
	redis    *redis_rate.Limiter
	limit    redis_rate.Limit
	fallback *localLimiter
	logger   *zap.Logger
}

// PerMinute builds a limit of n events per minute with a burst of n.
func PerMinute(n int) redis_rate.Limit {
	return redis_rate.PerMinute(n)
}

// New creates a limiter. rdb may be nil.
func New(rdb *redis.Client, limit redis_rate.Limit, logger *zap.Logger) *Limiter {
	l := &Limiter{
		limit:    limit,
		fallback: newLocalLimiter(),
		logger:   logger,
	}
	if rdb != nil {
		l.redis = redis_rate.NewLimiter(rdb)
	}
	return l
}

// Allow consumes one event for key. It returns how long to wait when the
// key is over quota and zero otherwise.
func (l *Limiter) Allow(ctx context.Context, key string) (time.Duration, error) {
	if l.limit.Rate <= 0 {
		return 0, nil
	}
	key = keyPrefix + key

	if l.redis != nil {
		res, err := l.redis.Allow(ctx, key, l.limit)
		if err == nil {
			if res.Allowed == 0 {
				return atLeastOneSecond(res.RetryAfter), nil
			}
			return 0, nil
		}
		l.logger.Warn("ratelimit: redis unavailable, using local limiter", zap.Error(err))
	}

	return l.fallback.allow(key, l.limit), nil
}

func atLeastOneSecond(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}

type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLocalLimiter() *localLimiter {
	return &localLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) time.Duration {
	perSec := float64(limit.Rate) / limit.Period.Seconds()

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		burst := limit.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	r := lim.Reserve()
	if !r.OK() {
		return time.Minute
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return atLeastOneSecond(d)
	}
	return 0
}
