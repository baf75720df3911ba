// Package ratelimit caps how often an account may call the analyzer.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var ErrLimited = errors.New("rate limit exceeded")

// Limiter admits or rejects one call for key under limit calls per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every hacpd replica.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (rl *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	// the first hit opens the window
	if count == 1 {
		if err := rl.client.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// LocalLimiter keeps a token bucket per key in process memory. It is used
// when no Redis is configured. Buckets idle for longer than their window are
// full again, so they are evicted on a periodic sweep.
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localBucket
	now       func() time.Time
	lastSweep time.Time
}

type localBucket struct {
	lim    *rate.Limiter
	window time.Duration
	last   time.Time
}

const sweepInterval = time.Minute

func NewLocal() *LocalLimiter {
	return &LocalLimiter{limiters: make(map[string]*localBucket), now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	id := key + "/" + strconv.Itoa(limit) + "/" + window.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}

	b, ok := l.limiters[id]
	if !ok {
		b = &localBucket{
			lim:    rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			window: window,
		}
		l.limiters[id] = b
	}
	b.last = now
	return b.lim.AllowN(now, 1), nil
}

// sweep drops buckets that have refilled completely. Callers hold l.mu.
func (l *LocalLimiter) sweep(now time.Time) {
	for id, b := range l.limiters {
		if now.Sub(b.last) > b.window {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Policy applies per-tier limits on top of a Limiter.
type Policy struct {
	limiter Limiter
	limits  map[string]int
	window  time.Duration
}

func NewPolicy(limiter Limiter, limits map[string]int, window time.Duration) *Policy {
	return &Policy{limiter: limiter, limits: limits, window: window}
}

// Check returns ErrLimited when account has used up its tier's allowance.
// Tiers without a positive limit are unlimited.
func (p *Policy) Check(ctx context.Context, account, tier string) error {
	limit := p.limits[tier]
	if limit <= 0 {
		return nil
	}
	ok, err := p.limiter.Allow(ctx, "ratelimit:"+tier+":"+account, limit, p.window)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLimited
	}
	return nil
}
