package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const DefaultRateLimitWindow = 10 * time.Second

// Limiter admits at most one prompt per user per window.
type Limiter interface {
	Allow(ctx context.Context, userID int64) (bool, error)
}

type userLimit struct {
	lim  *rate.Limiter
	seen time.Time
}

// MemoryLimiter keeps one token bucket per user in process memory.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	users  map[int64]*userLimit
	now    func() time.Time
}

func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &MemoryLimiter{window: window, users: make(map[int64]*userLimit), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	u, ok := l.users[userID]
	if !ok {
		u = &userLimit{lim: rate.NewLimiter(rate.Every(l.window), 1)}
		l.users[userID] = u
	}
	if !u.lim.AllowN(now, 1) {
		return false, nil
	}
	u.seen = now
	return true, nil
}

// Sweep forgets users whose last admitted prompt is older than the window;
// their bucket would be full again anyway. It returns how many were dropped.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, u := range l.users {
		if now.Sub(u.seen) >= l.window {
			delete(l.users, id)
			n++
		}
	}
	return n
}

// RedisLimiter shares the window across bot replicas with SET NX PX.
type RedisLimiter struct {
	rdb    redis.Cmdable
	window time.Duration
	prefix string
}

func NewRedisLimiter(rdb redis.Cmdable, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RedisLimiter{rdb: rdb, window: window, prefix: "promptrelay:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, userID int64) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.prefix+strconv.FormatInt(userID, 10), 1, l.window).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}
