package http

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// loginLimiter throttles credential guessing per (client, username)
// pair. With no Redis configured it allows everything.
type loginLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func newLoginLimiter(client *redis.Client, limit int, window time.Duration) *loginLimiter {
	return &loginLimiter{client: client, limit: limit, window: window}
}

func (l *loginLimiter) Allow(ctx context.Context, ip, username string) (bool, error) {
	if l.client == nil || l.limit <= 0 {
		return true, nil
	}

	key := fmt.Sprintf("login_attempts:%s:%s", ip, username)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return true, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return true, err
		}
	}
	return count <= int64(l.limit), nil
}
