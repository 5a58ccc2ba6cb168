// Package cache holds the Redis-backed rate-limit counter and sync lock.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "reseller:"

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Int("db", db).Msg("connected to redis")
	return client, nil
}

// incrWindow bumps the counter and sets its expiry on first use.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Counter is a ratelimit.CounterStore backed by Redis.
type Counter struct {
	client redis.Scripter
}

func NewCounter(client redis.Scripter) *Counter {
	return &Counter{client: client}
}

func (c *Counter) IncrementWindow(ctx context.Context, identifier, route string, windowStart time.Time, window time.Duration) (int64, error) {
	key := keyPrefix + "rl:" + identifier + ":" + route + ":" + strconv.FormatInt(windowStart.Unix(), 10)
	return incrWindow.Run(ctx, c.client, []string{key}, window.Milliseconds()).Int64()
}

// releaseLock deletes the lock only when it still belongs to the caller.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants named leases with SET NX PX.
type Locker struct {
	client redis.Cmdable
}

func NewLocker(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, keyPrefix+"lock:"+name, owner, ttl).Result()
}

func (l *Locker) Release(ctx context.Context, name, owner string) error {
	return releaseLock.Run(ctx, l.client, []string{keyPrefix + "lock:" + name}, owner).Err()
}
