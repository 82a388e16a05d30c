// Package cache holds short-lived cooldown markers used to throttle repeated work.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// Throttle lets a keyed action through at most once per ttl
type Throttle interface {
	// Allow reports whether the caller may proceed and, if so, starts the cooldown
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release ends the cooldown of key early
	Release(ctx context.Context, key string) error
}

// RedisThrottle keeps cooldown markers in Redis so every instance shares them
type RedisThrottle struct {
	conn   *redis.Client
	prefix string
}

// NewRedisThrottle connects to the Redis server at url
func NewRedisThrottle(ctx context.Context, url string) (*RedisThrottle, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisThrottle{conn: client, prefix: "throttle:"}, nil
}

// Allow implements Throttle with SETNX and an expiry
func (rt *RedisThrottle) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := rt.conn.SetNX(ctx, rt.prefix+key, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setting throttle key %q: %w", key, err)
	}
	return ok, nil
}

// Release implements Throttle
func (rt *RedisThrottle) Release(ctx context.Context, key string) error {
	if err := rt.conn.Del(ctx, rt.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting throttle key %q: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection
func (rt *RedisThrottle) Close() error {
	return rt.conn.Close()
}

// MemoryThrottle is a process-local Throttle
type MemoryThrottle struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryThrottle creates an empty in-process throttle
func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{until: make(map[string]time.Time), now: time.Now}
}

// Allow implements Throttle
func (mt *MemoryThrottle) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	now := mt.now()
	if until, ok := mt.until[key]; ok && now.Before(until) {
		return false, nil
	}

	// Opportunistic cleanup keeps the map bounded by live keys
	for k, until := range mt.until {
		if !now.Before(until) {
			delete(mt.until, k)
		}
	}

	mt.until[key] = now.Add(ttl)
	return true, nil
}

// Release implements Throttle
func (mt *MemoryThrottle) Release(ctx context.Context, key string) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	delete(mt.until, key)
	return nil
}

// Unthrottled always allows
type Unthrottled struct{}

// Allow implements Throttle
func (Unthrottled) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

// Release implements Throttle
func (Unthrottled) Release(ctx context.Context, key string) error {
	return nil
}
