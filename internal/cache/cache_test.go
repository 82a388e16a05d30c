package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestRedisThrottle(t *testing.T) {
	r := miniredis.RunT(t)
	ctx := context.Background()

	throttle, err := NewRedisThrottle(ctx, fmt.Sprintf("redis://%s", r.Addr()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer throttle.Close()

	ok, err := throttle.Allow(ctx, "sync:alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Expected first call to be allowed")
	}

	ok, err = throttle.Allow(ctx, "sync:alice", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Expected second call inside cooldown to be refused")
	}

	ok, _ = throttle.Allow(ctx, "sync:bob", time.Minute)
	if !ok {
		t.Error("Expected other key to be allowed")
	}

	r.FastForward(2 * time.Minute)

	ok, _ = throttle.Allow(ctx, "sync:alice", time.Minute)
	if !ok {
		t.Error("Expected call after cooldown to be allowed")
	}
}

func TestRedisThrottleBadURL(t *testing.T) {
	if _, err := NewRedisThrottle(context.Background(), "not a url"); err == nil {
		t.Error("Expected error for malformed URL")
	}
}

func TestRedisThrottleServerDown(t *testing.T) {
	r := miniredis.RunT(t)
	ctx := context.Background()

	throttle, err := NewRedisThrottle(ctx, fmt.Sprintf("redis://%s", r.Addr()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer throttle.Close()

	r.Close()
	if _, err := throttle.Allow(ctx, "k", time.Minute); err == nil {
		t.Error("Expected error once redis is gone")
	}
}

func TestMemoryThrottle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	throttle := NewMemoryThrottle()
	throttle.now = func() time.Time { return now }

	if ok, _ := throttle.Allow(ctx, "k", time.Minute); !ok {
		t.Fatal("Expected first call to be allowed")
	}
	if ok, _ := throttle.Allow(ctx, "k", time.Minute); ok {
		t.Error("Expected call inside cooldown to be refused")
	}

	now = now.Add(time.Minute)
	if ok, _ := throttle.Allow(ctx, "k", time.Minute); !ok {
		t.Error("Expected call at cooldown end to be allowed")
	}
}

func TestRedisThrottleRelease(t *testing.T) {
	r := miniredis.RunT(t)
	ctx := context.Background()

	throttle, err := NewRedisThrottle(ctx, fmt.Sprintf("redis://%s", r.Addr()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer throttle.Close()

	if ok, _ := throttle.Allow(ctx, "sync:alice", time.Minute); !ok {
		t.Fatal("Expected first call to be allowed")
	}
	if err := throttle.Release(ctx, "sync:alice"); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if r.Exists("throttle:sync:alice") {
		t.Error("Expected cooldown marker to be deleted")
	}
	if ok, _ := throttle.Allow(ctx, "sync:alice", time.Minute); !ok {
		t.Error("Expected call after release to be allowed")
	}
}

func TestMemoryThrottleRelease(t *testing.T) {
	ctx := context.Background()
	throttle := NewMemoryThrottle()

	throttle.Allow(ctx, "k", time.Hour)
	if err := throttle.Release(ctx, "k"); err != nil {
		t.Fatalf("Failed to release: %v", err)
	}
	if ok, _ := throttle.Allow(ctx, "k", time.Hour); !ok {
		t.Error("Expected call after release to be allowed")
	}

	// Releasing an unknown key is a no-op
	if err := throttle.Release(ctx, "missing"); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
