package middleware

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisLimiter_Window(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	l := NewRedisLimiter(client, "rl:test:", 3, time.Minute, nil)
	key := uuid.NewString()
	defer client.Del(ctx, "rl:test:"+key)

	for i := 0; i < 3; i++ {
		if !l.Allow(ctx, key) {
			t.Fatalf("expected allow at iteration %d", i)
		}
	}
	if l.Allow(ctx, key) {
		t.Fatal("expected the fourth event in the window to be rejected")
	}

	ttl, err := client.TTL(ctx, "rl:test:"+key).Result()
	if err != nil || ttl <= 0 {
		t.Fatalf("window key must carry a TTL, got %v err=%v", ttl, err)
	}
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	// Nothing listens on this port; every command errors out.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	l := NewRedisLimiter(client, "rl:test:", 1, time.Minute, nil)
	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "k") {
			t.Fatal("an unreachable Redis must not block traffic")
		}
	}
}
