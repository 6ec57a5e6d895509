// Tests in this package need a Redis server and are skipped otherwise.
// Run them with TEST_REDIS_ADDR=localhost:6379 go test ./internal/cache/.

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pliu/inbox/internal/models"
	"github.com/redis/go-redis/v9"
)

// newTestCache skips the test unless TEST_REDIS_ADDR points at a reachable Redis.
func newTestCache(t *testing.T) (*RedisInbox, *redis.Client) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisInbox(client, time.Minute), client
}

func cleanup(t *testing.T, client *redis.Client, userID string) {
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, "inbox:*"+userID+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
}

func TestRedisInbox(t *testing.T) {
	c, client := newTestCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	cleanup(t, client, userID)

	gen, err := c.Generation(ctx, userID)
	if err != nil || gen != 0 {
		t.Fatalf("Expected generation 0, got %d (%v)", gen, err)
	}

	p, err := c.Get(ctx, userID, gen, 1)
	if err != nil || p != nil {
		t.Fatalf("Expected a miss, got %v (%v)", p, err)
	}

	page := &InboxPage{
		Threads: []models.Thread{{ID: "a:b", Message: models.ThreadMessage{ID: "m1", Content: "hello"}}},
		More:    true,
	}
	if err := c.Set(ctx, userID, gen, 1, page); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, userID, gen, 1)
	if err != nil || got == nil {
		t.Fatalf("Expected a hit, got %v (%v)", got, err)
	}
	if !got.More || len(got.Threads) != 1 || got.Threads[0].Message.Content != "hello" {
		t.Errorf("Unexpected cached page: %+v", got)
	}
	if p, _ := c.Get(ctx, userID, gen, 2); p != nil {
		t.Errorf("Expected page 2 to miss, got %+v", p)
	}

	ttl, _ := client.TTL(ctx, inboxKey(userID, gen)).Result()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("Expected the page hash to expire within a minute, got %v", ttl)
	}

	if err := c.Invalidate(ctx, userID); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	next, _ := c.Generation(ctx, userID)
	if next != gen+1 {
		t.Errorf("Generation: got %v want %v", next, gen+1)
	}
	if p, _ := c.Get(ctx, userID, next, 1); p != nil {
		t.Errorf("Expected a miss after invalidation, got %+v", p)
	}
}

func TestRedisInboxStaleFill(t *testing.T) {
	c, client := newTestCache(t)
	ctx := context.Background()
	userID := uuid.NewString()
	cleanup(t, client, userID)

	// A reader takes the generation, then an invalidation lands before it fills.
	gen, _ := c.Generation(ctx, userID)
	c.Invalidate(ctx, userID)
	c.Set(ctx, userID, gen, 1, &InboxPage{Threads: []models.Thread{}})

	current, _ := c.Generation(ctx, userID)
	if p, _ := c.Get(ctx, userID, current, 1); p != nil {
		t.Errorf("Expected the stale fill to stay invisible, got %+v", p)
	}
}
