// Package cache holds the rendered inbox overview pages of each user.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/pliu/inbox/internal/models"
	"github.com/redis/go-redis/v9"
)

type InboxPage struct {
	Threads []models.Thread `json:"threads"`
	More    bool            `json:"more"`
}

// Inbox caches inbox pages per user. Pages are stored under a generation
// number; Invalidate bumps the generation so pages filled from reads that
// started earlier are no longer found.
type Inbox interface {
	Generation(ctx context.Context, userID string) (int64, error)
	// Get returns nil without an error on a cache miss.
	Get(ctx context.Context, userID string, gen int64, page int) (*InboxPage, error)
	Set(ctx context.Context, userID string, gen int64, page int, p *InboxPage) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// RedisInbox keeps one hash per user and generation, one field per page.
// The generation counter lives in its own key without a TTL.
type RedisInbox struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisInbox(client *redis.Client, ttl time.Duration) *RedisInbox {
	return &RedisInbox{client: client, ttl: ttl}
}

func generationKey(userID string) string {
	return "inbox:gen:" + userID
}

func inboxKey(userID string, gen int64) string {
	return "inbox:" + userID + ":" + strconv.FormatInt(gen, 10)
}

func (c *RedisInbox) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisInbox) Get(ctx context.Context, userID string, gen int64, page int) (*InboxPage, error) {
	data, err := c.client.HGet(ctx, inboxKey(userID, gen), strconv.Itoa(page)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p InboxPage
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *RedisInbox) Set(ctx context.Context, userID string, gen int64, page int, p *InboxPage) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	key := inboxKey(userID, gen)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(page), data)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate moves every given user to a new generation. The old hashes are
// left to expire.
func (c *RedisInbox) Invalidate(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, generationKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}
