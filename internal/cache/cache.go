package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// UserTTL bounds how long a confirmed card owner is remembered.
const UserTTL = 10 * time.Minute

// Client wraps a redis client but fails safe by swallowing connectivity errors.
// A nil *Client behaves as an always-empty cache.
type Client struct {
	client redis.UniversalClient
}

// New creates a new Redis client.
func New(addr, password string, db int) *Client {
	return NewFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewFromClient wraps an existing redis client.
func NewFromClient(client redis.UniversalClient) *Client {
	return &Client{client: client}
}

// Redis exposes the underlying client for components that need raw access,
// such as distributed locks. It returns nil for a nil Client.
func (c *Client) Redis() redis.UniversalClient {
	if c == nil {
		return nil
	}
	return c.client
}

// Ping reports whether redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns value or nil if missing or redis unavailable.
func (c *Client) Get(ctx context.Context, key string) []byte {
	if c == nil || c.client == nil {
		return nil
	}
	res, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		// redis.Nil and connectivity errors both read as a miss
		return nil
	}
	return res
}

// Set stores value with TTL, ignoring redis errors.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, key, value, ttl).Err()
}

func userKey(id uuid.UUID) string {
	return "user:exists:" + id.String()
}

// KnownUser reports whether id was recently confirmed to exist.
// false means "unknown", not "absent".
func (c *Client) KnownUser(ctx context.Context, id uuid.UUID) bool {
	return c.Get(ctx, userKey(id)) != nil
}

// RememberUser records that id exists.
func (c *Client) RememberUser(ctx context.Context, id uuid.UUID) {
	c.Set(ctx, userKey(id), []byte("1"), UserTTL)
}
