package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Gopher0727/ChatState/config"
	"github.com/Gopher0727/ChatState/internal/pkg/gateway"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

var _ gateway.PresenceMirror = (*Client)(nil)

// Client mirrors member presence to Redis so other nodes can answer
// "is this member online in this guild" without holding the cache.
// Entries carry a TTL; a node that dies simply stops refreshing and its
// presence keys age out.
type Client struct {
	client *redis.Client
	config *config.RedisConfig
	ttl    time.Duration
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := time.Duration(cfg.PresenceTTLSec) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}

	return &Client{
		client: rdb,
		config: cfg,
		ttl:    ttl,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func presenceKey(guildID, userID snowflake.ID) string {
	return fmt.Sprintf("presence:guild:%s:user:%s", guildID, userID)
}

// SetMemberPresence stores the member's status under the presence TTL.
// Each update refreshes the TTL.
func (c *Client) SetMemberPresence(ctx context.Context, guildID, userID snowflake.ID, status string) error {
	key := presenceKey(guildID, userID)
	if err := c.client.Set(ctx, key, status, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence for %s: %w", key, err)
	}
	return nil
}

// MemberPresence returns the mirrored status. ok is false when no entry
// exists, which reads as offline.
func (c *Client) MemberPresence(ctx context.Context, guildID, userID snowflake.ID) (status string, ok bool, err error) {
	key := presenceKey(guildID, userID)
	status, err = c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get presence for %s: %w", key, err)
	}
	return status, true, nil
}

// ClearMemberPresence drops the member's entry, typically when the
// member leaves the guild.
func (c *Client) ClearMemberPresence(ctx context.Context, guildID, userID snowflake.ID) error {
	key := presenceKey(guildID, userID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear presence for %s: %w", key, err)
	}
	return nil
}
