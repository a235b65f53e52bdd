package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis list operations used by the matchmaking queue.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// QueueKey is the list holding waiting tickets of a stake tier.
func QueueKey(stake string) string {
	return fmt.Sprintf("matchmaking:queue:%s", stake)
}

// PushBack appends a ticket to the tier's queue.
func (c *Client) PushBack(ctx context.Context, stake string, ticket []byte) error {
	if err := c.rdb.RPush(ctx, QueueKey(stake), ticket).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// PushFront puts a ticket back at the head of the tier's queue.
func (c *Client) PushFront(ctx context.Context, stake string, ticket []byte) error {
	if err := c.rdb.LPush(ctx, QueueKey(stake), ticket).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

// PopFront removes the oldest ticket. found is false for an empty queue.
func (c *Client) PopFront(ctx context.Context, stake string) (ticket []byte, found bool, err error) {
	val, err := c.rdb.LPop(ctx, QueueKey(stake)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lpop failed: %w", err)
	}
	return val, true, nil
}

// Len returns the number of waiting tickets.
func (c *Client) Len(ctx context.Context, stake string) (int, error) {
	n, err := c.rdb.LLen(ctx, QueueKey(stake)).Result()
	if err != nil {
		return 0, fmt.Errorf("llen failed: %w", err)
	}
	return int(n), nil
}

// Clear removes the tier's queue.
func (c *Client) Clear(ctx context.Context, stake string) error {
	return c.rdb.Del(ctx, QueueKey(stake)).Err()
}
