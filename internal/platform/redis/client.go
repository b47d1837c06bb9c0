package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"anonid/internal/platform/config"
)

// Client wraps go-redis with the connect-time ping and health surface the
// ops binary depends on.
type Client struct {
	*redis.Client
}

// New dials the configured Redis URL, applying pool and timeout overrides,
// and verifies the connection before handing it out. Returns nil when no
// URL is set so callers can fall back to the in-memory store.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health reports whether the connection still answers pings.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
