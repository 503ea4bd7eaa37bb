package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/complete_key.lua
var completeKeyScript string

//go:embed scripts/release_key.lua
var releaseKeyScript string

const (
	keyPrefix    = "idempotency:"
	pendingValue = "pending"
)

// ErrKeyInFlight is returned when a request with the same key is still running
var ErrKeyInFlight = errors.New("request with this idempotency key is in progress")

type Client struct {
	rdb            *redis.Client
	completeScript *redis.Script
	releaseScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:            rdb,
		completeScript: redis.NewScript(completeKeyScript),
		releaseScript:  redis.NewScript(releaseKeyScript),
	}, nil
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Reserve claims an idempotency key for ttl. It returns ("", nil) when the
// key was free, the stored result when an earlier request completed, and
// ErrKeyInFlight while that request is still running.
func (c *Client) Reserve(ctx context.Context, scope, key string, ttl time.Duration) (string, error) {
	redisKey := keyPrefix + scope + ":" + key

	ok, err := c.rdb.SetNX(ctx, redisKey, pendingValue, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return "", nil
	}

	value, err := c.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return c.Reserve(ctx, scope, key, ttl)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if value == pendingValue {
		return "", ErrKeyInFlight
	}
	return value, nil
}

// Complete stores the result of a reserved request
func (c *Client) Complete(ctx context.Context, scope, key, result string, ttl time.Duration) error {
	redisKey := keyPrefix + scope + ":" + key

	err := c.completeScript.Run(ctx, c.rdb, []string{redisKey}, pendingValue, result, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("complete idempotency key script failed: %w", err)
	}
	return nil
}

// Release frees a reservation whose request failed so it can be retried
func (c *Client) Release(ctx context.Context, scope, key string) error {
	redisKey := keyPrefix + scope + ":" + key

	err := c.releaseScript.Run(ctx, c.rdb, []string{redisKey}, pendingValue).Err()
	if err != nil {
		return fmt.Errorf("release idempotency key script failed: %w", err)
	}
	return nil
}
