package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_claim.lua
var releaseClaimScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
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
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseClaimScript),
	}, nil
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Claim is a short-lived exclusive hold on a key, released only by its owner.
type Claim struct {
	key   string
	token string
}

// ClaimEvent tries to take exclusive ownership of a gateway event id for ttl.
// It returns nil when another holder already owns the claim.
func (c *Client) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (*Claim, error) {
	claim := &Claim{
		key:   fmt.Sprintf("claim:event:%s", eventID),
		token: uuid.New().String(),
	}

	ok, err := c.rdb.SetNX(ctx, claim.key, claim.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return claim, nil
}

// Release drops the claim if it is still owned by this holder.
func (c *Client) Release(ctx context.Context, claim *Claim) error {
	if claim == nil {
		return nil
	}
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{claim.key}, claim.token).Result()
	if err != nil {
		return fmt.Errorf("release claim script failed: %w", err)
	}
	return nil
}

// CachedRole returns the role cached for a user, or "" on a miss.
func (c *Client) CachedRole(ctx context.Context, userID string) (string, error) {
	role, err := c.rdb.Get(ctx, roleKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// CacheRole stores a user's role for ttl
func (c *Client) CacheRole(ctx context.Context, userID, role string, ttl time.Duration) error {
	return c.rdb.Set(ctx, roleKey(userID), role, ttl).Err()
}

// InvalidateRole drops a cached role, e.g. after a role change
func (c *Client) InvalidateRole(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, roleKey(userID)).Err()
}

func roleKey(userID string) string {
	return fmt.Sprintf("auth:role:%s", userID)
}
