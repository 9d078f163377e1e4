package blocklist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// blockKeyPrefix is the Redis key prefix for block entries.
const blockKeyPrefix = "blk:ip:"

// Redis is a List backed by a shared Redis instance so all gateway replicas
// see the same block set. Each entry is one JSON value under blk:ip:<ip>
// with the TTL enforced by Redis itself.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis at addr and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Get implements List.
func (r *Redis) Get(ctx context.Context, ip string) (*Entry, error) {
	raw, err := r.client.Get(ctx, blockKeyPrefix+ip).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %s: %w", ip, err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode block %s: %w", ip, err)
	}
	return &e, nil
}

// Block implements List.
func (r *Redis) Block(ctx context.Context, ip string, ttl time.Duration, reasonCode, reason string) error {
	now := time.Now().UTC()
	e := Entry{
		IP:         ip,
		ReasonCode: reasonCode,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", ip, err)
	}
	if err := r.client.Set(ctx, blockKeyPrefix+ip, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set block %s: %w", ip, err)
	}
	return nil
}

// Unblock implements List. DEL of an absent key is already a no-op.
func (r *Redis) Unblock(ctx context.Context, ip string) error {
	if err := r.client.Del(ctx, blockKeyPrefix+ip).Err(); err != nil {
		return fmt.Errorf("del block %s: %w", ip, err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
