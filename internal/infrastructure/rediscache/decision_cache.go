// Package rediscache caches permission-check decisions. The TTL bounds
// how long a revocation made by another node can keep serving a stale
// allow; the node performing a grant or revoke purges its keys
// synchronously.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the documented revocation-latency/throughput trade-off.
const DefaultTTL = 2 * time.Minute

const keyPrefix = "authz:"

type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func New(client *redis.Client, ttl time.Duration) *DecisionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DecisionCache{client: client, ttl: ttl}
}

func decisionKey(resourceID, principalID, scope string) string {
	return keyPrefix + resourceID + ":" + principalID + ":" + scope
}

func (c *DecisionCache) Get(ctx context.Context, resourceID, principalID, scope string) (allowed, found bool, err error) {
	val, err := c.client.Get(ctx, decisionKey(resourceID, principalID, scope)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

func (c *DecisionCache) Set(ctx context.Context, resourceID, principalID, scope string, allowed bool) error {
	val := "0"
	if allowed {
		val = "1"
	}
	return c.client.Set(ctx, decisionKey(resourceID, principalID, scope), val, c.ttl).Err()
}

// Invalidate removes every cached scope decision for the pair.
func (c *DecisionCache) Invalidate(ctx context.Context, resourceID, principalID string) error {
	return c.deleteByPattern(ctx, keyPrefix+resourceID+":"+principalID+":*")
}

// InvalidateResource removes every cached decision for the resource,
// used when the resource itself is deleted.
func (c *DecisionCache) InvalidateResource(ctx context.Context, resourceID string) error {
	return c.deleteByPattern(ctx, keyPrefix+resourceID+":*")
}

func (c *DecisionCache) deleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
