package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hashbid/backend/internal/models"
)

// StatusCache fronts hot auction reads with a short-TTL Redis cache.
// Spectator traffic (status queries, room joins) hits this path; writers
// always go to the store. With a nil client it degrades to passthrough.
type StatusCache struct {
	store AuctionStore
	redis *redis.Client
	ttl   time.Duration
}

func NewStatusCache(store AuctionStore, client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{store: store, redis: client, ttl: ttl}
}

func (c *StatusCache) GetAuction(ctx context.Context, id string) (*models.Auction, error) {
	if c.redis == nil {
		return c.store.GetAuction(ctx, id)
	}

	key := "auction_status:" + id
	if cached, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var auction models.Auction
		if json.Unmarshal(cached, &auction) == nil {
			return &auction, nil
		}
	}

	auction, err := c.store.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(auction); err == nil {
		c.redis.Set(ctx, key, encoded, c.ttl)
	}
	return auction, nil
}

// Invalidate drops the cached copy after a status-changing write.
func (c *StatusCache) Invalidate(ctx context.Context, id string) {
	if c.redis != nil {
		c.redis.Del(ctx, "auction_status:"+id)
	}
}
