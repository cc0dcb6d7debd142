package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kjannette/tulipbot/internal/models"
	"github.com/redis/go-redis/v9"
)

const historyKey = "tulipbot:prices:history"

// CachedPriceHistory wraps a primary PriceHistory with a Redis read-through
// cache for List. Appends go to the primary and drop every cached listing.
type CachedPriceHistory struct {
	primary PriceHistory
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedPriceHistory(primary PriceHistory, rdb *redis.Client, ttl time.Duration) *CachedPriceHistory {
	return &CachedPriceHistory{primary: primary, rdb: rdb, ttl: ttl}
}

func (c *CachedPriceHistory) Append(ctx context.Context, p models.Prices, at time.Time) (*models.PriceSample, error) {
	s, err := c.primary.Append(ctx, p, at)
	if err != nil {
		return nil, err
	}
	c.rdb.Del(ctx, historyKey)
	return s, nil
}

// Latest is not cached; the oracle reads it rarely.
func (c *CachedPriceHistory) Latest(ctx context.Context) (*models.PriceSample, error) {
	return c.primary.Latest(ctx)
}

func (c *CachedPriceHistory) List(ctx context.Context, order Order, limit int) ([]models.PriceSample, error) {
	field := listField(order, limit)

	data, err := c.rdb.HGet(ctx, historyKey, field).Bytes()
	if err == nil {
		var out []models.PriceSample
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := c.primary.List(ctx, order, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(out); err == nil {
		pipe := c.rdb.TxPipeline()
		pipe.HSet(ctx, historyKey, field, data)
		pipe.Expire(ctx, historyKey, c.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return out, nil
}

func listField(order Order, limit int) string {
	if order != OrderDesc {
		order = OrderAsc
	}
	if limit < 0 {
		limit = 0
	}
	return fmt.Sprintf("%s:%d", order, limit)
}
