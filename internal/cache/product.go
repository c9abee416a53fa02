// Package cache provides a Redis read-through cache for the product catalog.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/shop-checkout/internal/domain/order"
	"github.com/xenking/shop-checkout/internal/domain/product"
)

const (
	productKeyPrefix = "product:"
	catalogKey       = "products:all"
	defaultTTL       = 5 * time.Minute
)

var (
	_ product.Repository   = (*ProductCache)(nil)
	_ order.EventPublisher = (*ProductCache)(nil)
)

// ProductCache wraps a product.Repository with Redis. List and GetByID are
// served from the cache; GetByIDs always reads through because its callers
// check stock.
//
// Redis failures are logged and fall back to the wrapped repository.
type ProductCache struct {
	next   product.Repository
	client redis.UniversalClient
	ttl    time.Duration
}

// NewProductCache returns a ProductCache. A non-positive ttl selects the
// default of five minutes.
func NewProductCache(next product.Repository, client redis.UniversalClient, ttl time.Duration) *ProductCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ProductCache{next: next, client: client, ttl: ttl}
}

// List returns the whole catalog.
func (c *ProductCache) List(ctx context.Context) ([]product.Product, error) {
	var cached []product.Product
	if c.load(ctx, catalogKey, &cached) {
		return cached, nil
	}

	products, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, catalogKey, products)
	return products, nil
}

// GetByID returns a single product.
func (c *ProductCache) GetByID(ctx context.Context, id string) (*product.Product, error) {
	key := productKeyPrefix + id

	var cached product.Product
	if c.load(ctx, key, &cached) {
		return &cached, nil
	}

	p, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, p)
	return p, nil
}

// GetByIDs reads through to the wrapped repository.
func (c *ProductCache) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	return c.next.GetByIDs(ctx, ids)
}

// Invalidate drops the cached entries for ids and the cached catalog.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...string) error {
	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, catalogKey)
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}

// Publish invalidates the products whose stock changed with the order.
// Status changes other than cancellation leave stock untouched.
func (c *ProductCache) Publish(ctx context.Context, e order.Event) error {
	if e.Type == order.EventOrderStatusChanged {
		return nil
	}
	ids := make([]string, len(e.Order.Items))
	for i, it := range e.Order.Items {
		ids[i] = it.ProductID
	}
	return c.Invalidate(ctx, ids...)
}

func (c *ProductCache) load(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		zctx.From(ctx).Warn("Product cache get", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		zctx.From(ctx).Warn("Product cache decode", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *ProductCache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		zctx.From(ctx).Warn("Product cache encode", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		zctx.From(ctx).Warn("Product cache set", zap.String("key", key), zap.Error(err))
	}
}
