package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuantitySource provides the authoritative quantity for cache fills.
type QuantitySource interface {
	GetProduct(ctx context.Context, productID int64) (Product, error)
}

// Reader serves display-only quantity lookups from redis. Reads here may be
// a little stale; any read feeding a mutation happens inside the mutation's
// own transaction instead.
type Reader struct {
	source QuantitySource
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewReader constructs a cached reader.
func NewReader(source QuantitySource, cache *redis.Client, ttl time.Duration) *Reader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Reader{source: source, cache: cache, ttl: ttl}
}

func quantityKey(productID int64) string {
	return fmt.Sprintf("stock:qty:%d", productID)
}

// Quantity returns the cached quantity, filling the cache on miss. Concurrent
// misses for the same product collapse into one database read.
func (r *Reader) Quantity(ctx context.Context, productID int64) (int64, error) {
	key := quantityKey(productID)
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key).Result()
		if err == nil {
			return strconv.ParseInt(cached, 10, 64)
		}
		if !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("stock: cache read: %w", err)
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		product, err := r.source.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if r.cache != nil {
			_ = r.cache.Set(ctx, key, strconv.FormatInt(product.Quantity, 10), r.ttl).Err()
		}
		return product.Quantity, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Invalidate drops cached quantities after a committed mutation.
func (r *Reader) Invalidate(ctx context.Context, productIDs ...int64) {
	if r == nil || r.cache == nil || len(productIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, quantityKey(id))
	}
	_ = r.cache.Del(ctx, keys...).Err()
}
