package query

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/zambia-civic-lab/orderpaper-miner/pkg/config"
	"github.com/zambia-civic-lab/orderpaper-miner/pkg/metrics"
	pkgredis "github.com/zambia-civic-lab/orderpaper-miner/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "opq:"

// Cache caches query results in Redis. Keys include the store generation,
// so any mutation naturally invalidates prior entries. Concurrent identical
// misses collapse into one execution via singleflight.
type Cache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCache wraps a Redis client; client and m may be nil, in which case
// GetOrCompute always computes.
func NewCache(client *pkgredis.Client, cfg config.RedisConfig, m *metrics.Metrics) *Cache {
	return &Cache{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *Cache) buildKey(spec *Spec, generation uint64) string {
	canonical, _ := json.Marshal(spec)
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s%d:%x", cacheKeyPrefix, generation, sum[:12])
}

func (c *Cache) get(ctx context.Context, key string) (*Result, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *Cache) set(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for (spec, generation) or computes
// and caches it. The bool reports a cache hit.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	spec *Spec,
	generation uint64,
	computeFn func() (*Result, error),
) (*Result, bool, error) {
	if c == nil || c.client == nil {
		result, err := computeFn()
		return result, false, err
	}
	key := c.buildKey(spec, generation)
	if result, ok := c.get(ctx, key); ok {
		if c.metrics != nil {
			c.metrics.CacheHitsTotal.Inc()
		}
		return result, true, nil
	}
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*Result), false, nil
}
