package projection

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dashboardKey = "sentinel:dashboard:summary"

// ErrCacheMiss is returned when the dashboard snapshot is not cached.
var ErrCacheMiss = stderrors.New("cache miss")

// Cache is a Redis-backed snapshot cache for the dashboard summary. It is
// strictly an accelerator: every entry expires via TTL and is invalidated on
// write, and any Redis failure degrades to computing the summary fresh.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

// NewCacheWithClient wraps an existing client, mainly for tests.
func NewCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// GetDashboard returns the cached summary or ErrCacheMiss.
func (c *Cache) GetDashboard(ctx context.Context) (*DashboardSummary, error) {
	data, err := c.client.Get(ctx, dashboardKey).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var summary DashboardSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		// A corrupt entry behaves like a miss; the next write replaces it.
		c.logger.Warn("discarding corrupt dashboard cache entry", zap.Error(err))
		return nil, ErrCacheMiss
	}
	return &summary, nil
}

// SetDashboard stores the summary with the configured TTL.
func (c *Cache) SetDashboard(ctx context.Context, summary *DashboardSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, dashboardKey, data, c.ttl).Err()
}

// Invalidate drops the cached summary.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, dashboardKey).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}
