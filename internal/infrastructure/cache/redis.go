// Package cache keeps session summaries in Redis in front of a slower
// summary store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
)

const (
	keyPrefix = "taskstream:summary:"

	// generationTTL bounds how long an idle session's generation counter lives.
	generationTTL = 24 * time.Hour
)

// errStaleFill aborts a fill that an invalidation overtook.
var errStaleFill = errors.New("summary invalidated during fill")

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Connect opens a client and checks the server responds.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Stats counts cache lookups.
type Stats struct {
	Hits   int64
	Misses int64
}

// SummaryCache is a read-through cache over a summary store. Redis errors
// degrade to the inner store and are only logged.
//
// Every invalidation bumps a per-session generation counter. A fill only
// lands if the counter still holds the value seen before the inner store was
// read, so a slow reader cannot put back a summary older than the last save.
type SummaryCache struct {
	client *redis.Client
	inner  projection.SummaryStore
	ttl    time.Duration
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

var (
	_ projection.SummaryStore = (*SummaryCache)(nil)
	_ application.Invalidator = (*SummaryCache)(nil)
)

// NewSummaryCache wraps inner. A zero ttl keeps entries until invalidated.
func NewSummaryCache(client *redis.Client, inner projection.SummaryStore, ttl time.Duration, logger *slog.Logger) *SummaryCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryCache{client: client, inner: inner, ttl: ttl, logger: logger}
}

func key(id string) string { return keyPrefix + id }

func genKey(id string) string { return keyPrefix + id + ":gen" }

// GetSummary serves from Redis and fills it from the inner store on a miss.
func (c *SummaryCache) GetSummary(ctx context.Context, id string) (projection.SessionSummary, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		var sum projection.SessionSummary
		if err := json.Unmarshal(data, &sum); err == nil {
			c.hits.Add(1)
			return sum, true, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "session", id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("redis get failed", "session", id, "error", err)
	}
	c.misses.Add(1)

	gen, fillable := c.generation(ctx, id)
	sum, ok, err := c.inner.GetSummary(ctx, id)
	if err != nil || !ok {
		return sum, ok, err
	}
	if fillable {
		c.fill(ctx, sum, gen)
	}
	return sum, true, nil
}

// SaveSummary writes through to the inner store and drops the cached copy.
func (c *SummaryCache) SaveSummary(ctx context.Context, sum projection.SessionSummary) error {
	if err := c.inner.SaveSummary(ctx, sum); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, sum.ID); err != nil {
		c.logger.Warn("redis invalidate failed", "session", sum.ID, "error", err)
	}
	return nil
}

// ListSummaries always reads the inner store.
func (c *SummaryCache) ListSummaries(ctx context.Context) ([]projection.SessionSummary, error) {
	return c.inner.ListSummaries(ctx)
}

// Invalidate removes the cached summary of a session and fences off fills
// that started before it.
func (c *SummaryCache) Invalidate(ctx context.Context, sessionID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(sessionID))
		pipe.Expire(ctx, genKey(sessionID), generationTTL)
		pipe.Del(ctx, key(sessionID))
		return nil
	})
	return err
}

// Stats returns hit and miss counts.
func (c *SummaryCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close closes the Redis connection.
func (c *SummaryCache) Close() error {
	return c.client.Close()
}

// generation reads the session's invalidation counter. It reports false when
// Redis cannot be read and the caller should not fill.
func (c *SummaryCache) generation(ctx context.Context, id string) (int64, bool) {
	gen, err := c.client.Get(ctx, genKey(id)).Int64()
	switch {
	case err == nil:
		return gen, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		c.logger.Warn("redis generation read failed", "session", id, "error", err)
		return 0, false
	}
}

func (c *SummaryCache) fill(ctx context.Context, sum projection.SessionSummary, gen int64) {
	data, err := json.Marshal(sum)
	if err != nil {
		c.logger.Warn("marshal summary for cache", "session", sum.ID, "error", err)
		return
	}

	gk := genKey(sum.ID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(sum.ID), data, c.ttl)
			return nil
		})
		return err
	}, gk)

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.logger.Debug("cache fill overtaken by invalidation", "session", sum.ID)
	default:
		c.logger.Warn("redis set failed", "session", sum.ID, "error", err)
	}
}
