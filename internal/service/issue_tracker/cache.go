package issue_tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "digest:search:"

type CacheOptions struct {
	TTL time.Duration
	// SkipCache bypasses reads for this tracker value only. Fresh results are
	// still written so later requests benefit.
	SkipCache bool
}

// cachedTracker memoizes SearchPage in Redis. Everything else passes through
// to the wrapped tracker.
type cachedTracker struct {
	Tracker
	client *redis.Client
	opts   CacheOptions
}

// NewCachedTracker wraps t with a search cache. A nil client or a zero TTL
// returns t unchanged.
func NewCachedTracker(t Tracker, client *redis.Client, opts CacheOptions) Tracker {
	if client == nil || opts.TTL <= 0 {
		return t
	}
	return &cachedTracker{Tracker: t, client: client, opts: opts}
}

func (c *cachedTracker) SearchPage(ctx context.Context, q Query, offset, limit int) (*SearchPage, error) {
	key, err := c.key(q, offset, limit)
	if err != nil {
		return c.Tracker.SearchPage(ctx, q, offset, limit)
	}

	if !c.opts.SkipCache {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var page SearchPage
			if jsonErr := json.Unmarshal(raw, &page); jsonErr == nil {
				return &page, nil
			}
		case !errors.Is(err, redis.Nil):
			slog.WarnContext(ctx, "search cache read failed", "error", err)
		}
	}

	page, err := c.Tracker.SearchPage(ctx, q, offset, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(page); err == nil {
		if err := c.client.Set(ctx, key, raw, c.opts.TTL).Err(); err != nil {
			slog.WarnContext(ctx, "search cache write failed", "error", err)
		}
	}
	return page, nil
}

func (c *cachedTracker) key(q Query, offset, limit int) (string, error) {
	raw, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("encoding query: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s%s:%s:%d:%d", cacheKeyPrefix, c.Name(), hex.EncodeToString(sum[:]), offset, limit), nil
}
