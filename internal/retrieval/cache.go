package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedIndex memoizes search results in Redis. Cache failures fall
// through to the wrapped index.
type CachedIndex struct {
	next   Index
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedIndex(next Index, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedIndex {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedIndex{next: next, client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects to redisURL and verifies it with a ping.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func cacheKey(query, collection string, k int) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(query)))
	return fmt.Sprintf("lia:retrieval:%s:%d:%s", collection, k, hex.EncodeToString(sum[:]))
}

func (c *CachedIndex) Search(ctx context.Context, query, collection string, k int) ([]Document, error) {
	key := cacheKey(query, collection, k)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var docs []Document
		if jsonErr := json.Unmarshal(raw, &docs); jsonErr == nil {
			return docs, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("retrieval cache read failed", zap.Error(err))
	}

	docs, err := c.next.Search(ctx, query, collection, k)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(docs); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("retrieval cache write failed", zap.Error(err))
		}
	}
	return docs, nil
}

func (c *CachedIndex) Close() error {
	err := c.next.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
