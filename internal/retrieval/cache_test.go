package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingIndex struct {
	docs  []Document
	calls int
}

func (c *countingIndex) Search(context.Context, string, string, int) ([]Document, error) {
	c.calls++
	return c.docs, nil
}

func (c *countingIndex) Close() error { return nil }

func TestCachedIndexFallsThroughWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	inner := &countingIndex{docs: []Document{{ID: "a", Text: "x"}}}
	idx := NewCachedIndex(inner, client, time.Minute, zap.NewNop())
	defer idx.Close()

	got, err := idx.Search(context.Background(), "q", CommandsCollection, 3)
	require.NoError(t, err)
	assert.Equal(t, inner.docs, got)
	assert.Equal(t, 1, inner.calls)
}

func TestCacheKeyVariesByInputs(t *testing.T) {
	a := cacheKey("disk", CommandsCollection, 5)
	assert.Equal(t, a, cacheKey(" disk ", CommandsCollection, 5))
	assert.NotEqual(t, a, cacheKey("disk", QuerySchemaCollection, 5))
	assert.NotEqual(t, a, cacheKey("disk", CommandsCollection, 3))
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0.25]", vectorLiteral([]float32{0.5, -1, 0.25}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}
