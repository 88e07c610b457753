package ollama

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/docs-assistant/internal/core/ports"
)

type modelNamer interface {
	ModelName() string
}

// CachedEmbedder keeps recent query embeddings in an expiring LRU. Batch
// embedding during re-index bypasses the cache.
type CachedEmbedder struct {
	next  ports.Embedder
	model string
	cache *expirable.LRU[string, []float32]
}

// WithQueryCache wraps next unless size or ttl disable caching.
func WithQueryCache(next ports.Embedder, size int, ttl time.Duration) ports.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	model := "unknown"
	if named, ok := next.(modelNamer); ok && named.ModelName() != "" {
		model = named.ModelName()
	}
	return &CachedEmbedder{
		next:  next,
		model: model,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.Embed(ctx, texts)
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		return cloneVector(cached), nil
	}
	vector, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vector))
	return vector, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + c.model + ":" + hex.EncodeToString(sum[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out
}
