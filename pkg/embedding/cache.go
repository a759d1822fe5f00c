package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
)

const cacheKeyPrefix = "puzzle-engine:emb:"

// CachedEmbedder memoizes embeddings in Redis. Embeddings are a pure
// function of (model, word), so entries never need invalidation beyond TTL.
// Redis failures degrade to uncached calls.
type CachedEmbedder struct {
	inner  llm.Embedder
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedEmbedder wraps inner with a Redis cache. A nil client returns
// inner unchanged.
func NewCachedEmbedder(inner llm.Embedder, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) llm.Embedder {
	if rdb == nil {
		return inner
	}
	return &CachedEmbedder{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.Named("embedding-cache"),
	}
}

// Embed implements llm.Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(inputs))
	for i, in := range inputs {
		keys[i] = c.key(in)
	}

	out := make([][]float32, len(inputs))
	var missing []int

	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("Embedding cache read failed", zap.Error(err))
		cached = nil
	}
	for i := range inputs {
		if cached != nil {
			if s, ok := cached[i].(string); ok {
				if v, ok := decodeVector([]byte(s)); ok {
					out[i] = v
					continue
				}
			}
		}
		missing = append(missing, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = inputs[i]
	}
	fresh, err := c.inner.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fresh), len(batch))
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missing {
		out[i] = fresh[j]
		pipe.Set(ctx, keys[i], encodeVector(fresh[j]), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	c.logger.Debug("Embedding cache lookup",
		zap.Int("hits", len(inputs)-len(missing)),
		zap.Int("misses", len(missing)))

	return out, nil
}

// GetModel implements llm.Embedder.
func (c *CachedEmbedder) GetModel() string {
	return c.inner.GetModel()
}

func (c *CachedEmbedder) key(input string) string {
	sum := sha256.Sum256([]byte(input))
	return cacheKeyPrefix + c.inner.GetModel() + ":" + hex.EncodeToString(sum[:16])
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, bool) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, true
}

var _ llm.Embedder = (*CachedEmbedder)(nil)
