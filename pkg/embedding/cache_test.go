//go:build integration

package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/testhelpers"
)

func TestCachedEmbedder_HitsSkipInnerEmbedder(t *testing.T) {
	rdb := testhelpers.GetTestRedis(t)
	ctx := context.Background()
	require.NoError(t, rdb.FlushDB(ctx).Err())

	inner := llm.NewMockEmbedder(8)
	cached := NewCachedEmbedder(inner, rdb, time.Hour, zap.NewNop())

	first, err := cached.Embed(ctx, []string{"bass", "pike"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls())

	second, err := cached.Embed(ctx, []string{"pike", "bass"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.Calls(), "second lookup is served from Redis")
	assert.Equal(t, first[0], second[1])
	assert.Equal(t, first[1], second[0])

	// Only the new word reaches the inner embedder.
	var batch []string
	inner.EmbedFunc = func(ctx context.Context, inputs []string) ([][]float32, error) {
		batch = inputs
		return [][]float32{{1, 2, 3, 4, 5, 6, 7, 8}}, nil
	}
	_, err = cached.Embed(ctx, []string{"bass", "carp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carp"}, batch)
}
