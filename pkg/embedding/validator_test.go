package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

func puzzleFromGroups(groups []Group) (*models.Puzzle, *llm.MockEmbedder) {
	emb := llm.NewMockEmbedder(testDim)
	p := &models.Puzzle{ID: uuid.New()}
	for i, g := range groups {
		pg := models.PuzzleGroup{
			CategoryName:   g.Name,
			CategoryType:   g.Type,
			DifficultyRank: i + 1,
			SortOrder:      i,
		}
		for w, word := range g.Words {
			pg.Words = append(pg.Words, models.PuzzleWord{Word: word})
			emb.Vectors[word] = g.Vectors[w]
		}
		p.Groups = append(p.Groups, pg)
	}
	return p, emb
}

func TestValidator_ScoreEmbeddings(t *testing.T) {
	p, emb := puzzleFromGroups(separatedGroups(models.CategoryWordplay))
	v := NewValidator(emb, zap.NewNop())

	report, err := v.ScoreEmbeddings(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 1, emb.Calls(), "all words are embedded in one batch")
	require.Len(t, report.Coherence, 4)
	assert.Equal(t, models.TierYellow, report.Coherence[0].Tier)
	assert.Equal(t, models.TierPurple, report.Coherence[3].Tier)
}

func TestValidator_ScoreEmbeddings_EmbedderError(t *testing.T) {
	p, emb := puzzleFromGroups(separatedGroups())
	emb.EmbedFunc = func(ctx context.Context, inputs []string) ([][]float32, error) {
		return nil, errors.New("embedding endpoint unavailable")
	}
	v := NewValidator(emb, zap.NewNop())

	_, err := v.ScoreEmbeddings(context.Background(), p)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed puzzle words")
}

func TestValidator_ScoreEmbeddings_RetriesTransientEmbedFailure(t *testing.T) {
	p, emb := puzzleFromGroups(separatedGroups(models.CategoryWordplay))
	healthy := llm.NewMockEmbedder(testDim)
	healthy.Vectors = emb.Vectors
	emb.EmbedFunc = func(ctx context.Context, inputs []string) ([][]float32, error) {
		if emb.Calls() == 1 {
			return nil, llm.ClassifyStatus(503, nil)
		}
		return healthy.Embed(ctx, inputs)
	}
	guarded := llm.NewGuardedEmbedder(emb, nil, nil, llm.CallerConfig{
		Retry:       &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		CallTimeout: time.Second,
	}, zap.NewNop())
	v := NewValidator(guarded, zap.NewNop())

	report, err := v.ScoreEmbeddings(context.Background(), p)

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 2, emb.Calls())
}

func TestValidator_ScoreEmbeddings_ShortResponse(t *testing.T) {
	p, emb := puzzleFromGroups(separatedGroups())
	emb.EmbedFunc = func(ctx context.Context, inputs []string) ([][]float32, error) {
		return make([][]float32, len(inputs)-1), nil
	}
	v := NewValidator(emb, zap.NewNop())

	_, err := v.ScoreEmbeddings(context.Background(), p)

	require.Error(t, err)
}

func TestNewCachedEmbedder_NilClientPassesThrough(t *testing.T) {
	inner := llm.NewMockEmbedder(8)
	assert.Same(t, inner, NewCachedEmbedder(inner, nil, time.Hour, zap.NewNop()))
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{0.25, -1.5, 3e-7}
	decoded, ok := decodeVector(encodeVector(v))
	require.True(t, ok)
	assert.Equal(t, v, decoded)

	_, ok = decodeVector([]byte{1, 2, 3})
	assert.False(t, ok)
}
