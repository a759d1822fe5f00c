// Package embedding scores puzzles by word-vector similarity: group
// coherence, separation between groups, bridge words and whether plain
// clustering recovers the intended grouping.
package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// Validator embeds a puzzle's words and scores them.
type Validator struct {
	embedder llm.Embedder
	logger   *zap.Logger
}

// NewValidator creates a Validator backed by embedder.
func NewValidator(embedder llm.Embedder, logger *zap.Logger) *Validator {
	return &Validator{
		embedder: embedder,
		logger:   logger.Named("embedding-validator"),
	}
}

// ScoreEmbeddings embeds every word of p in one batch and scores the result.
// Ranks are mapped onto tiers relative to the puzzle's group count.
func (v *Validator) ScoreEmbeddings(ctx context.Context, p *models.Puzzle) (*models.EmbeddingReport, error) {
	start := time.Now()

	index := make(map[string]int)
	var unique []string
	for _, g := range p.Groups {
		for _, w := range g.Words {
			key := strings.ToLower(w.Word)
			if _, ok := index[key]; !ok {
				index[key] = len(unique)
				unique = append(unique, key)
			}
		}
	}

	vectors, err := v.embedder.Embed(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("embed puzzle words: %w", err)
	}
	if len(vectors) != len(unique) {
		return nil, fmt.Errorf("embed puzzle words: got %d vectors for %d words", len(vectors), len(unique))
	}

	groups := make([]Group, len(p.Groups))
	for i, g := range p.Groups {
		grp := Group{
			Name: g.CategoryName,
			Type: g.CategoryType,
			Tier: models.TierForRank(g.DifficultyRank, len(p.Groups)),
		}
		for _, w := range g.Words {
			key := strings.ToLower(w.Word)
			grp.Words = append(grp.Words, key)
			grp.Vectors = append(grp.Vectors, vectors[index[key]])
		}
		groups[i] = grp
	}

	report := Score(groups)

	v.logger.Info("Embedding validation complete",
		zap.String("puzzle_id", p.ID.String()),
		zap.Bool("passed", report.Passed),
		zap.Float64("score", report.Score),
		zap.Float64("ari", report.ClusteringARI),
		zap.Int("warnings", len(report.Warnings)),
		zap.Strings("auto_fail_reasons", report.AutoFailReasons),
		zap.Duration("elapsed", time.Since(start)))

	return report, nil
}
