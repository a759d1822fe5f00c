package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// StageError reports which composer stage failed. No partial puzzle is ever
// returned alongside it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("compose %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// composeState is the value passed between stages. Stages never mutate the
// slices or map they receive; they replace them.
type composeState struct {
	config    models.PuzzleConfig
	themeHint string
	tiers     []models.DifficultyTier

	seedWords  []string
	seedStory  string
	candidates []models.CategoryDescriptor
	selected   []models.CategoryDescriptor
	groups     []models.CandidateGroup
	herrings   *models.RedHerringAnalysis

	usage   llm.Usage
	outputs map[string]json.RawMessage
}

// withOutput returns a copy of s with the stage's raw output recorded.
func (s composeState) withOutput(stage string, v any) composeState {
	raw, err := json.Marshal(v)
	if err != nil {
		return s
	}
	outputs := make(map[string]json.RawMessage, len(s.outputs)+1)
	maps.Copy(outputs, s.outputs)
	outputs[stage] = raw
	s.outputs = outputs
	return s
}

func (s composeState) withUsage(u llm.Usage) composeState {
	s.usage.Add(u)
	return s
}

func cloneGroups(groups []models.CandidateGroup) []models.CandidateGroup {
	out := make([]models.CandidateGroup, len(groups))
	for i, g := range groups {
		out[i] = g.Clone()
	}
	return out
}

type stageFunc func(ctx context.Context, s composeState) (composeState, error)

// Composer runs the staged generation of one candidate puzzle.
type Composer struct {
	caller    *llm.Caller
	groups    *GroupGenerator
	embedder  llm.Embedder
	maxTokens int
	logger    *zap.Logger
}

// NewComposer creates a Composer. embedder is used to re-score refinement
// swaps; when nil, swaps are checked by the word rules only.
func NewComposer(caller *llm.Caller, groups *GroupGenerator, embedder llm.Embedder, maxTokens int, logger *zap.Logger) *Composer {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Composer{
		caller:    caller,
		groups:    groups,
		embedder:  embedder,
		maxTokens: maxTokens,
		logger:    logger.Named("composer"),
	}
}

// Compose runs Seed, Brainstorm, Build, Refine and Assemble in order. Any
// stage failure aborts the attempt with a *StageError.
func (c *Composer) Compose(ctx context.Context, cfg *models.PuzzleConfig, themeHint string) (*models.CandidatePuzzle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", apperrors.ErrInvalidConfig)
	}
	shape := *cfg
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}

	start := time.Now()
	state := composeState{
		config:    shape,
		themeHint: themeHint,
		tiers:     shape.DifficultyProfile.TierSequence(shape.GroupCount),
	}

	stages := []struct {
		name string
		run  stageFunc
	}{
		{StageSeed, c.seed},
		{StageBrainstorm, c.brainstorm},
		{StageBuild, c.build},
		{StageRefine, c.refine},
		{StageAssemble, c.checkAssembly},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: st.name, Err: err}
		}
		stageStart := time.Now()
		next, err := st.run(ctx, state)
		if err != nil {
			c.logger.Warn("Compose stage failed",
				zap.String("config", shape.Name),
				zap.String("stage", st.name),
				zap.Duration("elapsed", time.Since(stageStart)),
				zap.Error(err))
			return nil, &StageError{Stage: st.name, Err: err}
		}
		state = next
		c.logger.Debug("Compose stage complete",
			zap.String("stage", st.name),
			zap.Int("calls_so_far", state.usage.Calls),
			zap.Duration("elapsed", time.Since(stageStart)))
	}

	puzzle := c.assemble(state)
	c.logger.Info("Composed candidate puzzle",
		zap.String("config", shape.Name),
		zap.Int("groups", len(puzzle.Groups)),
		zap.Int("calls", puzzle.Metadata.TotalCalls),
		zap.Int("input_tokens", puzzle.Metadata.InputTokens),
		zap.Int("output_tokens", puzzle.Metadata.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))
	return puzzle, nil
}
