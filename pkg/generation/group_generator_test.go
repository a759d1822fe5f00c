package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

func newTestCaller(gen llm.Generator) *llm.Caller {
	return llm.NewCaller(gen, nil, nil, llm.CallerConfig{
		Retry: &retry.Config{
			MaxRetries:       2,
			InitialDelay:     time.Millisecond,
			MaxDelay:         2 * time.Millisecond,
			Multiplier:       2.0,
			MaxSameErrorType: 5,
		},
		CallTimeout: time.Second,
	}, nil, zap.NewNop())
}

func groupResponse(name string, words, candidates []string) llm.StageHandler {
	return func(req llm.StructuredRequest) (any, error) {
		return wordGroupPayload{
			DesignNotes:    "notes",
			CategoryName:   name,
			Words:          words,
			CandidateWords: candidates,
		}, nil
	}
}

func TestGenerateGroup_Success(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, groupResponse("string instruments",
		[]string{"harp", "lute", "viola", "cello"},
		[]string{"harp", "lute", "viola", "cello", "sitar", "banjo", "lyre", "bass"}))
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	group, usage, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType:   models.CategoryMembersOfSet,
		CategoryHint:   "STRING INSTRUMENTS",
		WordsPerGroup:  4,
		DifficultyRank: 2,
		GroupCount:     4,
	})
	require.NoError(t, err)
	require.NotNil(t, usage)

	assert.Equal(t, "STRING INSTRUMENTS", group.CategoryName)
	assert.Equal(t, models.TierGreen, group.Tier)
	assert.Equal(t, 2, group.DifficultyRank)
	assert.Equal(t, []string{"HARP", "LUTE", "VIOLA", "CELLO"}, group.SelectedWords)
	assert.Len(t, group.CandidateWords, 8)
	assert.Equal(t, 1, usage.Calls)

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, groupTemperature, reqs[0].Temperature)
	assert.Contains(t, reqs[0].Prompt, "PROPOSED CONCEPT: STRING INSTRUMENTS")
	assert.Contains(t, reqs[0].Prompt, "candidate_words: 8 words")
	assert.NotContains(t, reqs[0].Prompt, "Existing groups")
}

func TestGenerateGroup_PromptListsExistingGroups(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, groupResponse("FISH",
		[]string{"PIKE", "SOLE", "CARP", "TROUT"},
		[]string{"PIKE", "SOLE", "CARP", "TROUT", "PERCH"}))
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	_, _, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType: models.CategoryMembersOfSet,
		ExistingGroups: []models.CandidateGroup{
			{CategoryName: "STRING INSTRUMENTS", SelectedWords: []string{"HARP", "LUTE", "VIOLA", "BASS"}},
		},
		WordsPerGroup:  4,
		DifficultyRank: 1,
		GroupCount:     4,
	})
	require.NoError(t, err)

	prompt := gen.Requests()[0].Prompt
	assert.Contains(t, prompt, "STRING INSTRUMENTS: HARP, LUTE, VIOLA, BASS")
	assert.Contains(t, prompt, "confuse with an existing group")
}

func TestGenerateGroup_RemovesCategoryNameLeakage(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, groupResponse("KINDS OF BALLS",
		[]string{"BALL", "FOOT", "BASE", "HAND"},
		[]string{"FOOT", "BASE", "HAND", "SNOW", "EYE", "BALLS"}))
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	group, _, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType:   models.CategoryFillInTheBlank,
		WordsPerGroup:  4,
		DifficultyRank: 3,
		GroupCount:     4,
	})
	require.NoError(t, err)
	assert.NotContains(t, group.CandidateWords, "BALL")
	assert.NotContains(t, group.CandidateWords, "BALLS")
	assert.Equal(t, []string{"FOOT", "BASE", "HAND", "SNOW"}, group.SelectedWords)
}

func TestGenerateGroup_RepromptsMalformedOutput(t *testing.T) {
	calls := 0
	gen := llm.NewMockGenerator().OnStage(StageGroup, func(req llm.StructuredRequest) (any, error) {
		calls++
		if calls == 1 {
			return wordGroupPayload{CategoryName: "FISH", Words: []string{"PIKE", "SOLE", "CARP"}, CandidateWords: []string{"PIKE"}}, nil
		}
		return wordGroupPayload{
			CategoryName:   "FISH",
			Words:          []string{"PIKE", "SOLE", "CARP", "TROUT"},
			CandidateWords: []string{"PIKE", "SOLE", "CARP", "TROUT", "PERCH"},
		}, nil
	})
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	group, usage, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType: models.CategoryMembersOfSet, WordsPerGroup: 4, DifficultyRank: 1, GroupCount: 4,
	})
	require.NoError(t, err)
	assert.Len(t, group.SelectedWords, 4)
	assert.Equal(t, 2, usage.Calls)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, strings.Contains(reqs[1].Prompt, "YOUR PREVIOUS RESPONSE WAS REJECTED: words: expected 4, got 3"))
}

func TestGenerateGroup_ExhaustionIsGenerationUnavailable(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, groupResponse("FISH", []string{"PIKE"}, nil))
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	_, usage, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType: models.CategoryMembersOfSet, WordsPerGroup: 4, DifficultyRank: 1, GroupCount: 4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationUnavailable))
	assert.Equal(t, llm.ErrorTypeMalformed, llm.GetErrorType(err))
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, 3, usage.Calls)
}

func TestGenerateGroup_CallTimeoutsAreGenerationUnavailable(t *testing.T) {
	gen := llm.NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	caller := llm.NewCaller(gen, nil, nil, llm.CallerConfig{
		Retry: &retry.Config{
			MaxRetries:       2,
			InitialDelay:     time.Millisecond,
			MaxDelay:         2 * time.Millisecond,
			Multiplier:       2.0,
			MaxSameErrorType: 5,
		},
		CallTimeout: 20 * time.Millisecond,
	}, nil, zap.NewNop())
	g := NewGroupGenerator(caller, 0, zap.NewNop())

	_, _, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType: models.CategoryMembersOfSet, WordsPerGroup: 4, DifficultyRank: 1, GroupCount: 4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationUnavailable))
	assert.Equal(t, llm.ErrorTypeTimeout, llm.GetErrorType(err))
	assert.Equal(t, 3, gen.Calls())
}

func TestGenerateGroup_CallerCancellationPassesThrough(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, groupResponse("FISH", []string{"PIKE"}, nil))
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, _, err := g.GenerateGroup(ctx, GroupRequest{
		CategoryType: models.CategoryMembersOfSet, WordsPerGroup: 4, DifficultyRank: 1, GroupCount: 4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, apperrors.ErrGenerationUnavailable))
}

func TestGenerateGroup_PermanentErrorStopsImmediately(t *testing.T) {
	gen := llm.NewMockGenerator().OnStage(StageGroup, func(req llm.StructuredRequest) (any, error) {
		return nil, llm.ClassifyStatus(401, errors.New("bad key"))
	})
	g := NewGroupGenerator(newTestCaller(gen), 0, zap.NewNop())

	_, _, err := g.GenerateGroup(t.Context(), GroupRequest{
		CategoryType: models.CategoryMembersOfSet, WordsPerGroup: 4, DifficultyRank: 1, GroupCount: 4,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrGenerationUnavailable))
	assert.Equal(t, 1, gen.Calls())
}

func TestGenerateGroup_RejectsBadRequest(t *testing.T) {
	g := NewGroupGenerator(newTestCaller(llm.NewMockGenerator()), 0, zap.NewNop())

	_, _, err := g.GenerateGroup(t.Context(), GroupRequest{CategoryType: models.CategorySynonyms, WordsPerGroup: 1})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfig))

	_, _, err = g.GenerateGroup(t.Context(), GroupRequest{CategoryType: "riddles", WordsPerGroup: 4})
	assert.True(t, errors.Is(err, apperrors.ErrInvalidConfig))
}
