package solver

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

var intended = [][]string{
	{"bass", "pike", "carp", "sole"},
	{"drum", "harp", "horn", "lute"},
	{"boot", "clog", "pump", "mule"},
	{"foot", "snow", "base", "hand"},
}

// swapped moves "bass" and "drum" between the first two groups.
var swapped = [][]string{
	{"drum", "pike", "carp", "sole"},
	{"bass", "harp", "horn", "lute"},
	{"boot", "clog", "pump", "mule"},
	{"foot", "snow", "base", "hand"},
}

func testPuzzle() *models.Puzzle {
	p := &models.Puzzle{ID: uuid.New()}
	names := []string{"Fish", "Instruments", "Shoes", "___ball"}
	for i, words := range intended {
		g := models.PuzzleGroup{CategoryName: names[i], DifficultyRank: i + 1, SortOrder: i}
		for _, w := range words {
			g.Words = append(g.Words, models.PuzzleWord{Word: w})
		}
		p.Groups = append(p.Groups, g)
	}
	return p
}

func toSolution(groups [][]string) solution {
	s := solution{}
	for _, g := range groups {
		s.Groups = append(s.Groups, solvedGroup{Words: g, Connection: "?"})
	}
	return s
}

// solveAnswers returns a handler answering the first exact calls with the
// intended grouping and the rest with the swapped one.
func solveAnswers(exact int) llm.StageHandler {
	var n atomic.Int32
	return func(req llm.StructuredRequest) (any, error) {
		if int(n.Add(1)) <= exact {
			return toSolution(intended), nil
		}
		return toSolution(swapped), nil
	}
}

func noAlternative(req llm.StructuredRequest) (any, error) {
	return alternativeCheck{AlternativeExists: false, Reasoning: "each group is tight"}, nil
}

func calibrateWith(groups [][]string) llm.StageHandler {
	return func(req llm.StructuredRequest) (any, error) {
		return toSolution(groups), nil
	}
}

func newTestValidator(gen llm.Generator, attempts int) *Validator {
	caller := llm.NewCaller(gen, nil, nil, llm.CallerConfig{
		Retry: &retry.Config{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1.0,
		},
		CallTimeout: time.Second,
	}, nil, zap.NewNop())
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: 4}, zap.NewNop())
	return NewValidator(caller, pool, Config{Attempts: attempts}, zap.NewNop())
}

func TestScoreSolvability_BalancedPuzzlePasses(t *testing.T) {
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, solveAnswers(4)).
		OnStage(StageAdversarial, noAlternative).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 8)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.True(t, report.Passed, "auto-fail: %v", report.AutoFailReasons)
	assert.Equal(t, 8, gen.CallsForStage(StageSolve))
	assert.Equal(t, 1, gen.CallsForStage(StageAdversarial))
	assert.Equal(t, 1, gen.CallsForStage(StageCalibrate))

	sc := report.SelfConsistency
	assert.Equal(t, 8, sc.Succeeded)
	assert.Equal(t, 4, sc.ExactMatches)
	assert.InDelta(t, 0.5, sc.AgreementRate, 1e-9)
	assert.Equal(t, []float64{0.5, 0.5, 1, 1}, sc.PerGroupSolveRate)
	assert.Equal(t, []string{"bass", "harp", "horn", "lute"}, sc.MostCommonWrongGroup)
	assert.Equal(t, 4, sc.WrongGroupCount)

	assert.Equal(t, models.CalibrationAppropriate, report.Calibration.Verdict)
	assert.Equal(t, 2, report.Calibration.GroupsCorrect)
	assert.InDelta(t, 1.0, report.Score, 1e-9)
}

func TestScoreSolvability_SolvePromptWithholdsGrouping(t *testing.T) {
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, solveAnswers(8)).
		OnStage(StageAdversarial, noAlternative).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 2)

	_, err := v.ScoreSolvability(t.Context(), testPuzzle())
	require.NoError(t, err)

	for _, req := range gen.Requests() {
		if req.Stage == StageSolve {
			assert.NotContains(t, req.Prompt, "Instruments")
			assert.InDelta(t, 0.8, req.Temperature, 1e-6)
		}
		if req.Stage == StageCalibrate {
			assert.Equal(t, float32(0), req.Temperature)
		}
	}
}

func TestScoreSolvability_TrivialAgreementBoundary(t *testing.T) {
	tests := []struct {
		name     string
		exact    int
		trivial  bool
		attempts int
	}{
		{"agreement 0.9 is not above the threshold", 9, false, 10},
		{"agreement 1.0 with too-easy calibration", 10, true, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := llm.NewMockGenerator().
				OnStage(StageSolve, solveAnswers(tt.exact)).
				OnStage(StageAdversarial, noAlternative).
				OnStage(StageCalibrate, calibrateWith(intended))
			v := newTestValidator(gen, tt.attempts)

			report, err := v.ScoreSolvability(t.Context(), testPuzzle())

			require.NoError(t, err)
			assert.Equal(t, models.CalibrationTooEasy, report.Calibration.Verdict)
			assert.Equal(t, !tt.trivial, report.Passed, "auto-fail: %v", report.AutoFailReasons)
		})
	}
}

func TestScoreSolvability_LowAgreementFails(t *testing.T) {
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, solveAnswers(0)).
		OnStage(StageAdversarial, noAlternative).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 8)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.AutoFailReasons, 1)
	assert.Contains(t, report.AutoFailReasons[0], "unsolvable")
}

func TestScoreSolvability_ConfirmedAlternativeFails(t *testing.T) {
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, solveAnswers(4)).
		OnStage(StageAdversarial, func(req llm.StructuredRequest) (any, error) {
			return alternativeCheck{AlternativeExists: true, AlternativeGroups: swapped, Reasoning: "bass is also an instrument"}, nil
		}).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 8)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.True(t, report.Adversarial.AlternativeFound)
	assert.Equal(t, swapped, report.Adversarial.Alternative)
	assert.Contains(t, report.AutoFailReasons, "an equally valid alternative grouping exists")
	assert.InDelta(t, 0.7, report.Score, 1e-9)
}

func TestScoreSolvability_InvalidAlternativeDiscarded(t *testing.T) {
	incomplete := [][]string{
		{"bass", "drum", "harp", "horn"},
		{"lute", "pike", "carp", "sole"},
		{"boot", "clog", "pump", "mule"},
		{"foot", "snow", "base", "bass"},
	}
	tests := []struct {
		name string
		alt  [][]string
	}{
		{"reuses a word", incomplete},
		{"same as intended", intended},
		{"wrong shape", intended[:3]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := llm.NewMockGenerator().
				OnStage(StageSolve, solveAnswers(4)).
				OnStage(StageAdversarial, func(req llm.StructuredRequest) (any, error) {
					return alternativeCheck{AlternativeExists: true, AlternativeGroups: tt.alt}, nil
				}).
				OnStage(StageCalibrate, calibrateWith(swapped))
			v := newTestValidator(gen, 8)

			report, err := v.ScoreSolvability(t.Context(), testPuzzle())

			require.NoError(t, err)
			assert.True(t, report.Adversarial.Checked)
			assert.False(t, report.Adversarial.AlternativeFound)
			assert.True(t, report.Passed)
		})
	}
}

func TestScoreSolvability_FailedSubChecksDegradeScore(t *testing.T) {
	permanent := func(req llm.StructuredRequest) (any, error) {
		return nil, llm.NewError(llm.ErrorTypeRequest, "rejected", false, nil)
	}
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, solveAnswers(4)).
		OnStage(StageAdversarial, permanent).
		OnStage(StageCalibrate, permanent)
	v := newTestValidator(gen, 8)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.False(t, report.Adversarial.Checked)
	assert.NotEmpty(t, report.Adversarial.Error)
	assert.Equal(t, models.CalibrationUnknown, report.Calibration.Verdict)
	assert.Len(t, report.Warnings, 2)
	// 0.5*1 + 0.3*0.5 + 0.2*0.5
	assert.InDelta(t, 0.75, report.Score, 1e-9)
}

func TestScoreSolvability_PartialSolveFailures(t *testing.T) {
	var n atomic.Int32
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, func(req llm.StructuredRequest) (any, error) {
			if n.Add(1) <= 2 {
				return nil, llm.NewError(llm.ErrorTypeRequest, "rejected", false, nil)
			}
			return toSolution(intended), nil
		}).
		OnStage(StageAdversarial, noAlternative).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 8)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.Equal(t, 2, report.SelfConsistency.Failed)
	assert.Equal(t, 6, report.SelfConsistency.ExactMatches)
	assert.InDelta(t, 0.75, report.SelfConsistency.AgreementRate, 1e-9, "failed attempts count as non-matching")
}

func TestScoreSolvability_AllSolvesFailed(t *testing.T) {
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, func(req llm.StructuredRequest) (any, error) {
			return nil, errors.New("connection refused")
		})
	v := newTestValidator(gen, 4)

	_, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrGenerationUnavailable)
	assert.Equal(t, 0, gen.CallsForStage(StageAdversarial))
}

func TestScoreSolvability_MisshapenSolveIsRetried(t *testing.T) {
	var n atomic.Int32
	gen := llm.NewMockGenerator().
		OnStage(StageSolve, func(req llm.StructuredRequest) (any, error) {
			if n.Add(1) == 1 {
				return toSolution(intended[:3]), nil
			}
			return toSolution(intended), nil
		}).
		OnStage(StageAdversarial, noAlternative).
		OnStage(StageCalibrate, calibrateWith(swapped))
	v := newTestValidator(gen, 1)

	report, err := v.ScoreSolvability(t.Context(), testPuzzle())

	require.NoError(t, err)
	assert.Equal(t, 1, report.SelfConsistency.ExactMatches)
	assert.Equal(t, 2, gen.CallsForStage(StageSolve))
}

func TestCalibrationVerdict(t *testing.T) {
	tests := []struct {
		correct, groups int
		want            models.CalibrationVerdict
	}{
		{4, 4, models.CalibrationTooEasy},
		{3, 4, models.CalibrationAppropriate},
		{2, 4, models.CalibrationAppropriate},
		{1, 4, models.CalibrationHard},
		{0, 4, models.CalibrationHard},
		{2, 3, models.CalibrationAppropriate},
		{1, 3, models.CalibrationHard},
		{3, 5, models.CalibrationAppropriate},
		{2, 5, models.CalibrationHard},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, calibrationVerdict(tt.correct, tt.groups), "%d of %d", tt.correct, tt.groups)
	}
}
