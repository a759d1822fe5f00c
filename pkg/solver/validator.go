// Package solver judges a puzzle by having a reasoning model solve it:
// repeated blind solves, an adversarial search for alternative groupings
// and a zero-temperature calibration solve.
package solver

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

const (
	// TrivialAgreement is the agreement rate above which a too-easy puzzle fails.
	TrivialAgreement = 0.9
	// MinAgreement is the agreement rate below which a puzzle is unsolvable.
	MinAgreement = 0.1
)

// Config controls the solver validator.
type Config struct {
	Attempts    int     // Self-consistency solves (default 8)
	Temperature float32 // Self-consistency temperature (default 0.8)
	MaxTokens   int
}

// DefaultConfig returns the recommended settings.
func DefaultConfig() Config {
	return Config{Attempts: 8, Temperature: 0.8, MaxTokens: 2048}
}

// Validator runs solver-based checks through a shared Caller.
type Validator struct {
	caller *llm.Caller
	pool   *llm.WorkerPool
	cfg    Config
	logger *zap.Logger
	seed   func() int64
}

// NewValidator creates a solver validator. Self-consistency solves run
// concurrently through pool.
func NewValidator(caller *llm.Caller, pool *llm.WorkerPool, cfg Config, logger *zap.Logger) *Validator {
	def := DefaultConfig()
	if cfg.Attempts < 1 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Validator{
		caller: caller,
		pool:   pool,
		cfg:    cfg,
		logger: logger.Named("solver-validator"),
		seed:   func() int64 { return time.Now().UnixNano() },
	}
}

type puzzleView struct {
	words         []string
	intended      [][]string
	names         []string
	intendedIndex map[string]int
	groupCount    int
	wordsPerGroup int
}

func newPuzzleView(p *models.Puzzle) puzzleView {
	v := puzzleView{
		intendedIndex: make(map[string]int, len(p.Groups)),
		groupCount:    len(p.Groups),
	}
	for i, g := range p.Groups {
		words := g.WordList()
		v.intended = append(v.intended, words)
		v.names = append(v.names, g.CategoryName)
		v.intendedIndex[groupKey(words)] = i
		v.words = append(v.words, words...)
		if i == 0 {
			v.wordsPerGroup = len(words)
		}
	}
	return v
}

// ScoreSolvability runs all solver checks. A failed adversarial or
// calibration call degrades only its sub-score. If no self-consistency solve
// succeeds the puzzle cannot be judged and an error is returned.
func (v *Validator) ScoreSolvability(ctx context.Context, p *models.Puzzle) (*models.SolverReport, error) {
	start := time.Now()
	view := newPuzzleView(p)
	if view.groupCount == 0 || view.wordsPerGroup == 0 {
		return nil, fmt.Errorf("puzzle has no words to solve")
	}

	report := &models.SolverReport{
		Warnings:        []string{},
		AutoFailReasons: []string{},
	}

	report.SelfConsistency = v.selfConsistency(ctx, view)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if report.SelfConsistency.Succeeded == 0 {
		return nil, fmt.Errorf("%w: all %d solve attempts failed", apperrors.ErrGenerationUnavailable, report.SelfConsistency.Attempts)
	}
	if report.SelfConsistency.Failed > 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("%d of %d solve attempts failed and count as non-matching", report.SelfConsistency.Failed, report.SelfConsistency.Attempts))
	}

	report.Adversarial = v.adversarial(ctx, view)
	switch {
	case report.Adversarial.Error != "":
		report.Warnings = append(report.Warnings, "adversarial check unavailable: "+report.Adversarial.Error)
	case report.Adversarial.AlternativeFound:
		report.AutoFailReasons = append(report.AutoFailReasons, "an equally valid alternative grouping exists")
	}

	report.Calibration = v.calibrate(ctx, view)
	if report.Calibration.Error != "" {
		report.Warnings = append(report.Warnings, "calibration unavailable: "+report.Calibration.Error)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agreement := report.SelfConsistency.AgreementRate
	if agreement > TrivialAgreement && report.Calibration.Verdict == models.CalibrationTooEasy {
		report.AutoFailReasons = append(report.AutoFailReasons,
			fmt.Sprintf("puzzle is trivial: agreement %.2f and solved at temperature 0", agreement))
	}
	if agreement < MinAgreement {
		report.AutoFailReasons = append(report.AutoFailReasons,
			fmt.Sprintf("puzzle is unsolvable or ambiguous: agreement %.2f", agreement))
	}

	report.Score = scoreReport(report)
	report.Passed = len(report.AutoFailReasons) == 0

	v.logger.Info("Solver validation complete",
		zap.String("puzzle_id", p.ID.String()),
		zap.Bool("passed", report.Passed),
		zap.Float64("score", report.Score),
		zap.Float64("agreement", agreement),
		zap.String("calibration", string(report.Calibration.Verdict)),
		zap.Bool("alternative_found", report.Adversarial.AlternativeFound),
		zap.Duration("elapsed", time.Since(start)))

	return report, nil
}

func (v *Validator) solveRequest(stage string, words []string, view puzzleView, temperature float32) llm.StructuredRequest {
	return llm.StructuredRequest{
		Stage:       stage,
		System:      solverSystem,
		Prompt:      solvePrompt(words, view.groupCount, view.wordsPerGroup),
		Schema:      solutionSchema,
		Temperature: temperature,
		MaxTokens:   v.cfg.MaxTokens,
	}
}

func (v *Validator) shapeValidator(view puzzleView) llm.Validator[solution] {
	return func(s solution) error {
		return checkShape(solutionGroups(s), view.words, view.groupCount, view.wordsPerGroup)
	}
}

func (v *Validator) selfConsistency(ctx context.Context, view puzzleView) models.SelfConsistencyResult {
	items := make([]llm.WorkItem[solution], v.cfg.Attempts)
	for i := range items {
		rng := rand.New(rand.NewSource(v.seed() + int64(i)))
		shuffled := append([]string(nil), view.words...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		req := v.solveRequest(StageSolve, shuffled, view, v.cfg.Temperature)
		items[i] = llm.WorkItem[solution]{
			ID: fmt.Sprintf("solve-%d", i+1),
			Execute: func(ctx context.Context) (solution, error) {
				s, _, err := llm.Call(ctx, v.caller, req, v.shapeValidator(view))
				return s, err
			},
		}
	}

	results := llm.Process(ctx, v.pool, items, nil)

	res := models.SelfConsistencyResult{
		Attempts:          v.cfg.Attempts,
		PerGroupSolveRate: make([]float64, view.groupCount),
	}
	solvedCounts := make([]int, view.groupCount)
	wrong := make(map[string]int)
	wrongWords := make(map[string][]string)

	for _, r := range results {
		if r.Err != nil {
			res.Failed++
			v.logger.Warn("Solve attempt failed", zap.String("id", r.ID), zap.Error(r.Err))
			continue
		}
		res.Succeeded++
		correct := 0
		for _, g := range solutionGroups(r.Result) {
			key := groupKey(g)
			if idx, ok := view.intendedIndex[key]; ok {
				solvedCounts[idx]++
				correct++
				continue
			}
			wrong[key]++
			if _, ok := wrongWords[key]; !ok {
				norm := make([]string, len(g))
				for i, w := range g {
					norm[i] = normalizeWord(w)
				}
				sort.Strings(norm)
				wrongWords[key] = norm
			}
		}
		if correct == view.groupCount {
			res.ExactMatches++
		}
	}

	res.AgreementRate = float64(res.ExactMatches) / float64(res.Attempts)
	for i, c := range solvedCounts {
		res.PerGroupSolveRate[i] = float64(c) / float64(res.Attempts)
	}

	var bestKey string
	for key, n := range wrong {
		if n > res.WrongGroupCount || (n == res.WrongGroupCount && key < bestKey) {
			bestKey, res.WrongGroupCount = key, n
		}
	}
	if bestKey != "" {
		res.MostCommonWrongGroup = wrongWords[bestKey]
	}
	return res
}

func (v *Validator) adversarial(ctx context.Context, view puzzleView) models.AdversarialResult {
	req := llm.StructuredRequest{
		Stage:       StageAdversarial,
		System:      solverSystem,
		Prompt:      adversarialPrompt(view.intended, view.names),
		Schema:      alternativeSchema,
		Temperature: 0.3,
		MaxTokens:   v.cfg.MaxTokens,
	}
	check, _, err := llm.Call[alternativeCheck](ctx, v.caller, req, nil)
	if err != nil {
		v.logger.Warn("Adversarial check failed", zap.Error(err))
		return models.AdversarialResult{Error: err.Error()}
	}

	res := models.AdversarialResult{Checked: true, Reasoning: check.Reasoning}
	if !check.AlternativeExists {
		return res
	}

	if err := checkShape(check.AlternativeGroups, view.words, view.groupCount, view.wordsPerGroup); err != nil {
		res.Reasoning = fmt.Sprintf("claimed alternative discarded (%v): %s", err, check.Reasoning)
		return res
	}
	if countCorrect(check.AlternativeGroups, view.intendedIndex) == view.groupCount {
		res.Reasoning = "claimed alternative is the intended grouping: " + check.Reasoning
		return res
	}

	res.AlternativeFound = true
	res.Alternative = check.AlternativeGroups
	return res
}

func (v *Validator) calibrate(ctx context.Context, view puzzleView) models.CalibrationResult {
	req := v.solveRequest(StageCalibrate, view.words, view, 0)
	s, _, err := llm.Call(ctx, v.caller, req, v.shapeValidator(view))
	if err != nil {
		v.logger.Warn("Calibration solve failed", zap.Error(err))
		return models.CalibrationResult{Verdict: models.CalibrationUnknown, Error: err.Error()}
	}

	correct := countCorrect(solutionGroups(s), view.intendedIndex)
	return models.CalibrationResult{
		Checked:       true,
		GroupsCorrect: correct,
		Verdict:       calibrationVerdict(correct, view.groupCount),
	}
}

// calibrationVerdict generalizes "2-3 of 4 correct is appropriate".
func calibrationVerdict(correct, groupCount int) models.CalibrationVerdict {
	switch {
	case correct >= groupCount:
		return models.CalibrationTooEasy
	case correct >= (groupCount+1)/2:
		return models.CalibrationAppropriate
	default:
		return models.CalibrationHard
	}
}

var calibrationComponent = map[models.CalibrationVerdict]float64{
	models.CalibrationAppropriate: 1.0,
	models.CalibrationHard:        0.5,
	models.CalibrationTooEasy:     0.2,
	models.CalibrationUnknown:     0.5,
}

// scoreReport weights agreement quality (peaking at 50% agreement), the
// absence of an alternative grouping and calibration.
func scoreReport(r *models.SolverReport) float64 {
	agreementQuality := math.Max(0, 1-math.Abs(r.SelfConsistency.AgreementRate-0.5)*2)

	noAlternative := 0.5
	if r.Adversarial.Checked {
		noAlternative = 1
		if r.Adversarial.AlternativeFound {
			noAlternative = 0
		}
	}

	cal, ok := calibrationComponent[r.Calibration.Verdict]
	if !ok {
		cal = calibrationComponent[models.CalibrationUnknown]
	}

	return 0.5*agreementQuality + 0.3*noAlternative + 0.2*cal
}
