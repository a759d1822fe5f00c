// Package validation decides whether a draft puzzle is approved. Checks run
// cheapest first and stop spending as soon as the outcome is known.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

const (
	EmbeddingWeight = 0.4
	SolverWeight    = 0.6
	// ApprovalThreshold is the final score a puzzle must exceed.
	ApprovalThreshold = 0.6
)

// EmbeddingScorer scores a puzzle by word-vector similarity.
type EmbeddingScorer interface {
	ScoreEmbeddings(ctx context.Context, p *models.Puzzle) (*models.EmbeddingReport, error)
}

// SolverScorer scores a puzzle by model solving.
type SolverScorer interface {
	ScoreSolvability(ctx context.Context, p *models.Puzzle) (*models.SolverReport, error)
}

// Orchestrator runs structural, embedding and solver validation in order.
type Orchestrator struct {
	embedding EmbeddingScorer
	solver    SolverScorer
	logger    *zap.Logger
}

// NewOrchestrator creates a new validation orchestrator.
func NewOrchestrator(embedding EmbeddingScorer, solver SolverScorer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		embedding: embedding,
		solver:    solver,
		logger:    logger.Named("validation"),
	}
}

// Validate returns the disposition for p. Quality rejections are normal
// dispositions; an error means a validator could not run and the attempt
// should be retried.
func (o *Orchestrator) Validate(ctx context.Context, p *models.Puzzle, cfg *models.PuzzleConfig) (*models.Disposition, error) {
	start := time.Now()
	report := &models.ValidationReport{
		Warnings:        []string{},
		AutoFailReasons: []string{},
	}

	if errs := StructuralErrors(p, cfg); len(errs) > 0 {
		report.StructuralErrors = errs
		report.AutoFailReasons = append(report.AutoFailReasons, prefixed("structure", errs)...)
		report.SolverSkipped = true
		return o.finish(p, report, nil, start), nil
	}

	emb, err := o.embedding.ScoreEmbeddings(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("embedding validation: %w", err)
	}
	report.Embedding = emb
	report.Warnings = append(report.Warnings, prefixed("embedding", emb.Warnings)...)
	report.AutoFailReasons = append(report.AutoFailReasons, prefixed("embedding", emb.AutoFailReasons)...)

	if !emb.Passed {
		report.SolverSkipped = true
		report.FinalScore = EmbeddingWeight * emb.Score
		return o.finish(p, report, nil, start), nil
	}

	sol, err := o.solver.ScoreSolvability(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("solver validation: %w", err)
	}
	report.Solver = sol
	report.Warnings = append(report.Warnings, prefixed("solver", sol.Warnings)...)
	report.AutoFailReasons = append(report.AutoFailReasons, prefixed("solver", sol.AutoFailReasons)...)
	report.FinalScore = EmbeddingWeight*emb.Score + SolverWeight*sol.Score

	return o.finish(p, report, difficultyScore(sol), start), nil
}

func (o *Orchestrator) finish(p *models.Puzzle, report *models.ValidationReport, difficulty *float64, start time.Time) *models.Disposition {
	approved := len(report.AutoFailReasons) == 0 && report.FinalScore > ApprovalThreshold
	status := models.PuzzleStatusRejected
	if approved {
		status = models.PuzzleStatusApproved
	}

	o.logger.Info("Puzzle validated",
		zap.String("puzzle_id", p.ID.String()),
		zap.String("status", string(status)),
		zap.Float64("final_score", report.FinalScore),
		zap.Bool("solver_skipped", report.SolverSkipped),
		zap.Strings("auto_fail_reasons", report.AutoFailReasons),
		zap.Duration("elapsed", time.Since(start)))

	return &models.Disposition{
		Approved:        approved,
		Status:          status,
		Score:           report.FinalScore,
		DifficultyScore: difficulty,
		Report:          report,
	}
}

// difficultyScore is one minus the mean per-group solve rate: 0 when every
// blind solve found every group, 1 when none did.
func difficultyScore(sol *models.SolverReport) *float64 {
	rates := sol.SelfConsistency.PerGroupSolveRate
	if len(rates) == 0 {
		return nil
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	d := 1 - sum/float64(len(rates))
	return &d
}

// StructuralErrors checks p against the shape of cfg without any external
// calls.
func StructuralErrors(p *models.Puzzle, cfg *models.PuzzleConfig) []string {
	var errs []string
	if len(p.Groups) != cfg.GroupCount {
		errs = append(errs, fmt.Sprintf("expected %d groups, got %d", cfg.GroupCount, len(p.Groups)))
	}

	words := make(map[string]string)
	names := make(map[string]bool)
	for i, g := range p.Groups {
		name := strings.TrimSpace(g.CategoryName)
		switch {
		case name == "":
			errs = append(errs, fmt.Sprintf("group %d has no category name", i+1))
		case names[strings.ToLower(name)]:
			errs = append(errs, fmt.Sprintf("category name %q is used twice", name))
		default:
			names[strings.ToLower(name)] = true
		}

		if len(g.Words) != cfg.WordsPerGroup {
			errs = append(errs, fmt.Sprintf("group %q has %d words, expected %d", name, len(g.Words), cfg.WordsPerGroup))
		}
		for _, w := range g.Words {
			key := strings.ToLower(strings.TrimSpace(w.Word))
			if key == "" {
				errs = append(errs, fmt.Sprintf("group %q has an empty word", name))
				continue
			}
			if prev, ok := words[key]; ok {
				errs = append(errs, fmt.Sprintf("word %q appears in %q and %q", key, prev, name))
				continue
			}
			words[key] = name
		}
	}
	return errs
}

func prefixed(source string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = source + ": " + m
	}
	return out
}
