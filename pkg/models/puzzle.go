package models

import (
	"time"

	"github.com/google/uuid"
)

// PuzzleStatus is the lifecycle state of a stored puzzle.
type PuzzleStatus string

const (
	PuzzleStatusDraft      PuzzleStatus = "draft"
	PuzzleStatusValidating PuzzleStatus = "validating"
	PuzzleStatusApproved   PuzzleStatus = "approved"
	PuzzleStatusRejected   PuzzleStatus = "rejected"
	// PuzzleStatusServed is kept for schema compatibility. Serving an approved
	// puzzle only increments TimesServed; the status stays approved.
	PuzzleStatusServed PuzzleStatus = "served"
)

// ValidPuzzleStatuses contains all puzzle statuses in lifecycle order.
var ValidPuzzleStatuses = []PuzzleStatus{
	PuzzleStatusDraft,
	PuzzleStatusValidating,
	PuzzleStatusApproved,
	PuzzleStatusRejected,
	PuzzleStatusServed,
}

// IsTerminal returns true once validation results have been recorded.
func (s PuzzleStatus) IsTerminal() bool {
	return s == PuzzleStatusApproved || s == PuzzleStatusRejected || s == PuzzleStatusServed
}

// CanTransitionTo returns true if transitioning from this status to target is valid.
func (s PuzzleStatus) CanTransitionTo(target PuzzleStatus) bool {
	switch s {
	case PuzzleStatusDraft:
		// Structural failures reject a draft without entering validation.
		return target == PuzzleStatusValidating || target == PuzzleStatusRejected
	case PuzzleStatusValidating:
		return target == PuzzleStatusApproved || target == PuzzleStatusRejected
	default:
		return false
	}
}

// Puzzle is the durable, servable unit.
type Puzzle struct {
	ID                 uuid.UUID           `json:"id"`
	ConfigID           uuid.UUID           `json:"config_id"`
	Status             PuzzleStatus        `json:"status"`
	DifficultyScore    *float64            `json:"difficulty_score,omitempty"`
	ValidationScore    *float64            `json:"validation_score,omitempty"`
	ValidationReport   *ValidationReport   `json:"validation_report,omitempty"`
	GenerationModel    string              `json:"generation_model"`
	GenerationMetadata *GenerationMetadata `json:"generation_metadata,omitempty"`
	TimesServed        int64               `json:"times_served"`
	CreatedAt          time.Time           `json:"created_at"`
	ApprovedAt         *time.Time          `json:"approved_at,omitempty"`
	Groups             []PuzzleGroup       `json:"groups,omitempty"`
}

// AllWords returns every word of the puzzle in group order.
func (p *Puzzle) AllWords() []string {
	var words []string
	for _, g := range p.Groups {
		for _, w := range g.Words {
			words = append(words, w.Word)
		}
	}
	return words
}

// PuzzleGroup is one category of a puzzle. Deleted with its puzzle.
type PuzzleGroup struct {
	ID             uuid.UUID    `json:"id"`
	PuzzleID       uuid.UUID    `json:"puzzle_id"`
	CategoryName   string       `json:"category_name"`
	CategoryType   CategoryType `json:"category_type"`
	DifficultyRank int          `json:"difficulty_rank"`
	SortOrder      int          `json:"sort_order"`
	Words          []PuzzleWord `json:"words"`
}

// WordList returns the canonical words of the group.
func (g *PuzzleGroup) WordList() []string {
	words := make([]string, len(g.Words))
	for i, w := range g.Words {
		words[i] = w.Word
	}
	return words
}

// PuzzleWord is one word of a group. Word is the canonical lowercase form.
type PuzzleWord struct {
	ID          uuid.UUID `json:"id"`
	GroupID     uuid.UUID `json:"group_id"`
	PuzzleID    uuid.UUID `json:"puzzle_id"`
	Word        string    `json:"word"`
	DisplayText *string   `json:"display_text,omitempty"`
}

// Display returns the display override if one exists, else the word itself.
func (w PuzzleWord) Display() string {
	if w.DisplayText != nil && *w.DisplayText != "" {
		return *w.DisplayText
	}
	return w.Word
}

// PoolStats reports the puzzle inventory for one config.
type PoolStats struct {
	ConfigID     uuid.UUID              `json:"config_id"`
	ByStatus     map[PuzzleStatus]int64 `json:"by_status"`
	Total        int64                  `json:"total"`
	JobsByStatus map[JobStatus]int64    `json:"jobs_by_status"`
}

// Approved returns the number of servable puzzles.
func (s *PoolStats) Approved() int64 {
	return s.ByStatus[PuzzleStatusApproved]
}

// PendingJobs returns jobs that will eventually produce a puzzle.
func (s *PoolStats) PendingJobs() int64 {
	return s.JobsByStatus[JobStatusQueued] + s.JobsByStatus[JobStatusGenerating] + s.JobsByStatus[JobStatusValidating]
}

// ServedPuzzle is the player-facing content of an allocated puzzle.
type ServedPuzzle struct {
	PuzzleID     *uuid.UUID    `json:"puzzle_id,omitempty"`
	ConfigName   string        `json:"config_name"`
	Groups       []ServedGroup `json:"groups"`
	FromFallback bool          `json:"from_fallback"`
}

// ServedGroup is one group of a served puzzle, in sort order.
type ServedGroup struct {
	CategoryName   string   `json:"category_name"`
	DifficultyRank int      `json:"difficulty_rank"`
	Words          []string `json:"words"`
}
