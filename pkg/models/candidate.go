package models

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// CategoryDescriptor is one brainstormed category before words exist.
type CategoryDescriptor struct {
	CategoryType        CategoryType   `json:"category_type"`
	CategoryName        string         `json:"category_name"`
	Tier                DifficultyTier `json:"difficulty"`
	RedHerringPotential string         `json:"red_herring_potential"`
}

// CandidateGroup is a generated group that has not been persisted.
// CandidateWords is the oversampled pool; SelectedWords is the final list.
type CandidateGroup struct {
	CategoryName   string         `json:"category_name"`
	CategoryType   CategoryType   `json:"category_type"`
	Tier           DifficultyTier `json:"difficulty"`
	CandidateWords []string       `json:"candidate_words"`
	SelectedWords  []string       `json:"selected_words"`
	DifficultyRank int            `json:"difficulty_rank"`
	DesignNotes    string         `json:"design_notes,omitempty"`
}

// Clone returns a deep copy so stages never share slices.
func (g CandidateGroup) Clone() CandidateGroup {
	g.CandidateWords = append([]string(nil), g.CandidateWords...)
	g.SelectedWords = append([]string(nil), g.SelectedWords...)
	return g
}

// HasSelected reports whether word is in SelectedWords, ignoring case.
func (g *CandidateGroup) HasSelected(word string) bool {
	for _, w := range g.SelectedWords {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// HasCandidate reports whether word is in the candidate pool, ignoring case.
func (g *CandidateGroup) HasCandidate(word string) bool {
	for _, w := range g.CandidateWords {
		if strings.EqualFold(w, word) {
			return true
		}
	}
	return false
}

// WordSwap is one refinement replacement.
type WordSwap struct {
	GroupIndex int    `json:"group_index"`
	OldWord    string `json:"old_word"`
	NewWord    string `json:"new_word"`
	Reason     string `json:"reason"`
	Applied    bool   `json:"applied"`
	Rejection  string `json:"rejection,omitempty"`
}

// RedHerringAnalysis is the refinement stage's view of the draft.
type RedHerringAnalysis struct {
	ExistingRedHerrings []string   `json:"existing_red_herrings"`
	SuggestedSwaps      []WordSwap `json:"suggested_swaps"`
	FlaggedWords        []string   `json:"flagged_words"`
	Analysis            string     `json:"analysis"`
}

// GenerationMetadata accumulates model usage and intermediate outputs for
// one generation attempt.
type GenerationMetadata struct {
	Model              string                     `json:"model"`
	SeedWords          []string                   `json:"seed_words"`
	SeedStory          string                     `json:"seed_story"`
	ThemeHint          string                     `json:"theme_hint,omitempty"`
	DifficultyProfile  DifficultyProfile          `json:"difficulty_profile"`
	CategoryCandidates []CategoryDescriptor       `json:"category_candidates"`
	RedHerringAnalysis *RedHerringAnalysis        `json:"red_herring_analysis,omitempty"`
	TotalCalls         int                        `json:"total_calls"`
	InputTokens        int                        `json:"input_tokens"`
	OutputTokens       int                        `json:"output_tokens"`
	StageOutputs       map[string]json.RawMessage `json:"stage_outputs,omitempty"`
}

// CandidatePuzzle is the in-flight result of one generation attempt.
type CandidatePuzzle struct {
	ConfigID uuid.UUID          `json:"config_id"`
	Groups   []CandidateGroup   `json:"groups"`
	Metadata GenerationMetadata `json:"metadata"`
}

// ToPuzzle converts the candidate into an unsaved draft puzzle. Words are
// lowercased; the original spelling is kept as display text when it differs.
func (c *CandidatePuzzle) ToPuzzle() *Puzzle {
	meta := c.Metadata
	p := &Puzzle{
		ConfigID:           c.ConfigID,
		Status:             PuzzleStatusDraft,
		GenerationModel:    c.Metadata.Model,
		GenerationMetadata: &meta,
		Groups:             make([]PuzzleGroup, len(c.Groups)),
	}
	for i, g := range c.Groups {
		pg := PuzzleGroup{
			CategoryName:   g.CategoryName,
			CategoryType:   g.CategoryType,
			DifficultyRank: g.DifficultyRank,
			SortOrder:      i,
			Words:          make([]PuzzleWord, len(g.SelectedWords)),
		}
		for j, w := range g.SelectedWords {
			pg.Words[j] = NewPuzzleWord(w)
		}
		p.Groups[i] = pg
	}
	return p
}

// NewPuzzleWord canonicalizes raw into a PuzzleWord.
func NewPuzzleWord(raw string) PuzzleWord {
	trimmed := strings.TrimSpace(raw)
	word := PuzzleWord{Word: strings.ToLower(trimmed)}
	if trimmed != word.Word {
		display := trimmed
		word.DisplayText = &display
	}
	return word
}
