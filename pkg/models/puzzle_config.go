package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PuzzleConfig describes the shape of a puzzle. Once a puzzle references a
// config the config is never updated.
type PuzzleConfig struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	GroupCount        int               `json:"group_count"`
	WordsPerGroup     int               `json:"words_per_group"`
	DifficultyProfile DifficultyProfile `json:"difficulty_profile"`
	CreatedAt         time.Time         `json:"created_at"`
}

// MaxGroupCount bounds GroupCount. Category selection considers at most
// MaxGroupCount+1 brainstormed candidates and needs more candidates than
// groups.
const MaxGroupCount = 15

// TotalWords returns the number of words a puzzle of this shape contains.
func (c *PuzzleConfig) TotalWords() int {
	return c.GroupCount * c.WordsPerGroup
}

// Validate checks the shape bounds.
func (c *PuzzleConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name is required")
	}
	if c.GroupCount < 2 || c.GroupCount > MaxGroupCount {
		return fmt.Errorf("group_count must be between 2 and %d, got %d", MaxGroupCount, c.GroupCount)
	}
	if c.WordsPerGroup < 2 {
		return fmt.Errorf("words_per_group must be at least 2, got %d", c.WordsPerGroup)
	}
	if c.DifficultyProfile == "" {
		c.DifficultyProfile = DifficultyProfileStandard
	}
	if !IsValidDifficultyProfile(c.DifficultyProfile) {
		return fmt.Errorf("unknown difficulty_profile %q", c.DifficultyProfile)
	}
	return nil
}
