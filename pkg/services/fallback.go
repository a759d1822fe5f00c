package services

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// FallbackPuzzle is one hand-written puzzle served when a pool is starved.
type FallbackPuzzle struct {
	Config string          `yaml:"config"`
	Groups []FallbackGroup `yaml:"groups"`
}

// FallbackGroup is one group of a fallback puzzle, easiest first.
type FallbackGroup struct {
	Category string   `yaml:"category"`
	Words    []string `yaml:"words"`
}

type fallbackFile struct {
	Puzzles []FallbackPuzzle `yaml:"puzzles"`
}

// FallbackSource holds static puzzles keyed by config name. A nil source
// has no puzzles.
type FallbackSource struct {
	byConfig map[string][]FallbackPuzzle
}

// LoadFallbackFile reads fallback puzzles from a YAML file.
func LoadFallbackFile(path string) (*FallbackSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback puzzles: %w", err)
	}
	return ParseFallback(data)
}

// ParseFallback decodes and checks fallback puzzles. Every puzzle needs a
// config name, at least two groups, and no word repeated across groups.
func ParseFallback(data []byte) (*FallbackSource, error) {
	var file fallbackFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fallback puzzles: %w", err)
	}

	src := &FallbackSource{byConfig: make(map[string][]FallbackPuzzle)}
	for i, p := range file.Puzzles {
		if p.Config == "" {
			return nil, fmt.Errorf("fallback puzzle %d: config is required", i)
		}
		if len(p.Groups) < 2 {
			return nil, fmt.Errorf("fallback puzzle %d: need at least 2 groups, got %d", i, len(p.Groups))
		}
		seen := make(map[string]bool)
		for _, g := range p.Groups {
			if g.Category == "" || len(g.Words) == 0 {
				return nil, fmt.Errorf("fallback puzzle %d: every group needs a category and words", i)
			}
			for _, w := range g.Words {
				key := strings.ToLower(strings.TrimSpace(w))
				if seen[key] {
					return nil, fmt.Errorf("fallback puzzle %d: duplicate word %q", i, w)
				}
				seen[key] = true
			}
		}
		src.byConfig[p.Config] = append(src.byConfig[p.Config], p)
	}
	return src, nil
}

// Count returns how many fallback puzzles exist for configName.
func (s *FallbackSource) Count(configName string) int {
	if s == nil {
		return 0
	}
	return len(s.byConfig[configName])
}

// Pick returns a random fallback puzzle for configName, or nil.
func (s *FallbackSource) Pick(configName string) *models.ServedPuzzle {
	if s.Count(configName) == 0 {
		return nil
	}
	puzzles := s.byConfig[configName]
	p := puzzles[rand.IntN(len(puzzles))]

	served := &models.ServedPuzzle{
		ConfigName:   configName,
		FromFallback: true,
		Groups:       make([]models.ServedGroup, len(p.Groups)),
	}
	for i, g := range p.Groups {
		served.Groups[i] = models.ServedGroup{
			CategoryName:   g.Category,
			DifficultyRank: i + 1,
			Words:          append([]string(nil), g.Words...),
		}
	}
	return served
}
