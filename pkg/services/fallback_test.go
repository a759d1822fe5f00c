package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallbackYAML = `
puzzles:
  - config: standard
    groups:
      - category: FISH
        words: [Bass, Pike, Sole, Carp]
      - category: TREES
        words: [Ash, Elm, Oak, Yew]
  - config: mini
    groups:
      - category: COLOURS
        words: [Red, Blue]
      - category: SHAPES
        words: [Square, Circle]
`

func TestParseFallback(t *testing.T) {
	src, err := ParseFallback([]byte(fallbackYAML))
	require.NoError(t, err)
	assert.Equal(t, 1, src.Count("standard"))
	assert.Equal(t, 1, src.Count("mini"))
	assert.Equal(t, 0, src.Count("missing"))

	served := src.Pick("standard")
	require.NotNil(t, served)
	assert.True(t, served.FromFallback)
	assert.Equal(t, "standard", served.ConfigName)
	assert.Equal(t, "FISH", served.Groups[0].CategoryName)
	assert.Equal(t, 1, served.Groups[0].DifficultyRank)
	assert.Equal(t, 2, served.Groups[1].DifficultyRank)
	assert.Equal(t, []string{"Bass", "Pike", "Sole", "Carp"}, served.Groups[0].Words)

	assert.Nil(t, src.Pick("missing"))
}

func TestParseFallback_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing config", "puzzles:\n  - groups: [{category: A, words: [x]}, {category: B, words: [y]}]\n"},
		{"one group", "puzzles:\n  - config: c\n    groups: [{category: A, words: [x]}]\n"},
		{"empty group", "puzzles:\n  - config: c\n    groups: [{category: A, words: []}, {category: B, words: [y]}]\n"},
		{"duplicate word", "puzzles:\n  - config: c\n    groups: [{category: A, words: [Bass]}, {category: B, words: [bass]}]\n"},
		{"not yaml", "puzzles: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFallback([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestFallbackSource_NilIsEmpty(t *testing.T) {
	var src *FallbackSource
	assert.Equal(t, 0, src.Count("standard"))
	assert.Nil(t, src.Pick("standard"))
}

func TestLoadFallbackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fallback.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fallbackYAML), 0o600))

	src, err := LoadFallbackFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, src.Count("standard"))

	_, err = LoadFallbackFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
