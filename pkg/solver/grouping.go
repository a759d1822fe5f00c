package solver

import (
	"fmt"
	"sort"
	"strings"
)

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimSpace(w))
}

// groupKey is an order-independent identity for a set of words.
func groupKey(words []string) string {
	norm := make([]string, len(words))
	for i, w := range words {
		norm[i] = normalizeWord(w)
	}
	sort.Strings(norm)
	return strings.Join(norm, "|")
}

// checkShape reports whether groups partition words into groupCount groups
// of wordsPerGroup, using every word exactly once.
func checkShape(groups [][]string, words []string, groupCount, wordsPerGroup int) error {
	if len(groups) != groupCount {
		return fmt.Errorf("expected %d groups, got %d", groupCount, len(groups))
	}
	remaining := make(map[string]bool, len(words))
	for _, w := range words {
		remaining[normalizeWord(w)] = true
	}
	for i, g := range groups {
		if len(g) != wordsPerGroup {
			return fmt.Errorf("group %d has %d words, expected %d", i+1, len(g), wordsPerGroup)
		}
		for _, w := range g {
			key := normalizeWord(w)
			if !remaining[key] {
				return fmt.Errorf("word %q is not in the puzzle or is used twice", w)
			}
			delete(remaining, key)
		}
	}
	if len(remaining) > 0 {
		return fmt.Errorf("%d words were not placed", len(remaining))
	}
	return nil
}

// countCorrect returns how many returned groups exactly match an intended group.
func countCorrect(returned [][]string, intended map[string]int) int {
	n := 0
	for _, g := range returned {
		if _, ok := intended[groupKey(g)]; ok {
			n++
		}
	}
	return n
}

func solutionGroups(s solution) [][]string {
	out := make([][]string, len(s.Groups))
	for i, g := range s.Groups {
		out[i] = g.Words
	}
	return out
}
