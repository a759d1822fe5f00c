package generation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// maxSelectionCandidates caps the combinatorial search in SelectCategories.
const maxSelectionCandidates = models.MaxGroupCount + 1

// fitbStopWords never count as a fill-in-the-blank connector.
var fitbStopWords = map[string]bool{
	"WORDS": true, "THAT": true, "EACH": true, "WITH": true, "BEFORE": true,
	"AFTER": true, "BLANK": true, "FILL": true, "TYPE": true, "TYPES": true,
	"THINGS": true, "PRECEDED": true, "FOLLOWED": true, "CONTAINS": true,
	"COMPOUND": true, "PHRASES": true, "PHRASE": true,
}

// herringKeywords in a red-herring note suggest the author thought about
// cross-group confusion.
var herringKeywords = []string{"confus", "overlap", "also", "could", "might", "either", "both", "mistake"}

// SelectCategories picks exactly groupCount descriptors from candidates.
// A valid selection uses at least two category types, contains the easiest
// and the hardest tier of targets, and never holds two fill-in-the-blank
// categories sharing a connector word. Among valid selections the one
// matching the most target tiers wins, then the one with the highest
// red-herring score, then the earliest in candidate order. The result keeps
// candidate order.
func SelectCategories(candidates []models.CategoryDescriptor, groupCount int, targets []models.DifficultyTier) ([]models.CategoryDescriptor, error) {
	if len(candidates) > maxSelectionCandidates {
		candidates = candidates[:maxSelectionCandidates]
	}
	if groupCount < 1 || len(candidates) < groupCount {
		return nil, fmt.Errorf("%w: need %d categories, have %d", apperrors.ErrInsufficientCandidates, groupCount, len(candidates))
	}

	minTier, maxTier := models.TierYellow, models.TierPurple
	if len(targets) > 0 {
		minTier, maxTier = targets[0], targets[0]
		for _, t := range targets {
			if t.Index() < minTier.Index() {
				minTier = t
			}
			if t.Index() > maxTier.Index() {
				maxTier = t
			}
		}
	}

	scores := make([]float64, len(candidates))
	connectors := make([]map[string]bool, len(candidates))
	for i, c := range candidates {
		scores[i] = herringScore(i, candidates)
		if c.CategoryType == models.CategoryFillInTheBlank {
			connectors[i] = connectorTokens(c.CategoryName)
		}
	}

	var (
		best      []int
		bestMatch = -1
		bestScore float64
	)
	combo := make([]int, 0, groupCount)
	var walk func(start int)
	walk = func(start int) {
		if len(combo) == groupCount {
			if !validSelection(combo, candidates, connectors, minTier, maxTier, groupCount) {
				return
			}
			match := tierMatches(combo, candidates, targets)
			var score float64
			for _, i := range combo {
				score += scores[i]
			}
			if match > bestMatch || (match == bestMatch && score > bestScore) {
				best = append(best[:0], combo...)
				bestMatch, bestScore = match, score
			}
			return
		}
		for i := start; i <= len(candidates)-(groupCount-len(combo)); i++ {
			combo = append(combo, i)
			walk(i + 1)
			combo = combo[:len(combo)-1]
		}
	}
	walk(0)

	if best == nil {
		return nil, fmt.Errorf("%w: no %d of %d categories satisfy type, tier and connector constraints",
			apperrors.ErrInsufficientCandidates, groupCount, len(candidates))
	}
	out := make([]models.CategoryDescriptor, len(best))
	for i, idx := range best {
		out[i] = candidates[idx]
	}
	return out, nil
}

func validSelection(combo []int, candidates []models.CategoryDescriptor, connectors []map[string]bool, minTier, maxTier models.DifficultyTier, groupCount int) bool {
	types := make(map[models.CategoryType]bool)
	var hasMin, hasMax bool
	for _, i := range combo {
		types[candidates[i].CategoryType] = true
		if candidates[i].Tier == minTier {
			hasMin = true
		}
		if candidates[i].Tier == maxTier {
			hasMax = true
		}
	}
	if groupCount >= 2 && len(types) < 2 {
		return false
	}
	if !hasMin || !hasMax {
		return false
	}
	for a := 0; a < len(combo); a++ {
		for b := a + 1; b < len(combo); b++ {
			if sharesConnector(connectors[combo[a]], connectors[combo[b]]) {
				return false
			}
		}
	}
	return true
}

// tierMatches counts how many target tiers the selection covers, as a
// multiset intersection.
func tierMatches(combo []int, candidates []models.CategoryDescriptor, targets []models.DifficultyTier) int {
	want := make(map[models.DifficultyTier]int)
	for _, t := range targets {
		want[t]++
	}
	matches := 0
	for _, i := range combo {
		t := candidates[i].Tier
		if want[t] > 0 {
			want[t]--
			matches++
		}
	}
	return matches
}

func sharesConnector(a, b map[string]bool) bool {
	if a == nil || b == nil {
		return false
	}
	for tok := range a {
		if b[tok] {
			return true
		}
	}
	return false
}

// connectorTokens extracts the candidate connector words of a
// fill-in-the-blank name such as "___ BALL" or "WORDS BEFORE HOUSE".
func connectorTokens(name string) map[string]bool {
	tokens := make(map[string]bool)
	for _, f := range strings.Fields(strings.ToUpper(name)) {
		tok := strings.Trim(f, `_'",.`)
		tok = strings.Trim(tok, "_")
		if len(tok) < 4 || fitbStopWords[tok] {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}

// herringScore rates how much cross-group confusion a candidate's note
// promises: a longer note, confusion keywords, and mentions of other
// candidates' names.
func herringScore(index int, candidates []models.CategoryDescriptor) float64 {
	note := strings.ToLower(candidates[index].RedHerringPotential)
	if note == "" {
		return 0
	}
	score := float64(len(note)) / 40
	if score > 2 {
		score = 2
	}
	for _, kw := range herringKeywords {
		if strings.Contains(note, kw) {
			score++
		}
	}
	noteTokens := leakTokens(note)
	for j, other := range candidates {
		if j == index {
			continue
		}
		for tok := range leakTokens(other.CategoryName) {
			if len(tok) >= 4 && noteTokens[tok] {
				score += 1.5
				break
			}
		}
	}
	return score
}

// rareLetters make a word harder to recognise.
const rareLetters = "jqxzkvw"

// SelectWords chooses exactly wordsPerGroup words for group from its
// candidate pool. Words in used (lowercase) are never chosen. Candidates are
// ranked by red-herring potential against others, a bonus for the model's
// own picks, and a commonness penalty that weighs more on easier groups.
// Ties keep pool order.
func SelectWords(group models.CandidateGroup, others []models.CandidateGroup, used map[string]bool, wordsPerGroup, groupCount int) ([]string, error) {
	type scored struct {
		word  string
		score float64
		pos   int
	}

	easeWeight := 1.0
	if groupCount > 0 {
		easeWeight = float64(groupCount-group.DifficultyRank+1) / float64(groupCount)
	}

	var pool []scored
	seen := make(map[string]bool)
	for i, w := range group.CandidateWords {
		key := strings.ToLower(w)
		if used[key] || seen[key] {
			continue
		}
		seen[key] = true
		s := ambiguity(w, others)
		if group.HasSelected(w) {
			s += 1.5
		}
		s -= easeWeight * obscurity(w)
		pool = append(pool, scored{word: w, score: s, pos: i})
	}

	if len(pool) < wordsPerGroup {
		return nil, fmt.Errorf("%w: group %q has %d unused candidates, needs %d",
			apperrors.ErrInsufficientCandidates, group.CategoryName, len(pool), wordsPerGroup)
	}

	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })
	pool = pool[:wordsPerGroup]
	sort.Slice(pool, func(i, j int) bool { return pool[i].pos < pool[j].pos })

	out := make([]string, len(pool))
	for i, s := range pool {
		out[i] = s.word
	}
	return out, nil
}

// ambiguity counts the other groups a word could plausibly be mistaken for:
// it shares a token with their name or sits in their candidate pool.
func ambiguity(word string, others []models.CandidateGroup) float64 {
	key := wordKey(word)
	var n float64
	for _, o := range others {
		if leakTokens(o.CategoryName)[key] || o.HasCandidate(word) {
			n++
		}
	}
	return n
}

func obscurity(word string) float64 {
	w := strings.ToLower(word)
	var penalty float64
	if len(w) > 8 {
		penalty += 0.15 * float64(len(w)-8)
	}
	for _, r := range w {
		if strings.ContainsRune(rareLetters, r) {
			penalty += 0.2
		}
	}
	return penalty
}
