package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/embedding"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// maxSwaps bounds how many refinement swaps are considered.
const maxSwaps = 3

func (c *Composer) seed(ctx context.Context, s composeState) (composeState, error) {
	req := llm.StructuredRequest{
		Stage:       StageSeed,
		System:      designerSystem,
		Prompt:      seedPrompt(s.themeHint),
		Schema:      seedSchema,
		Temperature: seedTemperature,
		MaxTokens:   c.maxTokens,
	}
	out, usage, err := llm.Call[seedPayload](ctx, c.caller, req, func(p seedPayload) error {
		if len(p.SeedWords) != 4 {
			return fmt.Errorf("seed_words: expected 4, got %d", len(p.SeedWords))
		}
		for _, w := range p.SeedWords {
			if strings.TrimSpace(w) == "" {
				return errors.New("seed_words contains an empty word")
			}
		}
		if strings.TrimSpace(p.Story) == "" {
			return errors.New("story is empty")
		}
		return nil
	})
	s = s.withUsage(usage)
	if err != nil {
		return s, unavailable(ctx, "seed", err)
	}

	words := make([]string, len(out.SeedWords))
	for i, w := range out.SeedWords {
		words[i] = strings.ToUpper(strings.TrimSpace(w))
	}
	s.seedWords = words
	s.seedStory = strings.TrimSpace(out.Story)
	return s.withOutput(StageSeed, out), nil
}

func (c *Composer) brainstorm(ctx context.Context, s composeState) (composeState, error) {
	groupCount := s.config.GroupCount
	req := llm.StructuredRequest{
		Stage:       StageBrainstorm,
		System:      designerSystem,
		Prompt:      brainstormPrompt(s.seedWords, s.seedStory, groupCount, s.tiers),
		Schema:      categoriesSchema,
		Temperature: brainstormTemperature,
		MaxTokens:   c.maxTokens,
	}
	out, usage, err := llm.Call[categoriesPayload](ctx, c.caller, req, func(p categoriesPayload) error {
		if len(p.Candidates) <= groupCount {
			return fmt.Errorf("candidates: expected more than %d, got %d", groupCount, len(p.Candidates))
		}
		for i, cand := range p.Candidates {
			if strings.TrimSpace(cand.CategoryName) == "" {
				return fmt.Errorf("candidates[%d]: category_name is empty", i)
			}
			if !cand.CategoryType.IsValid() {
				return fmt.Errorf("candidates[%d]: unknown category_type %q", i, cand.CategoryType)
			}
			if !cand.Tier.IsValid() {
				return fmt.Errorf("candidates[%d]: unknown difficulty %q", i, cand.Tier)
			}
		}
		return nil
	})
	s = s.withUsage(usage)
	if err != nil {
		return s, unavailable(ctx, "brainstorm", err)
	}

	candidates := make([]models.CategoryDescriptor, len(out.Candidates))
	for i, cand := range out.Candidates {
		cand.CategoryName = strings.ToUpper(strings.TrimSpace(cand.CategoryName))
		candidates[i] = cand
	}

	selected, err := SelectCategories(candidates, groupCount, s.tiers)
	if err != nil {
		return s, err
	}
	// Ranks follow tier order; equal tiers keep selection order.
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Tier.Index() < selected[j].Tier.Index() })

	s.candidates = candidates
	s.selected = selected
	return s.withOutput(StageBrainstorm, out), nil
}

func (c *Composer) build(ctx context.Context, s composeState) (composeState, error) {
	wpg := s.config.WordsPerGroup
	built := make([]models.CandidateGroup, 0, len(s.selected))
	used := make(map[string]bool)

	for i, desc := range s.selected {
		group, usage, err := c.groups.GenerateGroup(ctx, GroupRequest{
			CategoryType:   desc.CategoryType,
			CategoryHint:   desc.CategoryName,
			ExistingGroups: cloneGroups(built),
			WordsPerGroup:  wpg,
			DifficultyRank: i + 1,
			GroupCount:     s.config.GroupCount,
			Tier:           desc.Tier,
		})
		if usage != nil {
			s = s.withUsage(*usage)
		}
		if err != nil {
			return s, err
		}

		words, err := SelectWords(*group, built, used, wpg, s.config.GroupCount)
		if err != nil {
			return s, err
		}
		group.SelectedWords = words
		for _, w := range words {
			used[strings.ToLower(w)] = true
		}
		built = append(built, *group)
	}

	s.groups = built
	return s.withOutput(StageBuild, built), nil
}

func (c *Composer) refine(ctx context.Context, s composeState) (composeState, error) {
	req := llm.StructuredRequest{
		Stage:       StageRefine,
		System:      designerSystem,
		Prompt:      refinePrompt(s.groups),
		Schema:      refinementSchema,
		Temperature: refineTemperature,
		MaxTokens:   c.maxTokens,
	}
	out, usage, err := llm.Call[refinementPayload](ctx, c.caller, req, nil)
	s = s.withUsage(usage)
	if err != nil {
		return s, unavailable(ctx, "refine", err)
	}

	suggestions := out.SuggestedSwaps
	if len(suggestions) > maxSwaps {
		c.logger.Debug("Ignoring extra swap suggestions", zap.Int("suggested", len(suggestions)))
		suggestions = suggestions[:maxSwaps]
	}

	var vectors map[string][]float32
	if c.embedder != nil && len(suggestions) > 0 {
		vectors, err = c.embedWords(ctx, s.groups, suggestions)
		if err != nil {
			return s, err
		}
	}

	groups := cloneGroups(s.groups)
	analysis := &models.RedHerringAnalysis{
		ExistingRedHerrings: make([]string, 0, len(out.ExistingRedHerrings)),
		SuggestedSwaps:      make([]models.WordSwap, 0, len(suggestions)),
		FlaggedWords:        upperAll(out.FlaggedObscure),
		Analysis:            out.Analysis,
	}
	for _, h := range out.ExistingRedHerrings {
		analysis.ExistingRedHerrings = append(analysis.ExistingRedHerrings,
			fmt.Sprintf("%s (%s, confused with %s, %s)", strings.ToUpper(h.Word), h.ActualGroup, h.ConfusedWithGroup, h.Strength))
	}

	for _, sug := range suggestions {
		swap := models.WordSwap{
			GroupIndex: sug.GroupIndex,
			OldWord:    strings.ToUpper(strings.TrimSpace(sug.OldWord)),
			NewWord:    strings.ToUpper(strings.TrimSpace(sug.NewWord)),
			Reason:     sug.Reason,
		}
		if reason := swapRejection(groups, swap); reason != "" {
			swap.Rejection = reason
		} else {
			trial := cloneGroups(groups)
			replaceWord(&trial[swap.GroupIndex], swap.OldWord, swap.NewWord)
			if vectors != nil {
				if cross := embedding.MaxCross(embeddingGroups(trial, vectors)); cross > embedding.MaxCrossSimilarity {
					swap.Rejection = fmt.Sprintf("cross-group similarity would rise to %.3f", cross)
				}
			}
			if swap.Rejection == "" {
				groups = trial
				swap.Applied = true
			}
		}
		if swap.Rejection != "" {
			c.logger.Debug("Rejected swap",
				zap.Int("group_index", swap.GroupIndex),
				zap.String("old_word", swap.OldWord),
				zap.String("new_word", swap.NewWord),
				zap.String("reason", swap.Rejection))
		}
		analysis.SuggestedSwaps = append(analysis.SuggestedSwaps, swap)
	}

	s.groups = groups
	s.herrings = analysis
	return s.withOutput(StageRefine, out), nil
}

// swapRejection returns why swap cannot be applied, or "".
func swapRejection(groups []models.CandidateGroup, swap models.WordSwap) string {
	if swap.GroupIndex < 0 || swap.GroupIndex >= len(groups) {
		return fmt.Sprintf("group index %d out of range", swap.GroupIndex)
	}
	g := groups[swap.GroupIndex]
	if !g.HasSelected(swap.OldWord) {
		return fmt.Sprintf("%s is not in group %q", swap.OldWord, g.CategoryName)
	}
	if strings.EqualFold(swap.OldWord, swap.NewWord) {
		return ""
	}
	if !g.HasCandidate(swap.NewWord) {
		return fmt.Sprintf("%s is not a candidate for group %q", swap.NewWord, g.CategoryName)
	}
	for _, other := range groups {
		if other.HasSelected(swap.NewWord) {
			return fmt.Sprintf("%s is already used in group %q", swap.NewWord, other.CategoryName)
		}
	}
	return ""
}

func replaceWord(g *models.CandidateGroup, oldWord, newWord string) {
	for i, w := range g.SelectedWords {
		if strings.EqualFold(w, oldWord) {
			g.SelectedWords[i] = newWord
			return
		}
	}
}

// embedWords embeds every selected word and every proposed replacement in
// one batch.
func (c *Composer) embedWords(ctx context.Context, groups []models.CandidateGroup, swaps []swapSuggestion) (map[string][]float32, error) {
	seen := make(map[string]bool)
	var words []string
	add := func(w string) {
		key := strings.ToLower(strings.TrimSpace(w))
		if key != "" && !seen[key] {
			seen[key] = true
			words = append(words, key)
		}
	}
	for _, g := range groups {
		for _, w := range g.SelectedWords {
			add(w)
		}
	}
	for _, sw := range swaps {
		add(sw.NewWord)
	}

	vecs, err := c.embedder.Embed(ctx, words)
	if err != nil {
		return nil, fmt.Errorf("embed refinement words: %w", err)
	}
	if len(vecs) != len(words) {
		return nil, fmt.Errorf("embed refinement words: got %d vectors for %d words", len(vecs), len(words))
	}
	out := make(map[string][]float32, len(words))
	for i, w := range words {
		out[w] = vecs[i]
	}
	return out, nil
}

func embeddingGroups(groups []models.CandidateGroup, vectors map[string][]float32) []embedding.Group {
	out := make([]embedding.Group, len(groups))
	for i, g := range groups {
		eg := embedding.Group{Name: g.CategoryName, Type: g.CategoryType, Tier: g.Tier}
		for _, w := range g.SelectedWords {
			key := strings.ToLower(w)
			eg.Words = append(eg.Words, key)
			eg.Vectors = append(eg.Vectors, vectors[key])
		}
		out[i] = eg
	}
	return out
}

// checkAssembly verifies the final shape before a puzzle is produced.
func (c *Composer) checkAssembly(_ context.Context, s composeState) (composeState, error) {
	if len(s.groups) != s.config.GroupCount {
		return s, fmt.Errorf("built %d groups, config needs %d", len(s.groups), s.config.GroupCount)
	}
	seen := make(map[string]string)
	for _, g := range s.groups {
		if len(g.SelectedWords) != s.config.WordsPerGroup {
			return s, fmt.Errorf("group %q has %d words, config needs %d", g.CategoryName, len(g.SelectedWords), s.config.WordsPerGroup)
		}
		for _, w := range g.SelectedWords {
			key := strings.ToLower(w)
			if prev, ok := seen[key]; ok {
				return s, fmt.Errorf("word %s appears in %q and %q", w, prev, g.CategoryName)
			}
			seen[key] = g.CategoryName
		}
	}
	return s, nil
}

// assemble orders groups by difficulty rank and attaches metadata.
func (c *Composer) assemble(s composeState) *models.CandidatePuzzle {
	groups := cloneGroups(s.groups)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].DifficultyRank < groups[j].DifficultyRank })

	return &models.CandidatePuzzle{
		ConfigID: s.config.ID,
		Groups:   groups,
		Metadata: models.GenerationMetadata{
			Model:              c.caller.Model(),
			SeedWords:          s.seedWords,
			SeedStory:          s.seedStory,
			ThemeHint:          s.themeHint,
			DifficultyProfile:  s.config.DifficultyProfile,
			CategoryCandidates: s.candidates,
			RedHerringAnalysis: s.herrings,
			TotalCalls:         s.usage.Calls,
			InputTokens:        s.usage.InputTokens,
			OutputTokens:       s.usage.OutputTokens,
			StageOutputs:       s.outputs,
		},
	}
}

func upperAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, strings.ToUpper(w))
		}
	}
	return out
}
