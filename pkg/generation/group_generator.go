// Package generation builds candidate puzzles with a language model: a word
// group generator and a staged composer (seed, brainstorm, build, refine,
// assemble).
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/apperrors"
	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// CandidateOversampleRatio is how many candidates are requested per final word.
const CandidateOversampleRatio = 2

// DefaultMaxTokens bounds every generation call.
const DefaultMaxTokens = 2048

// GroupRequest describes one group to generate.
type GroupRequest struct {
	CategoryType models.CategoryType
	CategoryHint string
	// ExistingGroups are the groups already built for this puzzle. Empty only
	// for the first group.
	ExistingGroups []models.CandidateGroup
	WordsPerGroup  int
	DifficultyRank int
	GroupCount     int
	// Tier overrides the tier derived from DifficultyRank when set.
	Tier models.DifficultyTier
}

func (r GroupRequest) tier() models.DifficultyTier {
	if r.Tier.IsValid() {
		return r.Tier
	}
	return models.TierForRank(r.DifficultyRank, r.GroupCount)
}

// GroupGenerator produces one oversampled word group per call.
type GroupGenerator struct {
	caller    *llm.Caller
	maxTokens int
	logger    *zap.Logger
}

// NewGroupGenerator creates a GroupGenerator. Retries, timeouts and
// throttling come from caller.
func NewGroupGenerator(caller *llm.Caller, maxTokens int, logger *zap.Logger) *GroupGenerator {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &GroupGenerator{
		caller:    caller,
		maxTokens: maxTokens,
		logger:    logger.Named("group-generator"),
	}
}

// GenerateGroup asks the model for one group. The returned group carries an
// oversampled candidate pool and the model's preferred words; words that
// repeat the category name are removed from both.
func (g *GroupGenerator) GenerateGroup(ctx context.Context, req GroupRequest) (*models.CandidateGroup, *llm.Usage, error) {
	if req.WordsPerGroup < 2 {
		return nil, nil, fmt.Errorf("%w: words per group must be at least 2, got %d", apperrors.ErrInvalidConfig, req.WordsPerGroup)
	}
	if !req.CategoryType.IsValid() {
		return nil, nil, fmt.Errorf("%w: unknown category type %q", apperrors.ErrInvalidConfig, req.CategoryType)
	}

	tier := req.tier()
	candidateCount := CandidateOversampleRatio * req.WordsPerGroup
	llmReq := llm.StructuredRequest{
		Stage:       StageGroup,
		System:      designerSystem,
		Prompt:      groupPrompt(req, candidateCount, tier),
		Schema:      wordGroupSchema,
		Temperature: groupTemperature,
		MaxTokens:   g.maxTokens,
	}

	payload, usage, err := llm.Call(ctx, g.caller, llmReq, validateWordGroup(req.WordsPerGroup))
	if err != nil {
		return nil, &usage, unavailable(ctx, fmt.Sprintf("generate %s group", req.CategoryType), err)
	}

	pool, leaked := candidatePool(payload)
	selected := preferredWords(payload, pool, req.WordsPerGroup)
	if len(leaked) > 0 {
		g.logger.Debug("Removed words repeating the category name",
			zap.String("category", payload.CategoryName),
			zap.Strings("words", leaked))
	}

	group := &models.CandidateGroup{
		CategoryName:   strings.ToUpper(strings.TrimSpace(payload.CategoryName)),
		CategoryType:   req.CategoryType,
		Tier:           tier,
		CandidateWords: pool,
		SelectedWords:  selected,
		DifficultyRank: req.DifficultyRank,
		DesignNotes:    payload.DesignNotes,
	}

	g.logger.Info("Generated word group",
		zap.String("category", group.CategoryName),
		zap.String("type", string(group.CategoryType)),
		zap.String("tier", string(tier)),
		zap.Int("candidates", len(pool)),
		zap.Int("calls", usage.Calls))

	return group, &usage, nil
}

// validateWordGroup rejects output the composer cannot use. Its messages are
// fed back to the model on retry.
func validateWordGroup(wordsPerGroup int) llm.Validator[wordGroupPayload] {
	return func(p wordGroupPayload) error {
		if strings.TrimSpace(p.CategoryName) == "" {
			return errors.New("category_name is empty")
		}
		if len(p.Words) != wordsPerGroup {
			return fmt.Errorf("words: expected %d, got %d", wordsPerGroup, len(p.Words))
		}
		for _, w := range append(append([]string(nil), p.Words...), p.CandidateWords...) {
			if strings.TrimSpace(w) == "" {
				return errors.New("word lists contain an empty word")
			}
		}
		pool, leaked := candidatePool(p)
		if len(pool) < wordsPerGroup+1 {
			msg := fmt.Sprintf("candidate_words: need at least %d distinct usable words, got %d", wordsPerGroup+1, len(pool))
			if len(leaked) > 0 {
				msg += fmt.Sprintf(" after removing %s, which repeat the category name", strings.Join(leaked, ", "))
			}
			return errors.New(msg)
		}
		return nil
	}
}

// candidatePool merges words and candidate_words in that order, uppercased
// and de-duplicated, dropping words that leak from the category name.
func candidatePool(p wordGroupPayload) (pool, leaked []string) {
	nameTokens := leakTokens(p.CategoryName)
	seen := make(map[string]bool)
	for _, raw := range append(append([]string(nil), p.Words...), p.CandidateWords...) {
		w := strings.ToUpper(strings.TrimSpace(raw))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		if nameTokens[wordKey(w)] {
			leaked = append(leaked, w)
			continue
		}
		pool = append(pool, w)
	}
	return pool, leaked
}

// preferredWords keeps the model's chosen words that survived the pool
// filter and backfills from the rest of the pool.
func preferredWords(p wordGroupPayload, pool []string, n int) []string {
	inPool := make(map[string]bool, len(pool))
	for _, w := range pool {
		inPool[w] = true
	}
	chosen := make(map[string]bool)
	var out []string
	for _, raw := range p.Words {
		w := strings.ToUpper(strings.TrimSpace(raw))
		if inPool[w] && !chosen[w] && len(out) < n {
			chosen[w] = true
			out = append(out, w)
		}
	}
	for _, w := range pool {
		if len(out) >= n {
			break
		}
		if !chosen[w] {
			chosen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// leakTokens returns the singular lowercase tokens of a category name.
func leakTokens(name string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 3 {
			continue
		}
		tokens[wordKey(tok)] = true
	}
	return tokens
}

// wordKey folds case and number so "BASS" and "basses" compare equal.
func wordKey(w string) string {
	return inflection.Singular(strings.ToLower(strings.TrimSpace(w)))
}

// unavailable wraps a model failure as ErrGenerationUnavailable unless the
// caller's context ended. Per-call timeouts that exhausted their retries are
// wrapped like any other failure.
func unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, apperrors.ErrGenerationUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperrors.ErrGenerationUnavailable, op, err)
}
