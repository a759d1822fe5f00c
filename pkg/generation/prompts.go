package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
	"github.com/ekaya-inc/puzzle-engine/pkg/models"
)

// Stage names used for logging, metrics and StageError.
const (
	StageSeed       = "seed"
	StageBrainstorm = "brainstorm"
	StageBuild      = "build"
	StageGroup      = "group"
	StageRefine     = "refine"
	StageAssemble   = "assemble"
)

const (
	seedTemperature       float32 = 1.0
	brainstormTemperature float32 = 0.9
	groupTemperature      float32 = 0.9
	refineTemperature     float32 = 0.7
)

const designerSystem = `You are an expert puzzle designer for word-grouping games like the New York Times "Connections".
You design groups of words that share a hidden, specific connection, and you plant red herrings: words that seem to belong to more than one group.
Good puzzles surprise the solver. Avoid tired, obvious categories.`

// antiCliches are categories every model reaches for first.
var antiCliches = []string{
	"days of the week",
	"seasons",
	"months",
	"primary colors",
	"planets",
	"card suits",
	"Monopoly properties or tokens",
	"chess pieces",
	"playing card ranks",
	"dice or board-game taxonomies",
	"types of fruit",
	"US states",
	`"___ PARTY"`,
}

var categoryTypeDescriptions = map[models.CategoryType]string{
	models.CategorySynonyms:          "words that mean roughly the same thing (e.g. ways to say 'nonsense')",
	models.CategoryMembersOfSet:      "specific members of a well-defined set (e.g. famous detectives)",
	models.CategoryFillInTheBlank:    "words that complete a common phrase with a shared connector word (e.g. ___ HOUSE)",
	models.CategoryWordplay:          "a hidden property of the spelling: hidden words, anagrams, homophones, letter patterns",
	models.CategoryCompoundWords:     "words that each form a compound with the same partner word",
	models.CategoryCulturalKnowledge: "a connection that needs knowledge of film, music, sport, history or literature",
}

var tierDescriptions = map[models.DifficultyTier]string{
	models.TierYellow: "YELLOW: the most obvious group; most players see it straight away",
	models.TierGreen:  "GREEN: takes a moment; the connection is clear once spotted",
	models.TierBlue:   "BLUE: non-obvious or specialised; needs a specific insight",
	models.TierPurple: "PURPLE: the trickiest group; usually wordplay or an 'aha' moment",
}

var seedSchema = llm.Schema{
	Name:        "submit_seed",
	Description: "Submit four unrelated seed words and a short story connecting them.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "seed_words": {"type": "array", "items": {"type": "string"}, "minItems": 4, "maxItems": 4},
    "story": {"type": "string"}
  },
  "required": ["seed_words", "story"],
  "additionalProperties": false
}`),
}

var categoriesSchema = llm.Schema{
	Name:        "submit_categories",
	Description: "Submit candidate categories for the puzzle.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "category_name": {"type": "string"},
          "category_type": {"type": "string", "enum": ["synonyms", "members_of_set", "fill_in_the_blank", "wordplay", "compound_words", "cultural_knowledge"]},
          "difficulty": {"type": "string", "enum": ["yellow", "green", "blue", "purple"]},
          "red_herring_potential": {"type": "string"}
        },
        "required": ["category_name", "category_type", "difficulty", "red_herring_potential"],
        "additionalProperties": false
      }
    }
  },
  "required": ["candidates"],
  "additionalProperties": false
}`),
}

// design_notes comes first so the model reasons before it commits to words.
var wordGroupSchema = llm.Schema{
	Name:        "submit_word_group",
	Description: "Submit one group of words sharing a connection, plus spare candidates.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "design_notes": {"type": "string"},
    "category_name": {"type": "string"},
    "words": {"type": "array", "items": {"type": "string"}},
    "candidate_words": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["design_notes", "category_name", "words", "candidate_words"],
  "additionalProperties": false
}`),
}

var refinementSchema = llm.Schema{
	Name:        "submit_refinement",
	Description: "Submit red-herring analysis and suggested word swaps for a draft puzzle.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "existing_red_herrings": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "word": {"type": "string"},
          "actual_group": {"type": "string"},
          "confused_with_group": {"type": "string"},
          "strength": {"type": "string", "enum": ["weak", "moderate", "strong"]}
        },
        "required": ["word", "actual_group", "confused_with_group", "strength"],
        "additionalProperties": false
      }
    },
    "suggested_swaps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "group_index": {"type": "integer"},
          "old_word": {"type": "string"},
          "new_word": {"type": "string"},
          "reason": {"type": "string"}
        },
        "required": ["group_index", "old_word", "new_word", "reason"],
        "additionalProperties": false
      }
    },
    "flagged_obscure": {"type": "array", "items": {"type": "string"}},
    "analysis": {"type": "string"}
  },
  "required": ["existing_red_herrings", "suggested_swaps", "flagged_obscure", "analysis"],
  "additionalProperties": false
}`),
}

type seedPayload struct {
	SeedWords []string `json:"seed_words"`
	Story     string   `json:"story"`
}

type categoriesPayload struct {
	Candidates []models.CategoryDescriptor `json:"candidates"`
}

type wordGroupPayload struct {
	DesignNotes    string   `json:"design_notes"`
	CategoryName   string   `json:"category_name"`
	Words          []string `json:"words"`
	CandidateWords []string `json:"candidate_words"`
}

type redHerring struct {
	Word              string `json:"word"`
	ActualGroup       string `json:"actual_group"`
	ConfusedWithGroup string `json:"confused_with_group"`
	Strength          string `json:"strength"`
}

type swapSuggestion struct {
	GroupIndex int    `json:"group_index"`
	OldWord    string `json:"old_word"`
	NewWord    string `json:"new_word"`
	Reason     string `json:"reason"`
}

type refinementPayload struct {
	ExistingRedHerrings []redHerring     `json:"existing_red_herrings"`
	SuggestedSwaps      []swapSuggestion `json:"suggested_swaps"`
	FlaggedObscure      []string         `json:"flagged_obscure"`
	Analysis            string           `json:"analysis"`
}

func seedPrompt(themeHint string) string {
	var b strings.Builder
	b.WriteString("Pick 4 seed words from 4 completely different domains (for example cooking, astronomy, sport and fashion).\n")
	b.WriteString("Then write a 2-3 sentence story that connects all four in a surprising way.\n")
	b.WriteString("The seed words are inspiration for a puzzle designer; they will not appear in the puzzle.\n")
	b.WriteString("Write the seed words in UPPERCASE.\n")
	if themeHint != "" {
		fmt.Fprintf(&b, "\nLoosely steer the seeds towards this theme: %s\n", themeHint)
	}
	return b.String()
}

func brainstormPrompt(seedWords []string, story string, groupCount int, tiers []models.DifficultyTier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Seed words: %s\nStory: %s\n\n", strings.Join(seedWords, ", "), story)
	fmt.Fprintf(&b, "Propose between %d and %d candidate categories for a puzzle with %d groups.\n", groupCount+2, 2*groupCount, groupCount)
	b.WriteString("Use the seed words as inspiration only: categories do not need to contain them.\n\n")

	b.WriteString("Target difficulty sequence for the final puzzle:\n")
	for i, t := range tiers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, tierDescriptions[t])
	}

	b.WriteString("\nCategory types:\n")
	for _, ct := range models.CategoryTypes {
		fmt.Fprintf(&b, "- %s: %s\n", ct, categoryTypeDescriptions[ct])
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Use at least 2 different category types.\n")
	b.WriteString("- Give every candidate a difficulty that fits the target sequence; cover the easiest and hardest tier.\n")
	b.WriteString("- Never propose two fill_in_the_blank categories that share the same connector word.\n")
	b.WriteString("- In red_herring_potential, name the other candidate categories its words could be confused with.\n")
	b.WriteString("- Category names are specific and written in UPPERCASE.\n")

	b.WriteString("\nDo NOT use these overused categories:\n")
	for _, c := range antiCliches {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

func groupPrompt(req GroupRequest, candidateCount int, tier models.DifficultyTier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design group %d of %d for a word-grouping puzzle.\n\n", len(req.ExistingGroups)+1, req.GroupCount)
	fmt.Fprintf(&b, "Category type: %s (%s)\n", req.CategoryType, categoryTypeDescriptions[req.CategoryType])
	fmt.Fprintf(&b, "Difficulty: %s\n", tierDescriptions[tier])
	if req.CategoryHint != "" {
		fmt.Fprintf(&b, "PROPOSED CONCEPT: %s\n", req.CategoryHint)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Write every word in UPPERCASE. Single words or very common short phrases only.\n")
	b.WriteString("- The category name must be specific: \"THINGS THAT ARE RED\" is too vague.\n")
	b.WriteString("- No word of the category name may appear in the word list.\n")
	fmt.Fprintf(&b, "- words: exactly %d words, your best choice for the group.\n", req.WordsPerGroup)
	fmt.Fprintf(&b, "- candidate_words: %d words that all fit the category, including the ones in words.\n", candidateCount)

	if len(req.ExistingGroups) > 0 {
		b.WriteString("- Do not reuse any word from the existing groups.\n")
		b.WriteString("- At least one candidate must genuinely fit this group AND be easy to confuse with an existing group.\n")
		b.WriteString("\nExisting groups:\n")
		for _, g := range req.ExistingGroups {
			fmt.Fprintf(&b, "- %s: %s\n", g.CategoryName, strings.Join(g.SelectedWords, ", "))
		}
	}

	b.WriteString("\nAvoid these overused categories:\n")
	for _, c := range antiCliches {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nFill design_notes first, then category_name, then words, then candidate_words.\n")
	return b.String()
}

func refinePrompt(groups []models.CandidateGroup) string {
	var b strings.Builder
	b.WriteString("Review this draft puzzle. Groups are numbered from 0.\n\n")
	for i, g := range groups {
		fmt.Fprintf(&b, "%d. %s [%s, %s]: %s\n", i, g.CategoryName, g.CategoryType, g.Tier, strings.Join(g.SelectedWords, ", "))
		var spare []string
		for _, w := range g.CandidateWords {
			if !g.HasSelected(w) {
				spare = append(spare, w)
			}
		}
		if len(spare) > 0 {
			fmt.Fprintf(&b, "   spare candidates: %s\n", strings.Join(spare, ", "))
		}
	}
	fmt.Fprintf(&b, `
1. List the red herrings already present: words that plausibly fit a group other than their own.
2. Suggest at most %d swaps that strengthen misdirection. A new word must come from the same group's spare candidates and must not be used anywhere else in the puzzle.
3. Flag any word most players would not know.
4. Summarise the puzzle's quality in analysis.`, maxSwaps)
	return b.String()
}
