package solver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ekaya-inc/puzzle-engine/pkg/llm"
)

const (
	StageSolve       = "solve"
	StageAdversarial = "adversarial"
	StageCalibrate   = "calibrate"
)

const solverSystem = `You are an expert solver of word-grouping puzzles in the style of the New York Times "Connections" game.
Every puzzle hides groups of words that share a specific connection: synonyms, members of a set, words that complete a phrase, wordplay, compound words or cultural references.
Puzzles contain red herrings: words that seem to fit more than one group. Think about every word before committing.`

var solutionSchema = llm.Schema{
	Name:        "submit_solution",
	Description: "Submit a complete grouping of every puzzle word.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "groups": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "words": {"type": "array", "items": {"type": "string"}},
          "connection": {"type": "string"}
        },
        "required": ["words", "connection"],
        "additionalProperties": false
      }
    }
  },
  "required": ["groups"],
  "additionalProperties": false
}`),
}

var alternativeSchema = llm.Schema{
	Name:        "submit_alternative_check",
	Description: "Report whether a different, equally valid grouping exists.",
	JSON: json.RawMessage(`{
  "type": "object",
  "properties": {
    "alternative_exists": {"type": "boolean"},
    "alternative_groups": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}},
    "reasoning": {"type": "string"}
  },
  "required": ["alternative_exists", "alternative_groups", "reasoning"],
  "additionalProperties": false
}`),
}

type solvedGroup struct {
	Words      []string `json:"words"`
	Connection string   `json:"connection"`
}

type solution struct {
	Groups []solvedGroup `json:"groups"`
}

type alternativeCheck struct {
	AlternativeExists bool       `json:"alternative_exists"`
	AlternativeGroups [][]string `json:"alternative_groups"`
	Reasoning         string     `json:"reasoning"`
}

func solvePrompt(words []string, groupCount, wordsPerGroup int) string {
	return fmt.Sprintf(`Here are %d words:

%s

Sort them into exactly %d groups of exactly %d words. Every word belongs to exactly one group.
For each group, name the connection you found. Give your best answer even if unsure.`,
		len(words), strings.ToUpper(strings.Join(words, ", ")), groupCount, wordsPerGroup)
}

func adversarialPrompt(intended [][]string, names []string) string {
	var b strings.Builder
	b.WriteString("A puzzle has this intended solution:\n\n")
	for i, g := range intended {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, names[i], strings.ToUpper(strings.Join(g, ", ")))
	}
	fmt.Fprintf(&b, `
Is there a DIFFERENT grouping of the same words into %d groups of %d that is equally valid, where every group has a specific, defensible connection?
Only answer yes if the whole alternative holds together: it must use every word exactly once.
Moving a single ambiguous word is not enough unless its old group still works without it.
If there is no such grouping, set alternative_exists to false and leave alternative_groups empty.`,
		len(intended), len(intended[0]))
	return b.String()
}
