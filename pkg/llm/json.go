package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// reasoningPrefix matches a leading <think>...</think> block some
// OpenAI-compatible models emit before their answer.
var reasoningPrefix = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// ExtractJSON pulls the first complete JSON object or array out of a model
// response, tolerating reasoning prefixes, markdown fences and trailing prose.
func ExtractJSON(response string) (json.RawMessage, error) {
	cleaned := reasoningPrefix.ReplaceAllString(response, "")

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if raw, ok := balanced(cleaned[objStart:], '{', '}'); ok && json.Valid([]byte(raw)) {
			return json.RawMessage(raw), nil
		}
	}
	if arrStart >= 0 {
		if raw, ok := balanced(cleaned[arrStart:], '[', ']'); ok && json.Valid([]byte(raw)) {
			return json.RawMessage(raw), nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	return nil, NewMalformedError("no valid JSON found in response", nil)
}

// balanced returns the prefix of s that closes the bracket opened at s[0].
func balanced(s string, open, close byte) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// DecodeStructured unmarshals a structured payload into T. Decode failures
// are reported as malformed output so the caller can re-prompt.
func DecodeStructured[T any](data json.RawMessage) (T, error) {
	var out T
	if len(bytes.TrimSpace(data)) == 0 {
		return out, NewMalformedError("empty structured payload", nil)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, NewMalformedError(fmt.Sprintf("payload does not match schema: %v", err), err)
	}
	return out, nil
}
