// Package llm provides structured-output generation and embedding clients.
package llm

import (
	"context"
	"encoding/json"
)

// Schema is a named JSON-schema output contract sent with a request.
type Schema struct {
	Name        string
	Description string
	JSON        json.RawMessage
}

// StructuredRequest asks a model for data conforming to Schema.
type StructuredRequest struct {
	// Stage labels the call for logging and metrics (e.g. "seed", "solve").
	Stage       string
	System      string
	Prompt      string
	Schema      Schema
	Temperature float32
	MaxTokens   int
}

// Usage is token accounting for one or more calls.
type Usage struct {
	Calls        int `json:"calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.Calls += other.Calls
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// StructuredResponse is the raw structured payload returned by a model.
type StructuredResponse struct {
	Data  json.RawMessage
	Usage Usage
	Model string
}

// Generator produces structured data for a schema. Errors are *Error values
// classified as transient or permanent.
// Use this interface for dependency injection to enable mocking in tests.
type Generator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)

	// GetModel returns the configured model name.
	GetModel() string
}

// Embedder returns one fixed-dimension vector per input. The same input
// always yields the same vector.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// GetModel returns the configured embedding model name.
	GetModel() string
}

// Ensure clients implement the interfaces at compile time.
var (
	_ Generator = (*OpenAIClient)(nil)
	_ Generator = (*AnthropicClient)(nil)
	_ Embedder  = (*OpenAIEmbedder)(nil)
)
