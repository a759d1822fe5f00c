package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
)

// StageHandler returns the payload a MockGenerator should answer with for
// one request. The value is marshaled to JSON.
type StageHandler func(req StructuredRequest) (any, error)

// MockGenerator is a configurable Generator for tests. Handlers are looked
// up by request stage; GenerateStructuredFunc overrides everything.
type MockGenerator struct {
	// GenerateStructuredFunc, if set, handles every request.
	GenerateStructuredFunc func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	mu       sync.Mutex
	handlers map[string]StageHandler
	requests []StructuredRequest
}

// NewMockGenerator creates a mock with no stage handlers.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		Model:    "mock-model",
		handlers: make(map[string]StageHandler),
	}
}

// OnStage registers fn for requests whose Stage equals stage.
func (m *MockGenerator) OnStage(stage string, fn StageHandler) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]StageHandler)
	}
	m.handlers[stage] = fn
	return m
}

// GenerateStructured implements Generator.
func (m *MockGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.handlers[req.Stage]
	fn := m.GenerateStructuredFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if handler == nil {
		return nil, NewError(ErrorTypeRequest, fmt.Sprintf("mock: no handler for stage %q", req.Stage), false, nil)
	}

	payload, err := handler(req)
	if err != nil {
		return nil, err
	}
	return JSONResponse(payload)
}

// GetModel implements Generator.
func (m *MockGenerator) GetModel() string {
	if m.Model == "" {
		return "mock-model"
	}
	return m.Model
}

// Calls returns the total number of requests received.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CallsForStage returns the number of requests received for stage.
func (m *MockGenerator) CallsForStage(stage string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Stage == stage {
			n++
		}
	}
	return n
}

// Requests returns a copy of every request received, in arrival order.
func (m *MockGenerator) Requests() []StructuredRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StructuredRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// JSONResponse marshals v into a single-call StructuredResponse.
func JSONResponse(v any) (*StructuredResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mock: marshal payload: %w", err)
	}
	return &StructuredResponse{
		Data:  data,
		Usage: Usage{Calls: 1, InputTokens: 100, OutputTokens: 50},
		Model: "mock-model",
	}, nil
}

// MockEmbedder is an Embedder for tests. Words listed in Vectors get those
// vectors; anything else gets a deterministic pseudo-random unit vector.
type MockEmbedder struct {
	// EmbedFunc, if set, handles every request.
	EmbedFunc func(ctx context.Context, inputs []string) ([][]float32, error)

	// Vectors maps lowercase words to fixed vectors.
	Vectors map[string][]float32

	dim   int
	mu    sync.Mutex
	calls int
}

// NewMockEmbedder creates a mock producing vectors of length dim.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{dim: dim, Vectors: make(map[string][]float32)}
}

// Embed implements Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, inputs)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		key := strings.ToLower(in)
		if v, ok := m.Vectors[key]; ok {
			out[i] = v
			continue
		}
		out[i] = hashVector(key, m.dim)
	}
	return out, nil
}

// GetModel implements Embedder.
func (m *MockEmbedder) GetModel() string {
	return "mock-embedding"
}

// Calls returns how many times Embed was invoked.
func (m *MockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func hashVector(s string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float32, dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

var (
	_ Generator = (*MockGenerator)(nil)
	_ Embedder  = (*MockEmbedder)(nil)
)
