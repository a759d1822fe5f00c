package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

type wordPayload struct {
	Words []string `json:"words"`
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveLLMCall(stage, outcome string, elapsed time.Duration, usage Usage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, stage+":"+outcome)
}

func fastCallerConfig() CallerConfig {
	return CallerConfig{
		Retry: &retry.Config{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1.0,
		},
		CallTimeout: time.Second,
	}
}

func wordRequest() StructuredRequest {
	return StructuredRequest{
		Stage:  "group",
		Prompt: "Give me four words.",
		Schema: Schema{Name: "submit_word_group"},
	}
}

func TestCall_DecodesPayload(t *testing.T) {
	gen := NewMockGenerator().OnStage("group", func(req StructuredRequest) (any, error) {
		return wordPayload{Words: []string{"bass", "pike", "carp", "sole"}}, nil
	})
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), nil, zap.NewNop())

	out, usage, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"bass", "pike", "carp", "sole"}, out.Words)
	assert.Equal(t, 1, usage.Calls)
	assert.Equal(t, 100, usage.InputTokens)
}

func TestCall_RepromptsAfterValidationFailure(t *testing.T) {
	attempt := 0
	gen := NewMockGenerator().OnStage("group", func(req StructuredRequest) (any, error) {
		attempt++
		if attempt == 1 {
			return wordPayload{Words: []string{"bass", "pike", "carp"}}, nil
		}
		return wordPayload{Words: []string{"bass", "pike", "carp", "sole"}}, nil
	})
	obs := &recordingObserver{}
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), obs, zap.NewNop())

	validate := func(p wordPayload) error {
		if len(p.Words) != 4 {
			return fmt.Errorf("words: expected 4, got %d", len(p.Words))
		}
		return nil
	}

	out, usage, err := Call[wordPayload](context.Background(), caller, wordRequest(), validate)

	require.NoError(t, err)
	assert.Len(t, out.Words, 4)
	assert.Equal(t, 2, usage.Calls)

	reqs := gen.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Prompt, "REJECTED")
	assert.Contains(t, reqs[1].Prompt, "YOUR PREVIOUS RESPONSE WAS REJECTED: words: expected 4, got 3")
	assert.True(t, strings.HasPrefix(reqs[1].Prompt, "Give me four words."))
	assert.Contains(t, obs.outcomes, "group:malformed")
}

func TestCall_MalformedOutputExhaustsRetries(t *testing.T) {
	gen := NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
		return &StructuredResponse{Data: []byte(`{"words": "not-a-list"}`), Usage: Usage{Calls: 1}}, nil
	}
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), nil, zap.NewNop())

	_, usage, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.Error(t, err)
	assert.Equal(t, ErrorTypeMalformed, GetErrorType(err))
	assert.Equal(t, 3, gen.Calls())
	assert.Equal(t, 3, usage.Calls)
}

func TestCall_PermanentErrorIsNotRetried(t *testing.T) {
	gen := NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
		return nil, ClassifyStatus(401, errors.New("invalid x-api-key"))
	}
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), nil, zap.NewNop())

	_, _, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.Error(t, err)
	assert.Equal(t, ErrorTypeAuth, GetErrorType(err))
	assert.Equal(t, 1, gen.Calls())
}

func TestCall_TransientErrorThenSuccess(t *testing.T) {
	attempt := 0
	gen := NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
		attempt++
		if attempt == 1 {
			return nil, ClassifyStatus(529, errors.New("overloaded"))
		}
		return JSONResponse(wordPayload{Words: []string{"a", "b", "c", "d"}})
	}
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), nil, zap.NewNop())

	out, _, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.NoError(t, err)
	assert.Len(t, out.Words, 4)
	assert.Equal(t, 2, gen.Calls())
	// Transport failures are not fed back to the model.
	assert.NotContains(t, gen.Requests()[1].Prompt, "REJECTED")
}

func TestCall_OpenCircuitSkipsProvider(t *testing.T) {
	gen := NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
		return nil, ClassifyStatus(503, errors.New("unavailable"))
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Name: "mock", Threshold: 2, ResetAfter: time.Hour})
	cfg := fastCallerConfig()
	cfg.Retry.MaxRetries = 5
	caller := NewCaller(gen, breaker, nil, cfg, nil, zap.NewNop())

	_, _, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.Error(t, err)
	assert.Equal(t, ErrorTypeCircuit, GetErrorType(err))
	assert.Equal(t, 2, gen.Calls(), "provider should not be called once the circuit opens")
	assert.Equal(t, CircuitOpen, breaker.State())
}

func TestCall_MalformedOutputDoesNotTripBreaker(t *testing.T) {
	gen := NewMockGenerator()
	gen.GenerateStructuredFunc = func(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
		return nil, NewMalformedError("response truncated at max tokens", nil)
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{Name: "mock", Threshold: 1, ResetAfter: time.Hour})
	caller := NewCaller(gen, breaker, nil, fastCallerConfig(), nil, zap.NewNop())

	_, _, err := Call[wordPayload](context.Background(), caller, wordRequest(), nil)

	require.Error(t, err)
	assert.Equal(t, CircuitClosed, breaker.State())
	assert.Equal(t, 3, gen.Calls())
}

func TestCall_CancelledContext(t *testing.T) {
	gen := NewMockGenerator().OnStage("group", func(req StructuredRequest) (any, error) {
		return wordPayload{}, nil
	})
	caller := NewCaller(gen, nil, nil, fastCallerConfig(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Call[wordPayload](ctx, caller, wordRequest(), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	emb := NewMockEmbedder(8)

	a, err := emb.Embed(context.Background(), []string{"Bass", "pike"})
	require.NoError(t, err)
	b, err := emb.Embed(context.Background(), []string{"bass"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.NotEqual(t, a[0], a[1])
	assert.Len(t, a[0], 8)
	assert.Equal(t, 2, emb.Calls())
}
