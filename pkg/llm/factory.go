package llm

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/config"
)

// ClientFactory builds provider clients from server configuration.
// Use it at wiring time; pipeline components take the Generator and
// Embedder interfaces so tests can inject mocks.
type ClientFactory struct {
	generation config.GenerationConfig
	embedding  config.EmbeddingConfig
	logger     *zap.Logger
}

// NewClientFactory creates a new factory.
func NewClientFactory(generation config.GenerationConfig, embedding config.EmbeddingConfig, logger *zap.Logger) *ClientFactory {
	return &ClientFactory{
		generation: generation,
		embedding:  embedding,
		logger:     logger,
	}
}

// CreateGenerator returns the generation client for the configured provider.
func (f *ClientFactory) CreateGenerator() (Generator, error) {
	return f.create(f.generation.Model)
}

// CreateSolverGenerator returns a client for solver calls, which may use a
// different model than generation.
func (f *ClientFactory) CreateSolverGenerator() (Generator, error) {
	model := f.generation.SolverModel
	if model == "" {
		model = f.generation.Model
	}
	return f.create(model)
}

func (f *ClientFactory) create(model string) (Generator, error) {
	switch f.generation.Provider {
	case "", "anthropic":
		client, err := NewAnthropicClient(&AnthropicConfig{
			BaseURL:   f.generation.BaseURL,
			Model:     model,
			APIKey:    f.generation.AnthropicKey,
			MaxTokens: f.generation.MaxTokens,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	case "openai":
		client, err := NewOpenAIClient(&OpenAIConfig{
			BaseURL:   f.generation.BaseURL,
			Model:     model,
			APIKey:    f.generation.OpenAIKey,
			MaxTokens: f.generation.MaxTokens,
		}, f.logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", f.generation.Provider)
	}
}

// CreateEmbedder returns the embedding client.
func (f *ClientFactory) CreateEmbedder() (Embedder, error) {
	emb, err := NewOpenAIEmbedder(&OpenAIEmbedderConfig{
		BaseURL:    f.embedding.BaseURL,
		Model:      f.embedding.Model,
		APIKey:     f.embedding.APIKey,
		Dimensions: f.embedding.Dimensions,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return emb, nil
}

// CallerConfigFrom derives caller retry and timeout settings from cfg.
func CallerConfigFrom(cfg config.GenerationConfig) CallerConfig {
	cc := DefaultCallerConfig()
	if cfg.MaxRetries >= 0 {
		cc.Retry.MaxRetries = cfg.MaxRetries
	}
	if cfg.CallTimeout > 0 {
		cc.CallTimeout = cfg.CallTimeout
	}
	return cc
}
