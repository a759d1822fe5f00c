package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIClient generates structured output through an OpenAI-compatible
// chat completions endpoint using json_schema response formats.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// OpenAIConfig holds configuration for creating an OpenAI-compatible client.
type OpenAIConfig struct {
	BaseURL   string // Empty uses the public OpenAI endpoint
	Model     string
	APIKey    string // Optional for local endpoints
	MaxTokens int
}

// NewOpenAIClient creates a new structured-output client.
func NewOpenAIClient(cfg *OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(openAIClientConfig(cfg.APIKey, cfg.BaseURL)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm-openai"),
	}, nil
}

func openAIClientConfig(apiKey, baseURL string) openai.ClientConfig {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return clientConfig
}

// GenerateStructured sends the prompt with a json_schema response format and
// returns the message content as raw JSON.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	c.logger.Debug("LLM request",
		zap.String("stage", req.Stage),
		zap.String("model", c.model),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Float32("temperature", req.Temperature))

	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        req.Schema.Name,
				Description: req.Schema.Description,
				Schema:      req.Schema.JSON,
			},
		},
	})
	if err != nil {
		c.logger.Warn("LLM request failed",
			zap.String("stage", req.Stage),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.parseError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, NewMalformedError("no choices in response", nil)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return nil, NewMalformedError("response truncated at max tokens", nil)
	}

	data, err := ExtractJSON(choice.Message.Content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("LLM request completed",
		zap.String("stage", req.Stage),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &StructuredResponse{
		Data: data,
		Usage: Usage{
			Calls:        1,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: c.model,
	}, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.model
}

// parseError categorizes OpenAI API errors using the structured Error type.
func (c *OpenAIClient) parseError(err error) error {
	return classifyOpenAIError(err, c.model)
}

func classifyOpenAIError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if e := ClassifyStatus(apiErr.HTTPStatusCode, err); e != nil {
			e.Model = model
			e.Provider = "openai"
			return e
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if e := ClassifyStatus(reqErr.HTTPStatusCode, err); e != nil {
			e.Model = model
			e.Provider = "openai"
			return e
		}
	}
	e := ClassifyError(err)
	e.Model = model
	e.Provider = "openai"
	return e
}

// OpenAIEmbedder produces embeddings from an OpenAI-compatible endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

// OpenAIEmbedderConfig holds configuration for the embedder.
type OpenAIEmbedderConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int // 0 keeps the model's native size
}

// NewOpenAIEmbedder creates a new embedding client.
func NewOpenAIEmbedder(cfg *OpenAIEmbedderConfig, logger *zap.Logger) (*OpenAIEmbedder, error) {
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(openAIClientConfig(cfg.APIKey, cfg.BaseURL)),
		model:      model,
		dimensions: cfg.Dimensions,
		logger:     logger.Named("llm-embedder"),
	}, nil
}

// Embed generates embeddings for multiple inputs, in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      inputs,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError(err, e.model)
	}
	if len(resp.Data) != len(inputs) {
		return nil, NewMalformedError(fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)), nil)
	}

	embeddings := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, NewMalformedError(fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		embeddings[d.Index] = d.Embedding
	}

	e.logger.Debug("Embeddings created",
		zap.Int("inputs", len(inputs)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens))

	return embeddings, nil
}

// GetModel returns the configured embedding model name.
func (e *OpenAIEmbedder) GetModel() string {
	return e.model
}
