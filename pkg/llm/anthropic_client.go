package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

// AnthropicClient generates structured output by forcing a single tool call
// whose input schema is the requested contract.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// AnthropicConfig holds configuration for creating an Anthropic client.
type AnthropicConfig struct {
	BaseURL   string // Empty uses the public API
	Model     string
	APIKey    string
	MaxTokens int
}

// NewAnthropicClient creates a new Anthropic structured-output client.
func NewAnthropicClient(cfg *AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// GenerateStructured forces a tool_use response and returns the tool input.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	prompt := req.Prompt

	c.logger.Debug("LLM request",
		zap.String("stage", req.Stage),
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float32("temperature", temperature))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
		Tools: []anthropic.ToolDefinition{{
			Name:        req.Schema.Name,
			Description: req.Schema.Description,
			InputSchema: req.Schema.JSON,
		}},
		ToolChoice: &anthropic.ToolChoice{Type: "tool", Name: req.Schema.Name},
	})
	if err != nil {
		c.logger.Warn("LLM request failed",
			zap.String("stage", req.Stage),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, c.parseError(err)
	}

	if resp.StopReason == anthropic.MessagesStopReasonMaxTokens {
		return nil, NewMalformedError("response truncated at max tokens", nil)
	}

	var input json.RawMessage
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeToolUse && block.MessageContentToolUse != nil &&
			block.MessageContentToolUse.Name == req.Schema.Name {
			input = block.MessageContentToolUse.Input
			break
		}
	}
	if len(input) == 0 {
		return nil, NewMalformedError(fmt.Sprintf("no %s tool call in response", req.Schema.Name), nil)
	}

	c.logger.Debug("LLM request completed",
		zap.String("stage", req.Stage),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &StructuredResponse{
		Data: input,
		Usage: Usage{
			Calls:        1,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Model: c.model,
	}, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

func (c *AnthropicClient) parseError(err error) error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		if e := ClassifyStatus(reqErr.StatusCode, err); e != nil {
			e.Model = c.model
			e.Provider = "anthropic"
			return e
		}
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		var e *Error
		switch string(apiErr.Type) {
		case "rate_limit_error":
			e = NewError(ErrorTypeRateLimit, "rate limited", true, err)
		case "overloaded_error", "api_error":
			e = NewError(ErrorTypeEndpoint, "server error", true, err)
		case "authentication_error", "permission_error":
			e = NewError(ErrorTypeAuth, "authentication failed", false, err)
		case "not_found_error":
			e = NewError(ErrorTypeModel, "model not found", false, err)
		case "invalid_request_error":
			e = NewError(ErrorTypeRequest, "request rejected", false, err)
		}
		if e != nil {
			e.Model = c.model
			e.Provider = "anthropic"
			return e
		}
	}
	e := ClassifyError(err)
	e.Model = c.model
	e.Provider = "anthropic"
	return e
}
