package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

// Call outcomes reported to a CallObserver.
const (
	OutcomeSuccess   = "success"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// CallObserver receives one event per model call attempt.
type CallObserver interface {
	ObserveLLMCall(stage, outcome string, elapsed time.Duration, usage Usage)
}

// CallerConfig configures retries and timeouts for structured calls.
type CallerConfig struct {
	Retry       *retry.Config
	CallTimeout time.Duration
}

// DefaultCallerConfig retries twice after the first attempt with 1s then 2s
// backoff, giving three attempts in total.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		Retry:       retry.DefaultConfig(),
		CallTimeout: 90 * time.Second,
	}
}

// Caller centralizes how every stage and validator talks to a Generator:
// throttling, circuit breaking, per-call timeouts, retries with backoff,
// schema decoding and corrective re-prompting.
type Caller struct {
	gen      Generator
	breaker  *CircuitBreaker
	throttle *Throttle
	cfg      CallerConfig
	observer CallObserver
	logger   *zap.Logger
}

// NewCaller wraps gen. breaker, throttle and observer may be nil.
func NewCaller(gen Generator, breaker *CircuitBreaker, throttle *Throttle, cfg CallerConfig, observer CallObserver, logger *zap.Logger) *Caller {
	if cfg.Retry == nil {
		cfg.Retry = DefaultCallerConfig().Retry
	}
	return &Caller{
		gen:      gen,
		breaker:  breaker,
		throttle: throttle,
		cfg:      cfg,
		observer: observer,
		logger:   logger.Named("llm-caller"),
	}
}

// Model returns the underlying generator's model.
func (c *Caller) Model() string {
	return c.gen.GetModel()
}

// Validator checks decoded output beyond what the schema expresses. A
// returned error becomes a retryable malformed-output error whose message is
// fed back to the model on the next attempt.
type Validator[T any] func(T) error

// Call performs req, decodes the structured payload into T, and validates it.
// Usage is accumulated across attempts, including failed ones.
func Call[T any](ctx context.Context, c *Caller, req StructuredRequest, validate Validator[T]) (T, Usage, error) {
	var (
		result    T
		total     Usage
		violation string
	)
	basePrompt := req.Prompt

	err := retry.DoIfRetryable(ctx, c.cfg.Retry, func() error {
		attempt := req
		if violation != "" {
			attempt.Prompt = basePrompt + "\n\nYOUR PREVIOUS RESPONSE WAS REJECTED: " + violation +
				"\nFix this problem and respond again using the required format."
		}

		decoded, usage, err := callOnce[T](ctx, c, attempt)
		total.Add(usage)
		if err == nil && validate != nil {
			if verr := validate(decoded); verr != nil {
				err = NewMalformedError(verr.Error(), verr)
				c.observe(req.Stage, OutcomeMalformed, 0, Usage{})
			}
		}
		if err != nil {
			if GetErrorType(err) == ErrorTypeMalformed {
				violation = ClassifyError(err).Message
			}
			return err
		}
		result = decoded
		return nil
	})
	return result, total, err
}

func callOnce[T any](ctx context.Context, c *Caller, req StructuredRequest) (T, Usage, error) {
	var zero T

	if err := c.throttle.Wait(ctx); err != nil {
		return zero, Usage{}, err
	}
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return zero, Usage{}, err
		}
	}

	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.gen.GenerateStructured(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up; this says nothing about provider health.
			return zero, Usage{}, ctx.Err()
		}
		llmErr := ClassifyError(err)
		if c.breaker != nil {
			if llmErr.Type == ErrorTypeMalformed {
				c.breaker.RecordSuccess()
			} else {
				c.breaker.RecordFailure()
			}
		}
		outcome := OutcomeError
		if llmErr.Type == ErrorTypeMalformed {
			outcome = OutcomeMalformed
		}
		c.observe(req.Stage, outcome, elapsed, Usage{Calls: 1})
		c.logger.Warn("Model call failed",
			zap.String("stage", req.Stage),
			zap.String("error_type", string(llmErr.Type)),
			zap.Bool("retryable", llmErr.Retryable),
			zap.Duration("elapsed", elapsed),
			zap.Error(llmErr))
		return zero, Usage{Calls: 1}, llmErr
	}

	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}

	decoded, err := DecodeStructured[T](resp.Data)
	if err != nil {
		c.observe(req.Stage, OutcomeMalformed, elapsed, resp.Usage)
		return zero, resp.Usage, err
	}

	c.observe(req.Stage, OutcomeSuccess, elapsed, resp.Usage)
	return decoded, resp.Usage, nil
}

func (c *Caller) observe(stage, outcome string, elapsed time.Duration, usage Usage) {
	if c.observer != nil {
		c.observer.ObserveLLMCall(stage, outcome, elapsed, usage)
	}
}
