package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/puzzle-engine/pkg/retry"
)

// GuardedEmbedder gives embedding requests the same treatment Caller gives
// structured calls: each attempt takes a throttle token, passes the circuit
// breaker and runs under CallTimeout, and transient failures are retried
// with backoff.
type GuardedEmbedder struct {
	inner    Embedder
	breaker  *CircuitBreaker
	throttle *Throttle
	cfg      CallerConfig
	logger   *zap.Logger
}

// NewGuardedEmbedder wraps inner. breaker and throttle may be nil.
func NewGuardedEmbedder(inner Embedder, breaker *CircuitBreaker, throttle *Throttle, cfg CallerConfig, logger *zap.Logger) *GuardedEmbedder {
	if cfg.Retry == nil {
		cfg.Retry = DefaultCallerConfig().Retry
	}
	return &GuardedEmbedder{
		inner:    inner,
		breaker:  breaker,
		throttle: throttle,
		cfg:      cfg,
		logger:   logger.Named("llm-embedder"),
	}
}

// Embed implements Embedder.
func (e *GuardedEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	var vectors [][]float32
	err := retry.DoIfRetryable(ctx, e.cfg.Retry, func() error {
		out, err := e.embedOnce(ctx, inputs)
		if err != nil {
			return err
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// GetModel implements Embedder.
func (e *GuardedEmbedder) GetModel() string {
	return e.inner.GetModel()
}

func (e *GuardedEmbedder) embedOnce(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := e.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	vectors, err := e.inner.Embed(callCtx, inputs)
	if err == nil && len(vectors) != len(inputs) {
		err = NewMalformedError(fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(vectors)), nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		llmErr := ClassifyError(err)
		if e.breaker != nil {
			if llmErr.Type == ErrorTypeMalformed {
				e.breaker.RecordSuccess()
			} else {
				e.breaker.RecordFailure()
			}
		}
		e.logger.Warn("Embedding call failed",
			zap.Int("inputs", len(inputs)),
			zap.String("error_type", string(llmErr.Type)),
			zap.Bool("retryable", llmErr.Retryable),
			zap.Error(llmErr))
		return nil, llmErr
	}

	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	return vectors, nil
}

var _ Embedder = (*GuardedEmbedder)(nil)
