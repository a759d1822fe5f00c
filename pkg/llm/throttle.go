package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle is a process-wide token bucket shared by every external model
// call. Waiting suspends the caller until a token is available.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows perMinute calls per minute with the given burst.
func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Tokens reports the currently available tokens.
func (t *Throttle) Tokens() float64 {
	if t == nil {
		return 0
	}
	return t.limiter.Tokens()
}
