package vectormem

import (
	"context"
	"time"

	"github.com/hrygo/mnemo/mcos/memory"
	"github.com/hrygo/mnemo/mcos/observability/logging"
)

// retryPolicy is exponential backoff for transient downstream failures.
type retryPolicy struct {
	base     time.Duration
	cap      time.Duration
	attempts int
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{base: 500 * time.Millisecond, cap: 4 * time.Second, attempts: 5}
}

// do runs fn with backoff. Only transient errors are retried; anything else
// is surfaced immediately. onRetry fires before each sleep.
func (p retryPolicy) do(ctx context.Context, logger *logging.Logger, op string, onRetry func(), fn func(context.Context) error) error {
	delay := p.base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !memory.IsTransient(err) || attempt >= p.attempts {
			return err
		}
		if onRetry != nil {
			onRetry()
		}
		logger.Warn("transient failure, backing off",
			"op", op, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.cap {
			delay = p.cap
		}
	}
}
