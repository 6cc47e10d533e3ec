package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ent0n29/lia/internal/reliability"
)

// RateLimitedBackend spaces calls so the backend sees at most the configured
// requests per minute.
type RateLimitedBackend struct {
	next    Backend
	limiter *rate.Limiter
}

func NewRateLimitedBackend(next Backend, requestsPerMinute float64) *RateLimitedBackend {
	burst := int(requestsPerMinute / 60)
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedBackend{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60), burst),
	}
}

func (b *RateLimitedBackend) Name() string { return b.next.Name() }

func (b *RateLimitedBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limit wait: %w", ErrBackend, err)
	}
	return b.next.Complete(ctx, prompt, opts)
}

// RetryingBackend retries transient failures with capped exponential backoff.
type RetryingBackend struct {
	next   Backend
	policy reliability.Policy
	logger *zap.Logger
}

func NewRetryingBackend(next Backend, policy reliability.Policy, logger *zap.Logger) *RetryingBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingBackend{next: next, policy: policy, logger: logger}
}

func (b *RetryingBackend) Name() string { return b.next.Name() }

func (b *RetryingBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	policy := b.policy
	if opts.DisableRetry {
		policy.MaxRetries = 0
	}
	var text string
	err := reliability.Do(ctx, policy, IsRetryable, func(attempt int) error {
		if attempt > 0 {
			b.logger.Debug("retrying backend call", zap.String("backend", b.next.Name()), zap.Int("attempt", attempt))
		}
		out, err := b.next.Complete(ctx, prompt, opts)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// ObserveFunc receives the outcome of each backend call.
type ObserveFunc func(backend string, elapsed time.Duration, err error)

// ObservedBackend reports call latency and outcome to a callback.
type ObservedBackend struct {
	next    Backend
	observe ObserveFunc
}

func NewObservedBackend(next Backend, observe ObserveFunc) *ObservedBackend {
	return &ObservedBackend{next: next, observe: observe}
}

func (b *ObservedBackend) Name() string { return b.next.Name() }

func (b *ObservedBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	text, err := b.next.Complete(ctx, prompt, opts)
	if b.observe != nil {
		b.observe(b.next.Name(), time.Since(start), err)
	}
	return text, err
}
