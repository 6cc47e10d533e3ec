package llm

import (
	"context"
	"errors"
	"fmt"
)

// FallbackBackend attempts a primary backend first and falls back on error.
type FallbackBackend struct {
	primary  Backend
	fallback Backend
}

func NewFallbackBackend(primary Backend, fallback Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, fallback: fallback}
}

// Primary returns the preferred backend used before fallback.
func (b *FallbackBackend) Primary() Backend {
	if b == nil {
		return nil
	}
	return b.primary
}

// Secondary returns the fallback backend.
func (b *FallbackBackend) Secondary() Backend {
	if b == nil {
		return nil
	}
	return b.fallback
}

func (b *FallbackBackend) Name() string {
	if b.fallback == nil {
		return b.primary.Name()
	}
	return b.primary.Name() + "|" + b.fallback.Name()
}

func (b *FallbackBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	if b == nil || b.primary == nil {
		if b != nil && b.fallback != nil {
			return b.fallback.Complete(ctx, prompt, opts)
		}
		return "", fmt.Errorf("%w: fallback backend misconfigured", ErrBackend)
	}
	text, err := b.primary.Complete(ctx, prompt, opts)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	if b.fallback == nil {
		return "", err
	}
	text, fallbackErr := b.fallback.Complete(ctx, prompt, opts)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary backend error: %w; fallback backend error: %v", err, fallbackErr)
	}
	return text, nil
}
