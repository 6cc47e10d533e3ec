// Package llm adapts generative text backends behind one blocking Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/reliability"
)

var (
	// ErrBackend wraps every failure returned by a backend.
	ErrBackend = errors.New("generative backend error")
	// ErrTransport marks network level failures that are worth retrying.
	ErrTransport = errors.New("backend transport failure")
)

// Options tunes a single completion.
type Options struct {
	Temperature float64
	MaxTokens   int
	// DisableRetry asks decorators to make exactly one attempt.
	DisableRetry bool
}

// Backend completes a prompt into text.
type Backend interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	Name() string
}

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s returned %d %s", e.Provider, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Code, body)
}

func (e *StatusError) Unwrap() error { return ErrBackend }

// IsRetryable reports whether err came from a transient condition.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.Code)
	}
	return errors.Is(err, ErrTransport)
}

// Config controls backend construction.
type Config struct {
	Provider          string
	BaseURL           string
	APIKey            string
	Model             string
	CLIPath           string
	GeminiAPIKey      string
	GeminiModel       string
	Timeout           time.Duration
	RequestsPerMinute float64
	MaxRetries        int
}

// NewBackend builds the configured backend and wraps it with retry and
// rate limiting.
func NewBackend(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	var (
		base Backend
		err  error
	)
	switch mode {
	case "auto":
		base, err = newAutoBackend(ctx, cfg, logger)
	case "openai":
		base, err = NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	case "gemini":
		base, err = NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("LLM_CLI_PATH is required for cli mode")
		}
		base = NewCLIBackend(cfg.CLIPath)
	case "mock":
		base = NewMockBackend()
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	var b Backend = base
	if cfg.MaxRetries > 0 {
		b = NewRetryingBackend(b, reliability.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   4 * time.Second,
		}, logger)
	}
	if cfg.RequestsPerMinute > 0 {
		b = NewRateLimitedBackend(b, cfg.RequestsPerMinute)
	}
	logger.Info("generative backend ready", zap.String("backend", b.Name()))
	return b, nil
}

func newAutoBackend(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	var candidates []Backend

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		g, err := NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini backend unavailable", zap.Error(err))
		} else {
			candidates = append(candidates, g)
		}
	}
	if strings.TrimSpace(cfg.APIKey) != "" || strings.TrimSpace(cfg.BaseURL) != "" {
		o, err := NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
		if err != nil {
			logger.Warn("openai backend unavailable", zap.Error(err))
		} else {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		if cliPath := strings.TrimSpace(cfg.CLIPath); cliPath != "" {
			if _, err := exec.LookPath(strings.Fields(cliPath)[0]); err == nil {
				candidates = append(candidates, NewCLIBackend(cliPath))
			}
		}
	}

	switch len(candidates) {
	case 0:
		logger.Warn("no generative backend configured, using mock replies")
		return NewMockBackend(), nil
	case 1:
		return candidates[0], nil
	default:
		return NewFallbackBackend(candidates[0], candidates[1]), nil
	}
}
