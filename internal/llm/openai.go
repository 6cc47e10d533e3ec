package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIBackend talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIBackend struct {
	model  string
	client *resty.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewOpenAIBackend(baseURL, apiKey, model string, timeout time.Duration) (*OpenAIBackend, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if baseURL == defaultOpenAIBaseURL && strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required for %s", defaultOpenAIBaseURL)
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if key := strings.TrimSpace(apiKey); key != "" {
		client.SetAuthToken(key)
	}
	return &OpenAIBackend{model: model, client: client}, nil
}

func (b *OpenAIBackend) Name() string { return "openai:" + b.model }

func (b *OpenAIBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var out chatResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       b.model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: openai: %w", ErrBackend, ctx.Err())
		}
		return "", fmt.Errorf("%w: openai request: %w: %v", ErrBackend, ErrTransport, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", &StatusError{Provider: "openai", Code: resp.StatusCode(), Body: resp.String()}
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", ErrBackend)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
