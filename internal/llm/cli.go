package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CLIBackend pipes the prompt on stdin to a local model binary such as
// `ollama run llama3` and reads the reply from stdout.
type CLIBackend struct {
	binaryPath string
	args       []string
}

func NewCLIBackend(commandLine string) *CLIBackend {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return &CLIBackend{}
	}
	return &CLIBackend{binaryPath: fields[0], args: fields[1:]}
}

func (b *CLIBackend) Name() string { return "cli:" + b.binaryPath }

func (b *CLIBackend) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	if b.binaryPath == "" {
		return "", fmt.Errorf("%w: cli backend has no binary", ErrBackend)
	}
	cmd := exec.CommandContext(ctx, b.binaryPath, b.args...)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return "", fmt.Errorf("%w: cli: %w", ErrBackend, ctx.Err())
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return "", fmt.Errorf("%w: cli failed: %v: %s", ErrBackend, err, errText)
		}
		return "", fmt.Errorf("%w: cli failed: %v", ErrBackend, err)
	}

	text := parseCLIReply(stdout.String())
	if text == "" {
		text = strings.TrimSpace(stdout.String())
	}
	if text == "" {
		return "", fmt.Errorf("%w: cli produced no output", ErrBackend)
	}
	return text, nil
}

// parseCLIReply extracts the reply from CLIs that print a JSON envelope.
// Plain-text output yields "".
func parseCLIReply(raw string) string {
	obj, ok := parseJSONObject(raw)
	if !ok {
		return ""
	}
	if text := pickStringField(obj, "response", "text", "output", "content"); text != "" {
		return text
	}
	if msg, ok := obj["message"].(map[string]any); ok {
		return pickStringField(msg, "content", "text")
	}
	return pickStringField(obj, "message")
}

func pickStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func parseJSONObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.Contains(raw, "{") {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}

	// Many CLIs emit logs before JSON. Parse from the last JSON-looking block.
	if start := strings.LastIndex(raw, "\n{"); start >= 0 {
		if err := json.Unmarshal([]byte(raw[start+1:]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}
