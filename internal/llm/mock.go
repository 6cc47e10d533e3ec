package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockBackend gives deterministic offline answers. It recognizes the answer
// cue a prompt ends with and replies in that shape.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return "mock" }

func (b *MockBackend) Complete(ctx context.Context, prompt string, _ Options) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: mock: %w", ErrBackend, ctx.Err())
	default:
	}

	cue := lastLine(prompt)
	request := strings.ToLower(requestLine(prompt))
	switch {
	case strings.HasPrefix(cue, "Classification:"):
		return mockClassify(request), nil
	case strings.HasPrefix(cue, "Command:"):
		return mockCommand(request), nil
	case strings.HasPrefix(cue, "SQL Query:"):
		return mockQuery(request), nil
	}

	base := strings.TrimSpace(requestLine(prompt))
	if base == "" {
		base = "I am listening."
	}
	return fmt.Sprintf("I heard you: %s", base), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// requestLine returns the text after the last "Request:" label.
func requestLine(prompt string) string {
	i := strings.LastIndex(prompt, "Request:")
	if i < 0 {
		return lastLine(prompt)
	}
	rest := prompt[i+len("Request:"):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func mockClassify(request string) string {
	switch {
	case containsAny(request, "process", "listening", "port", "users", "logged in", "installed", "uptime", "kernel", "query"):
		return "QUERY"
	case containsAny(request, "disk", "files", "directory", "folder", "ping", "free memory", "run "):
		return "COMMAND"
	default:
		return "CONVERSATION"
	}
}

func mockCommand(request string) string {
	switch {
	case containsAny(request, "disk"):
		return "df -h"
	case containsAny(request, "files", "folder", "directory"):
		return "ls -la"
	case containsAny(request, "free memory"):
		return "free -h"
	default:
		return "NO_COMMAND"
	}
}

func mockQuery(request string) string {
	switch {
	case containsAny(request, "listening", "port"):
		return "SELECT pid, port, protocol, address FROM listening_ports LIMIT 50;"
	case containsAny(request, "process"):
		return "SELECT pid, name FROM processes LIMIT 50;"
	case containsAny(request, "logged in"):
		return "SELECT user, host, time FROM logged_in_users LIMIT 50;"
	case containsAny(request, "users"):
		return "SELECT username, uid, shell FROM users LIMIT 50;"
	case containsAny(request, "uptime"):
		return "SELECT days, hours, minutes FROM uptime LIMIT 1;"
	default:
		return "NOT_APPLICABLE"
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
