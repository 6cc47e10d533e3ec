package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
)

type scriptedBackend struct {
	reply   string
	err     error
	calls   int
	prompts []string
	opts    []llm.Options
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(_ context.Context, prompt string, opts llm.Options) (string, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	return s.reply, s.err
}

func TestParseLabel(t *testing.T) {
	cases := []struct {
		raw  string
		want Intent
		ok   bool
	}{
		{"CONVERSATION", Conversation, true},
		{"command", Command, true},
		{" Query.\n", Query, true},
		{"OS_COMMAND", Command, true},
		{"OSQUERY", Query, true},
		{"CHAT", Conversation, true},
		{"Classification: QUERY", Query, true},
		{"I think this is a COMMAND request", Command, true},
		{"COMMAND or QUERY", Unknown, false},
		{"CHAT, maybe COMMAND", Conversation, true},
		{"banana", Unknown, false},
		{"", Unknown, false},
	}
	for _, tc := range cases {
		got, ok := ParseLabel(tc.raw)
		assert.Equal(t, tc.want, got, "ParseLabel(%q)", tc.raw)
		assert.Equal(t, tc.ok, ok, "ParseLabel(%q) ok", tc.raw)
	}
}

func TestClassifyEmptySkipsBackend(t *testing.T) {
	b := &scriptedBackend{reply: "COMMAND"}
	r := NewRouter(b, zap.NewNop())
	got, err := r.Classify(context.Background(), "   \t", memory.Context{})
	require.NoError(t, err)
	assert.Equal(t, Conversation, got)
	assert.Zero(t, b.calls)
}

func TestClassifyUsesBackend(t *testing.T) {
	b := &scriptedBackend{reply: "QUERY"}
	r := NewRouter(b, zap.NewNop())
	got, err := r.Classify(context.Background(), "show running processes", memory.Context{})
	require.NoError(t, err)
	assert.Equal(t, Query, got)
	require.Equal(t, 1, b.calls)
	assert.True(t, strings.HasSuffix(b.prompts[0], "Request: show running processes\nClassification:"))
	assert.True(t, b.opts[0].DisableRetry)
	assert.Zero(t, b.opts[0].Temperature)
}

func TestClassifyFailsSafe(t *testing.T) {
	b := &scriptedBackend{err: llm.ErrBackend}
	r := NewRouter(b, zap.NewNop())
	got, err := r.Classify(context.Background(), "delete everything", memory.Context{})
	assert.Equal(t, Conversation, got)
	assert.True(t, errors.Is(err, llm.ErrBackend))
	assert.Equal(t, 1, b.calls, "classification is never retried")

	b = &scriptedBackend{reply: "SHELL"}
	got, err = NewRouter(b, zap.NewNop()).Classify(context.Background(), "x", memory.Context{})
	assert.Equal(t, Conversation, got)
	assert.ErrorIs(t, err, ErrUnclassified)
}

func TestClassifyIncludesRecentTurns(t *testing.T) {
	b := &scriptedBackend{reply: "QUERY"}
	mctx := memory.Context{Turns: []memory.Turn{
		{User: "first", Assistant: "a1"},
		{User: "show processes", Assistant: "table"},
		{User: "thanks", Assistant: "welcome"},
	}}
	_, err := NewRouter(b, zap.NewNop()).Classify(context.Background(), "run that again", mctx)
	require.NoError(t, err)
	assert.Contains(t, b.prompts[0], "User: show processes")
	assert.NotContains(t, b.prompts[0], "User: first")
}

func TestClassifyKeepsLongRepliesValidUTF8(t *testing.T) {
	b := &scriptedBackend{reply: "QUERY"}
	long := strings.Repeat("é", 199) + "日本語"
	mctx := memory.Context{Turns: []memory.Turn{{User: "héllo", Assistant: long}}}
	_, err := NewRouter(b, zap.NewNop()).Classify(context.Background(), "again", mctx)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(b.prompts[0]))
	assert.Contains(t, b.prompts[0], strings.Repeat("é", 199)+"日...")
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "ñañ...", clip("ñañaña", 3))
	assert.True(t, utf8.ValidString(clip(strings.Repeat("日本", 50), 41)))
}

func TestClassifyWithMockBackend(t *testing.T) {
	r := NewRouter(llm.NewMockBackend(), zap.NewNop())
	got, err := r.Classify(context.Background(), "hello", memory.Context{})
	require.NoError(t, err)
	assert.Equal(t, Conversation, got)

	got, err = r.Classify(context.Background(), "show running processes", memory.Context{})
	require.NoError(t, err)
	assert.Equal(t, Query, got)
}

func TestIntentString(t *testing.T) {
	assert.Equal(t, "unknown", Intent(0).String())
	assert.Equal(t, "query", Query.String())
	text, err := Command.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "command", string(text))
}
