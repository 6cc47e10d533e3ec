package chains

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/hostos"
	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
	"github.com/ent0n29/lia/internal/retrieval"
)

type queuedBackend struct {
	replies []string
	err     error
	prompts []string
	opts    []llm.Options
}

func (q *queuedBackend) Name() string { return "queued" }

func (q *queuedBackend) Complete(_ context.Context, prompt string, opts llm.Options) (string, error) {
	q.prompts = append(q.prompts, prompt)
	q.opts = append(q.opts, opts)
	if q.err != nil {
		return "", q.err
	}
	if len(q.replies) == 0 {
		return "", nil
	}
	next := q.replies[0]
	if len(q.replies) > 1 {
		q.replies = q.replies[1:]
	}
	return next, nil
}

type stubIndex struct {
	docs      []retrieval.Document
	err       error
	gotColl   string
	gotK      int
	callCount int
}

func (s *stubIndex) Search(_ context.Context, _ string, collection string, k int) ([]retrieval.Document, error) {
	s.callCount++
	s.gotColl, s.gotK = collection, k
	return s.docs, s.err
}

func (s *stubIndex) Close() error { return nil }

func TestConversationChain(t *testing.T) {
	b := &queuedBackend{replies: []string{"  Hi Ada!  "}}
	mctx := memory.Context{
		Turns:        []memory.Turn{{User: "my name is Ada", Assistant: "Nice to meet you"}},
		PersonalInfo: map[string]string{"name": "Ada", "favorite_food": "pizza"},
	}
	res := NewConversationChain(b, zap.NewNop()).Process(context.Background(), "hello", mctx)
	require.True(t, res.OK())
	assert.Equal(t, "Hi Ada!", res.Artifact)
	assert.Equal(t, ConversationName, res.Metadata.Chain)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "- name: Ada")
	assert.Contains(t, prompt, "- favorite food: pizza")
	assert.Contains(t, prompt, "User: my name is Ada")
	assert.True(t, strings.HasSuffix(prompt, "Request: hello\nReply:"))
}

func TestConversationChainBackendError(t *testing.T) {
	b := &queuedBackend{err: llm.ErrBackend}
	res := NewConversationChain(b, zap.NewNop()).Process(context.Background(), "hello", memory.Context{})
	assert.False(t, res.OK())
	assert.Empty(t, res.Artifact)
	assert.Equal(t, FailureBackend, res.Metadata.Failure)
	assert.True(t, errors.Is(res.Metadata.Err, llm.ErrBackend))
}

func TestCleanCommand(t *testing.T) {
	cases := map[string]string{
		"ls -la":                         "ls -la",
		"```bash\nls -la\n```":           "ls -la",
		"`df -h`":                        "df -h",
		"Linux: df -h":                   "df -h",
		"Command: `macOS: ls`":           "ls",
		"$ ps aux\nThis lists processes": "ps aux",
		"  \n  echo $HOME  ":             "echo $HOME",
		"":                               "",
		"```\n```":                       "",
		"```ls -la```":                   "ls -la",
		"```bash ls -la```":              "ls -la",
		"```sh\n$ uname -a\n```":         "uname -a",
	}
	for raw, want := range cases {
		assert.Equal(t, want, CleanCommand(raw), "CleanCommand(%q)", raw)
	}
}

func TestCommandChainGroundsOnRerankedDocs(t *testing.T) {
	idx := &stubIndex{docs: []retrieval.Document{
		{ID: "a", Text: "dir lists files", Metadata: retrieval.Metadata{Platform: "windows"}},
		{ID: "b", Text: "ls lists files", Metadata: retrieval.Metadata{Platform: "linux"}},
		{ID: "c", Text: "tree shows folders", Metadata: retrieval.Metadata{Platform: "common"}},
		{ID: "d", Text: "find searches", Metadata: retrieval.Metadata{Platform: "linux"}},
	}}
	b := &queuedBackend{replies: []string{"```\nls -la\n```"}}
	chain := NewCommandChain(b, idx, CommandOptions{Family: hostos.Linux, DocsK: 5, DocsPrompt: 3}, zap.NewNop())

	res := chain.Process(context.Background(), "list files", memory.Context{})
	require.True(t, res.OK())
	assert.Equal(t, "ls -la", res.Artifact)
	assert.True(t, res.Metadata.GroundingUsed)
	assert.Equal(t, "Linux", res.Metadata.OSFamily)
	assert.Equal(t, retrieval.CommandsCollection, idx.gotColl)
	assert.Equal(t, 5, idx.gotK)

	prompt := b.prompts[0]
	assert.Contains(t, prompt, "CURRENT OS: Linux")
	assert.Contains(t, prompt, "ls lists files")
	assert.Contains(t, prompt, "find searches")
	assert.Contains(t, prompt, "tree shows folders")
	assert.NotContains(t, prompt, "dir lists files", "windows doc ranks below the cut")
	assert.Less(t, strings.Index(prompt, "ls lists files"), strings.Index(prompt, "tree shows folders"))
	assert.True(t, strings.HasSuffix(prompt, "Request: list files\nCommand:"))
	assert.InDelta(t, 0.1, b.opts[0].Temperature, 1e-9)
}

func TestCommandChainFallsBackToBuiltinReference(t *testing.T) {
	for name, idx := range map[string]retrieval.Index{
		"nil index":   nil,
		"search err":  &stubIndex{err: errors.New("down")},
		"empty index": &stubIndex{},
	} {
		t.Run(name, func(t *testing.T) {
			b := &queuedBackend{replies: []string{"df -h"}}
			res := NewCommandChain(b, idx, CommandOptions{Family: hostos.MacOS}, zap.NewNop()).
				Process(context.Background(), "disk space", memory.Context{})
			require.True(t, res.OK())
			assert.False(t, res.Metadata.GroundingUsed)
			assert.Contains(t, b.prompts[0], "BASIC COMMAND REFERENCE (macOS)")
		})
	}
}

func TestCommandChainNoCommand(t *testing.T) {
	for _, reply := range []string{"NO_COMMAND", "`NO_COMMAND`", "NO_COMMAND.", "```\n```", ""} {
		b := &queuedBackend{replies: []string{reply}}
		res := NewCommandChain(b, nil, CommandOptions{}, zap.NewNop()).Process(context.Background(), "tell me a joke", memory.Context{})
		assert.False(t, res.OK(), "reply %q", reply)
		assert.Equal(t, FailureNotApplicable, res.Metadata.Failure, "reply %q", reply)
	}
}

func TestCommandChainBackendError(t *testing.T) {
	b := &queuedBackend{err: llm.ErrBackend}
	res := NewCommandChain(b, nil, CommandOptions{}, zap.NewNop()).Process(context.Background(), "list files", memory.Context{})
	assert.Equal(t, FailureBackend, res.Metadata.Failure)
	assert.Empty(t, res.Artifact)
}
