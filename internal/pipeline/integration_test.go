package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/chains"
	"github.com/ent0n29/lia/internal/hostos"
	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
)

func mockDeps(osq *fakeOsquery, shell *fakeShell) Deps {
	backend := llm.NewMockBackend()
	logger := zap.NewNop()
	return Deps{
		Router: intent.NewRouter(backend, logger),
		Chains: Chains{
			Conversation: chains.NewConversationChain(backend, logger),
			Command:      chains.NewCommandChain(backend, nil, chains.CommandOptions{Family: hostos.Linux}, logger),
			Query:        chains.NewQueryChain(backend, nil, chains.QueryOptions{MaxRetries: 2, DefaultLimit: 50}, logger),
		},
		Shell:   shell,
		Osquery: osq,
		Logger:  logger,
	}
}

func TestEndToEndWithMockBackend(t *testing.T) {
	osq := &fakeOsquery{rows: []map[string]any{{"pid": "1", "name": "init", "password": "x"}}}
	shell := &fakeShell{output: "Filesystem  Size"}
	reg := NewRegistry(mockDeps(osq, shell), t.TempDir(), memory.DefaultLimits())
	t.Cleanup(func() { _ = reg.Close() })

	a, err := reg.Get("session-1")
	require.NoError(t, err)
	ctx := context.Background()

	resp := a.Process(ctx, "hello")
	assert.Equal(t, intent.Conversation, resp.Intent)
	assert.Equal(t, "I heard you: hello", resp.Text)
	assert.Empty(t, shell.ran)
	assert.Empty(t, osq.ran)

	resp = a.Process(ctx, "how much disk space is left")
	assert.Equal(t, intent.Command, resp.Intent)
	assert.Equal(t, []string{"df -h"}, shell.ran)

	resp = a.Process(ctx, "run that query again")
	assert.False(t, resp.Reused, "no earlier query to reuse")
	assert.Empty(t, osq.ran)

	resp = a.Process(ctx, "show running processes")
	assert.Equal(t, "SELECT pid, name FROM processes LIMIT 50;", resp.Artifact)
	assert.NotContains(t, resp.Text, "password")

	resp = a.Process(ctx, "run that query again")
	assert.True(t, resp.Reused)
	assert.Equal(t, "SELECT pid, name FROM processes LIMIT 50;", resp.Artifact)
}

func TestRegistryIsolatesSessions(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(mockDeps(&fakeOsquery{}, &fakeShell{}), dir, memory.DefaultLimits())
	t.Cleanup(func() { _ = reg.Close() })

	a, err := reg.Get("alpha")
	require.NoError(t, err)
	b, err := reg.Get("beta")
	require.NoError(t, err)
	again, err := reg.Get("alpha")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.NotSame(t, a, b)

	a.Process(context.Background(), "my name is Ada")
	bctx, err := b.memory.Context(context.Background())
	require.NoError(t, err)
	assert.Empty(t, bctx.Turns)
	assert.Empty(t, bctx.PersonalInfo)
	assert.FileExists(t, filepath.Join(dir, "alpha.json"))

	require.NoError(t, reg.Release("alpha"))
	assert.Equal(t, 1, reg.Len())

	_, err = reg.Get("../escape")
	assert.Error(t, err)
}

func TestRegistryProcessRejectsInvalidSessionID(t *testing.T) {
	reg := NewRegistry(mockDeps(&fakeOsquery{}, &fakeShell{}), "", memory.DefaultLimits())
	t.Cleanup(func() { _ = reg.Close() })

	_, err := reg.Process(context.Background(), "../etc/passwd", "hello")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())

	resp, err := reg.Process(context.Background(), "ok-session", "hello")
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hello", resp.Text)
	assert.Equal(t, 1, reg.Len())
}
