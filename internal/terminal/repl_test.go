package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/pipeline"
)

type echoProcessor struct {
	requests []string
}

func (e *echoProcessor) Process(_ context.Context, request string) pipeline.Response {
	e.requests = append(e.requests, request)
	return pipeline.Response{Text: "echo: " + request, Intent: intent.Conversation}
}

func TestREPLStopsOnExitWord(t *testing.T) {
	proc := &echoProcessor{}
	var out bytes.Buffer
	r := New(proc, strings.NewReader("hello\n\n  \nGoodBye\nnever read\n"), &out, Options{Plain: true}, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"hello"}, proc.requests)
	assert.Contains(t, out.String(), "echo: hello")
	assert.Contains(t, out.String(), "Goodbye!")
	assert.NotContains(t, out.String(), "never read")
}

func TestREPLReturnsOnEOF(t *testing.T) {
	proc := &echoProcessor{}
	var out bytes.Buffer
	r := New(proc, strings.NewReader("first\nsecond"), &out, Options{Plain: true}, nil)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"first", "second"}, proc.requests)
}

func TestREPLHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(&echoProcessor{}, strings.NewReader("hello\n"), &bytes.Buffer{}, Options{Plain: true}, nil)
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

func TestIsExitWord(t *testing.T) {
	for _, w := range []string{"exit", "QUIT", " bye ", "goodbye"} {
		assert.True(t, IsExitWord(w), w)
	}
	for _, w := range []string{"", "bye bye", "exit now", "hello"} {
		assert.False(t, IsExitWord(w), w)
	}
}

func TestRenderPlainPassesThrough(t *testing.T) {
	r := New(&echoProcessor{}, nil, nil, Options{Plain: true}, nil)
	assert.Equal(t, "**bold**", r.Render("**bold**"))
}

func TestRenderMarkdown(t *testing.T) {
	r := New(&echoProcessor{}, nil, nil, Options{Width: 60}, nil)
	out := r.Render("# Title\n\nsome `code`")
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "code")
}
