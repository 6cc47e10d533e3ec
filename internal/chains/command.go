package chains

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/hostos"
	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
	"github.com/ent0n29/lia/internal/retrieval"
)

// NoCommandMarker is what the backend answers for requests that are not actions.
const NoCommandMarker = "NO_COMMAND"

// CommandOptions tunes grounding for the command chain.
type CommandOptions struct {
	Family hostos.Family
	// DocsK documents are fetched, DocsPrompt of them reach the prompt.
	DocsK      int
	DocsPrompt int
}

// CommandChain synthesizes one shell command for the target OS family.
type CommandChain struct {
	backend llm.Backend
	index   retrieval.Index
	opts    CommandOptions
	logger  *zap.Logger
}

// NewCommandChain builds a command chain. A nil index grounds every prompt
// on the built-in reference.
func NewCommandChain(backend llm.Backend, index retrieval.Index, opts CommandOptions, logger *zap.Logger) *CommandChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DocsK <= 0 {
		opts.DocsK = 5
	}
	if opts.DocsPrompt <= 0 || opts.DocsPrompt > opts.DocsK {
		opts.DocsPrompt = min(3, opts.DocsK)
	}
	return &CommandChain{backend: backend, index: index, opts: opts, logger: logger.Named("command")}
}

func (c *CommandChain) Process(ctx context.Context, request string, _ memory.Context) Result {
	grounding, used := c.grounding(ctx, request)
	meta := Metadata{
		Chain:         CommandName,
		Attempts:      1,
		GroundingUsed: used,
		OSFamily:      c.opts.Family.String(),
	}

	raw, err := c.backend.Complete(ctx, commandPrompt(request, c.opts.Family, grounding), llm.Options{Temperature: 0.1})
	if err != nil {
		c.logger.Warn("command generation failed", zap.Error(err))
		meta.Failure, meta.FailureReason, meta.Err = FailureBackend, "backend error", err
		return Result{Metadata: meta}
	}

	command := CleanCommand(raw)
	if command == "" || strings.EqualFold(strings.TrimRight(command, ". "), NoCommandMarker) {
		meta.Failure, meta.FailureReason = FailureNotApplicable, "no actionable command"
		return Result{Metadata: meta}
	}
	return Result{Artifact: command, Metadata: meta}
}

func (c *CommandChain) grounding(ctx context.Context, request string) (string, bool) {
	if c.index == nil {
		return retrieval.BuiltinCommandReference(c.opts.Family), false
	}
	docs, err := c.index.Search(ctx, request, retrieval.CommandsCollection, c.opts.DocsK)
	if err != nil {
		c.logger.Warn("command docs search failed, using built-in reference", zap.Error(err))
		return retrieval.BuiltinCommandReference(c.opts.Family), false
	}
	if len(docs) == 0 {
		return retrieval.BuiltinCommandReference(c.opts.Family), false
	}
	docs = retrieval.Top(retrieval.RerankByPlatform(docs, c.opts.Family), c.opts.DocsPrompt)
	return retrieval.FormatCommandDocs(docs), true
}

func commandPrompt(request string, family hostos.Family, grounding string) string {
	var b strings.Builder
	b.WriteString("You are an expert system administrator. Convert the user's request into a single shell command.\n\n")
	fmt.Fprintf(&b, "CURRENT OS: %s\n\n", family)
	b.WriteString(strings.TrimSpace(grounding))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, `CRITICAL RULES:
- Reply with exactly one line containing only the command for %s
- No explanations, no markdown, no code fences
- If the request is not an executable action, reply with %s
- Prefer read-only and non-destructive commands
- Use paths relative to the current directory unless the user names one

`, family, NoCommandMarker)
	fmt.Fprintf(&b, "Request: %s\nCommand:", oneLine(request))
	return b.String()
}

var commandPrefixes = []string{
	"windows:", "linux:", "macos:", "mac:", "osx:",
	"command:", "output:", "shell:", "bash:", "powershell:",
	"$ ", "> ",
}

var fenceLanguages = map[string]bool{
	"bash": true, "sh": true, "shell": true, "zsh": true, "console": true,
	"powershell": true, "pwsh": true, "ps1": true, "cmd": true, "bat": true,
	"batch": true, "sql": true, "text": true,
}

// stripFence removes an opening fence, its optional language tag and any
// closing fence on the same line.
func stripFence(line string) string {
	rest := strings.TrimSpace(strings.Trim(line, "`"))
	tag, tail, _ := strings.Cut(rest, " ")
	if fenceLanguages[strings.ToLower(tag)] {
		rest = strings.TrimSpace(tail)
	}
	return strings.TrimSpace(strings.Trim(rest, "`"))
}

// CleanCommand reduces a backend answer to a bare single-line command.
func CleanCommand(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	s := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "```") {
			line = stripFence(line)
		}
		if line == "" {
			continue
		}
		s = line
		break
	}

	for {
		prev := s
		s = strings.TrimSpace(strings.Trim(s, "`"))
		lower := strings.ToLower(s)
		for _, p := range commandPrefixes {
			if strings.HasPrefix(lower, p) {
				s = strings.TrimSpace(s[len(p):])
				break
			}
		}
		if s == prev {
			return s
		}
	}
}
