// Package terminal runs the interactive chat loop.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/pipeline"
)

var exitWords = map[string]bool{
	"exit":    true,
	"quit":    true,
	"bye":     true,
	"goodbye": true,
}

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	nameStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
)

// Processor answers one request.
type Processor interface {
	Process(ctx context.Context, request string) pipeline.Response
}

type Options struct {
	// Plain disables styling and markdown rendering.
	Plain bool
	Width int
}

type REPL struct {
	proc     Processor
	in       io.Reader
	out      io.Writer
	plain    bool
	renderer *glamour.TermRenderer
	logger   *zap.Logger
}

func New(proc Processor, in io.Reader, out io.Writer, opts Options, logger *zap.Logger) *REPL {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &REPL{proc: proc, in: in, out: out, plain: opts.Plain, logger: logger.Named("terminal")}
	if !opts.Plain {
		width := opts.Width
		if width <= 0 {
			width = 100
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			r.logger.Warn("markdown renderer unavailable", zap.Error(err))
		} else {
			r.renderer = renderer
		}
	}
	return r
}

// IsExitWord reports whether line ends the chat.
func IsExitWord(line string) bool {
	return exitWords[strings.ToLower(strings.TrimSpace(line))]
}

// Run reads requests until an exit word, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, r.style(bannerStyle, "Lia is ready. Ask about your system, or say bye to leave."))
	fmt.Fprintln(r.out, r.style(hintStyle, "Try: show running processes, how much disk space is left, security dashboard"))

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 4096), 64<<10)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(r.out, "\n"+r.style(promptStyle, "You: "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if IsExitWord(line) {
			fmt.Fprintln(r.out, r.style(nameStyle, "Lia: ")+"Goodbye!")
			return nil
		}

		resp := r.proc.Process(ctx, line)
		if err := resp.Err(); err != nil {
			r.logger.Debug("request completed with failures", zap.Error(err))
		}
		fmt.Fprintln(r.out, r.style(nameStyle, "Lia:"))
		fmt.Fprintln(r.out, r.Render(resp.Text))
	}
}

// Render formats markdown for the terminal. Plain mode returns it unchanged.
func (r *REPL) Render(markdown string) string {
	if r.renderer == nil {
		return markdown
	}
	out, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(out, "\n")
}

func (r *REPL) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}
