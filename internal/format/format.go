// Package format renders pipeline outcomes as markdown for chat surfaces.
package format

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/lia/internal/execution"
)

const (
	truncatedMarker = "\n... (truncated)"
	cellEllipsis    = "..."

	ChatFallback       = "I'm having trouble responding right now. Could you try again?"
	UnavailableMessage = "⚠ Osquery is not installed or not accessible. Please install osquery to use this feature."
)

// Options bounds what the formatter shows.
type Options struct {
	MaxOutputChars int
	MaxRows        int
	MaxCell        int
}

func DefaultOptions() Options {
	return Options{MaxOutputChars: 1000, MaxRows: 50, MaxCell: 50}
}

type Formatter struct {
	opts Options
}

func New(opts Options) *Formatter {
	d := DefaultOptions()
	if opts.MaxOutputChars <= 0 {
		opts.MaxOutputChars = d.MaxOutputChars
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = d.MaxRows
	}
	if opts.MaxCell <= len(cellEllipsis) {
		opts.MaxCell = d.MaxCell
	}
	return &Formatter{opts: opts}
}

// Command renders a successful shell execution.
func (f *Formatter) Command(command, output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Sprintf("🛠 Executed: `%s`\n\nNo output.", command)
	}
	return fmt.Sprintf("🛠 Executed: `%s`\n\n```\n%s\n```", command, f.Truncate(output))
}

// Truncate caps text at MaxOutputChars runes.
func (f *Formatter) Truncate(s string) string {
	r := []rune(s)
	if len(r) <= f.opts.MaxOutputChars {
		return s
	}
	return string(r[:f.opts.MaxOutputChars]) + truncatedMarker
}

// Query renders sanitized rows as a table, followed by optional follow-up
// suggestions.
func (f *Formatter) Query(statement string, rows []map[string]any, suggestions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 Query: `%s`\n\n", statement)
	if len(rows) == 0 {
		b.WriteString("No results found.")
	} else {
		b.WriteString(f.Table(Columns(statement, rows), rows))
		if len(rows) > f.opts.MaxRows {
			fmt.Fprintf(&b, "\n_Showing %d of %d rows._", f.opts.MaxRows, len(rows))
		} else {
			fmt.Fprintf(&b, "\n_%d %s._", len(rows), plural(len(rows), "row", "rows"))
		}
	}
	if len(suggestions) > 0 {
		b.WriteString("\n\n**Related:**\n")
		for _, s := range suggestions {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Table renders at most MaxRows rows as a markdown table.
func (f *Formatter) Table(columns []string, rows []map[string]any) string {
	if len(columns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("|")
	for _, c := range columns {
		fmt.Fprintf(&b, " %s |", f.cell(c))
	}
	b.WriteString("\n|")
	for range columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for i, row := range rows {
		if i >= f.opts.MaxRows {
			break
		}
		b.WriteString("|")
		for _, c := range columns {
			v, ok := row[c]
			text := ""
			if ok && v != nil {
				text = fmt.Sprint(v)
			}
			fmt.Fprintf(&b, " %s |", f.cell(text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (f *Formatter) cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > f.opts.MaxCell {
		s = string(r[:f.opts.MaxCell-len(cellEllipsis)]) + cellEllipsis
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

// Rejection is the warning shown when the safety gate blocks an artifact.
func (f *Formatter) Rejection(kind, reason string) string {
	return fmt.Sprintf("⚠ This %s has been blocked for security reasons: %s", kind, reason)
}

// ExecutionError distinguishes a timeout from a failure with a diagnostic.
func (f *Formatter) ExecutionError(artifact string, err error) string {
	if errors.Is(err, execution.ErrTimeout) {
		return fmt.Sprintf("⚠ Error: `%s` timed out and was stopped.", artifact)
	}
	if errors.Is(err, execution.ErrEngineUnavailable) {
		return UnavailableMessage
	}
	diagnostic := err.Error()
	var exitErr *execution.ExitError
	if errors.As(err, &exitErr) && strings.TrimSpace(exitErr.Diagnostic) != "" {
		diagnostic = exitErr.Diagnostic
	}
	return fmt.Sprintf("⚠ Error: `%s` failed:\n```\n%s\n```", artifact, f.Truncate(strings.TrimSpace(diagnostic)))
}

func (f *Formatter) Error(message string) string {
	return "⚠ Error: " + message
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
