package retrieval

import (
	"fmt"
	"strings"
)

// FormatCommandDocs renders command documentation for a prompt.
func FormatCommandDocs(docs []Document) string {
	var b strings.Builder
	b.WriteString("RELEVANT COMMAND DOCUMENTATION:\n\n")
	for i, d := range docs {
		fmt.Fprintf(&b, "[Document %d]", i+1)
		if d.Metadata.Platform != "" {
			fmt.Fprintf(&b, " (%s)", d.Metadata.Platform)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(d.Text))
		b.WriteString("\n")
		b.WriteString(strings.Repeat("=", 60))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// FormatSchemaDocs renders table documentation for a prompt.
func FormatSchemaDocs(docs []Document) string {
	var b strings.Builder
	b.WriteString("RELEVANT TABLE SCHEMAS:\n")
	for _, d := range docs {
		b.WriteString("- ")
		if d.Metadata.Table != "" {
			b.WriteString(d.Metadata.Table)
			b.WriteString(": ")
		}
		b.WriteString(strings.Join(strings.Fields(d.Text), " "))
		b.WriteString("\n")
	}
	return b.String()
}
