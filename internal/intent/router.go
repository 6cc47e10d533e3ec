package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
)

// ErrUnclassified is returned when the backend answer names no single category.
var ErrUnclassified = errors.New("classification response not understood")

const routerInstructions = `Classify the user's request into exactly one of these categories:
- CONVERSATION: greetings, small talk, personal questions, general knowledge, anything that is not an action on this computer
- COMMAND: direct operations on this computer through the shell, like managing files and folders, launching applications, checking disk or memory
- QUERY: questions about live system state for security or forensics, like running processes, users, logins, listening ports, network connections, installed software

Respond ONLY with one word: CONVERSATION, COMMAND or QUERY.`

var routerExamples = []struct {
	request string
	label   string
}{
	{"Hello, how are you?", "CONVERSATION"},
	{"What can you help me with?", "CONVERSATION"},
	{"What is my name?", "CONVERSATION"},
	{"Show me running processes", "QUERY"},
	{"What users are logged in?", "QUERY"},
	{"Are there any suspicious network connections?", "QUERY"},
	{"What ports are listening?", "QUERY"},
	{"Run that query again", "QUERY"},
	{"List files in the current directory", "COMMAND"},
	{"Create a new folder called test", "COMMAND"},
	{"How much disk space is left?", "COMMAND"},
	{"Open Chrome", "COMMAND"},
}

// Router asks the generative backend to label each request.
type Router struct {
	backend llm.Backend
	logger  *zap.Logger
}

func NewRouter(backend llm.Backend, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{backend: backend, logger: logger.Named("router")}
}

// Classify returns the intent for request. It never returns Command or Query
// alongside an error: any failure degrades to Conversation and the error
// only explains why.
func (r *Router) Classify(ctx context.Context, request string, mctx memory.Context) (Intent, error) {
	if strings.TrimSpace(request) == "" {
		return Conversation, nil
	}
	if r.backend == nil {
		return Conversation, fmt.Errorf("classify: no backend configured")
	}

	raw, err := r.backend.Complete(ctx, buildPrompt(request, mctx), llm.Options{
		Temperature:  0,
		MaxTokens:    8,
		DisableRetry: true,
	})
	if err != nil {
		r.logger.Warn("classification call failed, defaulting to conversation", zap.Error(err))
		return Conversation, fmt.Errorf("classify: %w", err)
	}

	got, ok := ParseLabel(raw)
	if !ok {
		r.logger.Info("classification unparseable, defaulting to conversation", zap.String("response", clip(raw, 80)))
		return Conversation, ErrUnclassified
	}
	r.logger.Debug("request classified", zap.Stringer("intent", got))
	return got, nil
}

func buildPrompt(request string, mctx memory.Context) string {
	var b strings.Builder
	b.WriteString(routerInstructions)
	b.WriteString("\n\n")

	if turns := mctx.Turns; len(turns) > 0 {
		if len(turns) > 2 {
			turns = turns[len(turns)-2:]
		}
		b.WriteString("Recent conversation, for resolving references only:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", oneLine(t.User), clip(oneLine(t.Assistant), 200))
		}
		b.WriteString("\n")
	}

	b.WriteString("Examples:\n")
	for _, ex := range routerExamples {
		fmt.Fprintf(&b, "Request: %s\nClassification: %s\n\n", ex.request, ex.label)
	}
	fmt.Fprintf(&b, "Request: %s\nClassification:", oneLine(request))
	return b.String()
}

var labels = map[string]Intent{
	"CONVERSATION": Conversation,
	"CHAT":         Conversation,
	"COMMAND":      Command,
	"OS_COMMAND":   Command,
	"QUERY":        Query,
	"OSQUERY":      Query,
}

// ParseLabel maps a backend answer to an intent. Exact category tokens win;
// otherwise the answer must mention exactly one category. Anything that
// mentions conversation is conversation.
func ParseLabel(raw string) (Intent, bool) {
	norm := strings.ToUpper(strings.TrimFunc(strings.TrimSpace(raw), func(r rune) bool {
		return unicode.IsPunct(r) && r != '_' || unicode.IsSpace(r)
	}))
	if norm == "" {
		return Unknown, false
	}
	if got, ok := labels[norm]; ok {
		return got, true
	}

	hasConversation := strings.Contains(norm, "CONVERSATION") || strings.Contains(norm, "CHAT")
	hasCommand := strings.Contains(norm, "COMMAND")
	hasQuery := strings.Contains(norm, "QUERY")
	switch {
	case hasConversation:
		return Conversation, true
	case hasCommand && !hasQuery:
		return Command, true
	case hasQuery && !hasCommand:
		return Query, true
	default:
		return Unknown, false
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
