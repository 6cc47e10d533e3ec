package chains

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
)

const conversationInstructions = `You are Lia, a friendly assistant that lives on the user's computer.
You can chat, run shell commands and answer questions about the system state when asked.
Keep replies short and natural. Use what you know about the user when it helps.`

// ConversationChain answers with free text.
type ConversationChain struct {
	backend llm.Backend
	logger  *zap.Logger
}

func NewConversationChain(backend llm.Backend, logger *zap.Logger) *ConversationChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationChain{backend: backend, logger: logger.Named("conversation")}
}

func (c *ConversationChain) Process(ctx context.Context, request string, mctx memory.Context) Result {
	reply, err := c.backend.Complete(ctx, conversationPrompt(request, mctx), llm.Options{Temperature: 0.7})
	if err != nil {
		c.logger.Warn("conversation generation failed", zap.Error(err))
		return failed(ConversationName, 1, FailureBackend, "backend error", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return failed(ConversationName, 1, FailureBackend, "empty reply", nil)
	}
	return Result{Artifact: reply, Metadata: Metadata{Chain: ConversationName, Attempts: 1}}
}

func conversationPrompt(request string, mctx memory.Context) string {
	var b strings.Builder
	b.WriteString(conversationInstructions)
	b.WriteString("\n\n")

	if len(mctx.PersonalInfo) > 0 {
		keys := make([]string, 0, len(mctx.PersonalInfo))
		for k := range mctx.PersonalInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("What you know about the user:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), mctx.PersonalInfo[k])
		}
		b.WriteString("\n")
	}

	if len(mctx.Turns) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range mctx.Turns {
			fmt.Fprintf(&b, "User: %s\nLia: %s\n", oneLine(t.User), oneLine(t.Assistant))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Request: %s\nReply:", oneLine(request))
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
