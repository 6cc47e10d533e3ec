package chains

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/llm"
	"github.com/ent0n29/lia/internal/memory"
	"github.com/ent0n29/lia/internal/policy"
	"github.com/ent0n29/lia/internal/retrieval"
)

// NotApplicableMarker is what the backend answers for requests that are not
// about system state.
const NotApplicableMarker = "NOT_APPLICABLE"

// QueryOptions tunes the query chain.
type QueryOptions struct {
	DocsK        int
	MaxRetries   int
	DefaultLimit int
}

// QueryChain synthesizes a read-only osquery statement, regenerating it when
// validation rejects an attempt.
type QueryChain struct {
	backend llm.Backend
	index   retrieval.Index
	opts    QueryOptions
	logger  *zap.Logger
}

func NewQueryChain(backend llm.Backend, index retrieval.Index, opts QueryOptions, logger *zap.Logger) *QueryChain {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DocsK <= 0 {
		opts.DocsK = 3
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 50
	}
	return &QueryChain{backend: backend, index: index, opts: opts, logger: logger.Named("query")}
}

func (c *QueryChain) Process(ctx context.Context, request string, mctx memory.Context) Result {
	if IsReference(request) {
		if last, ok := mctx.LastQuery(); ok && strings.TrimSpace(last.Statement) != "" {
			c.logger.Debug("reusing previous statement")
			return Result{
				Artifact: last.Statement,
				Metadata: Metadata{Chain: QueryName, Reused: true},
			}
		}
	}

	grounding, used := c.grounding(ctx, request)
	meta := Metadata{Chain: QueryName, GroundingUsed: used}

	var rejection string
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		meta.Attempts = attempt + 1
		prompt := queryPrompt(request, grounding, mctx, attempt, rejection)
		raw, err := c.backend.Complete(ctx, prompt, llm.Options{Temperature: 0.3})
		if err != nil {
			c.logger.Warn("query generation failed", zap.Int("attempt", meta.Attempts), zap.Error(err))
			meta.Failure, meta.FailureReason, meta.Err = FailureBackend, "backend error", err
			return Result{Metadata: meta}
		}
		if isNotApplicable(raw) {
			meta.Failure, meta.FailureReason = FailureNotApplicable, "request is not about system state"
			return Result{Metadata: meta}
		}

		statement := EnsureLimit(CleanStatement(raw), c.opts.DefaultLimit)
		switch {
		case statement == "":
			rejection = "the answer contained no statement"
		case HasWildcardSelect(statement):
			rejection = "wildcard column lists are not allowed, select explicit columns"
		default:
			if d := policy.ValidateQuery(statement); !d.Accepted {
				rejection = d.Reason
			} else {
				return Result{Artifact: statement, Metadata: meta}
			}
		}
		c.logger.Info("generated statement rejected",
			zap.Int("attempt", meta.Attempts),
			zap.String("reason", rejection),
		)
	}

	meta.Failure, meta.FailureReason = FailureInvalid, rejection
	return Result{Metadata: meta}
}

func (c *QueryChain) grounding(ctx context.Context, request string) (string, bool) {
	if c.index == nil {
		return retrieval.BuiltinSchemaReference(), false
	}
	docs, err := c.index.Search(ctx, request, retrieval.QuerySchemaCollection, c.opts.DocsK)
	if err != nil {
		c.logger.Warn("schema search failed, using built-in reference", zap.Error(err))
		return retrieval.BuiltinSchemaReference(), false
	}
	if len(docs) == 0 {
		return retrieval.BuiltinSchemaReference(), false
	}
	return retrieval.FormatSchemaDocs(retrieval.Top(docs, c.opts.DocsK)), true
}

var queryExamples = []struct{ request, statement string }{
	{"Show me all running processes", "SELECT pid, name, cmdline, parent, uid FROM processes LIMIT 50;"},
	{"What network ports are listening?", "SELECT lp.port, lp.protocol, lp.address, p.name, p.pid FROM listening_ports lp LEFT JOIN processes p ON lp.pid = p.pid LIMIT 50;"},
	{"Show me active network connections", "SELECT pos.pid, p.name, pos.local_address, pos.local_port, pos.remote_address, pos.remote_port FROM process_open_sockets pos JOIN processes p ON pos.pid = p.pid WHERE pos.remote_port != 0 LIMIT 50;"},
	{"Find processes running as root", "SELECT pid, name, path, cmdline FROM processes WHERE uid = 0 LIMIT 50;"},
	{"Show system information", "SELECT hostname, cpu_brand, physical_memory, hardware_model FROM system_info LIMIT 1;"},
	{"List users with shell access", "SELECT uid, username, shell, directory FROM users WHERE shell NOT IN ('', '/usr/bin/false', '/sbin/nologin') LIMIT 50;"},
}

func queryPrompt(request, grounding string, mctx memory.Context, attempt int, rejection string) string {
	var b strings.Builder
	b.WriteString("You are an expert in osquery SQL. Convert the user's security or forensics question into one valid osquery statement.\n\n")
	fmt.Fprintf(&b, `CRITICAL RULES:
- Respond ONLY with the SQL statement, nothing else
- Only SELECT statements, with an explicit column list (never SELECT *)
- ALWAYS include a LIMIT clause (LIMIT 50 unless the user asks otherwise)
- Never use DROP, DELETE, INSERT, UPDATE, CREATE, ALTER or TRUNCATE
- Use proper JOINs when combining tables, at most three
- No comments and no UNION
- If the question is not about system security or state, respond with: %s

`, NotApplicableMarker)
	b.WriteString(strings.TrimSpace(grounding))
	b.WriteString("\n\nEXAMPLES:\n")
	for _, ex := range queryExamples {
		fmt.Fprintf(&b, "Question: %s\nStatement: %s\n\n", ex.request, ex.statement)
	}

	if attempt > 0 {
		if rejection != "" {
			fmt.Fprintf(&b, "Your previous statement was rejected: %s\n", rejection)
		}
		if n := len(mctx.Queries); n > 0 {
			b.WriteString("Previous similar queries that ran successfully:\n")
			for _, q := range mctx.Queries[max(0, n-3):] {
				fmt.Fprintf(&b, "- %s\n", q.Statement)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Request: %s\nSQL Query:", oneLine(request))
	return b.String()
}
