// Package pipeline runs one request end to end: route, generate, gate,
// execute, sanitize, format and remember.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/audit"
	"github.com/ent0n29/lia/internal/chains"
	"github.com/ent0n29/lia/internal/execution"
	"github.com/ent0n29/lia/internal/format"
	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/memory"
	"github.com/ent0n29/lia/internal/observability"
	"github.com/ent0n29/lia/internal/policy"
)

// Classifier labels a request.
type Classifier interface {
	Classify(ctx context.Context, request string, mctx memory.Context) (intent.Intent, error)
}

// ShellRunner executes an approved command.
type ShellRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// QueryEngine executes an approved statement.
type QueryEngine interface {
	Run(ctx context.Context, statement string) ([]map[string]any, error)
	IsAvailable(ctx context.Context) bool
}

// Chains groups the three generation strategies.
type Chains struct {
	Conversation chains.Chain
	Command      chains.Chain
	Query        chains.Chain
}

// Deps wires an Assistant. Memory is owned by exactly one Assistant.
type Deps struct {
	SessionID string
	Router    Classifier
	Chains    Chains
	Shell     ShellRunner
	Osquery   QueryEngine
	Memory    memory.Store
	Formatter *format.Formatter
	Audit     audit.Log
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Response is what one request produced.
type Response struct {
	Text     string
	Intent   intent.Intent
	Artifact string
	Reused   bool
	Failures []*Failure
}

// Has reports whether a failure of kind k occurred.
func (r Response) Has(k Kind) bool {
	for _, f := range r.Failures {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// Err joins every failure, or returns nil.
func (r Response) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Response) fail(f *Failure) {
	r.Failures = append(r.Failures, f)
}

// Assistant serves one conversation. Process calls are serialized so each
// request sees the memory left by the previous one.
type Assistant struct {
	mu sync.Mutex

	sessionID string
	router    Classifier
	chains    Chains
	shell     ShellRunner
	osquery   QueryEngine
	memory    memory.Store
	formatter *format.Formatter
	audit     audit.Log
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewAssistant(d Deps) (*Assistant, error) {
	switch {
	case d.Router == nil:
		return nil, fmt.Errorf("pipeline: router is required")
	case d.Chains.Conversation == nil || d.Chains.Command == nil || d.Chains.Query == nil:
		return nil, fmt.Errorf("pipeline: all three chains are required")
	case d.Shell == nil || d.Osquery == nil:
		return nil, fmt.Errorf("pipeline: both execution engines are required")
	case d.Memory == nil:
		return nil, fmt.Errorf("pipeline: memory store is required")
	}
	if d.Formatter == nil {
		d.Formatter = format.New(format.DefaultOptions())
	}
	if d.Audit == nil {
		d.Audit = audit.NopLog{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	logger := d.Logger.Named("pipeline")
	if d.SessionID != "" {
		logger = logger.With(zap.String("session_id", d.SessionID))
	}
	return &Assistant{
		sessionID: d.SessionID,
		router:    d.Router,
		chains:    d.Chains,
		shell:     d.Shell,
		osquery:   d.Osquery,
		memory:    d.Memory,
		formatter: d.Formatter,
		audit:     d.Audit,
		metrics:   d.Metrics,
		logger:    logger,
	}, nil
}

// Process runs request through the whole pipeline and always returns text
// fit for the user.
func (a *Assistant) Process(ctx context.Context, request string) Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	started := time.Now()
	request = strings.TrimSpace(request)
	resp := a.process(ctx, request)
	a.recordTurn(ctx, request, &resp)
	a.metrics.ObserveRequest(resp.Intent.String(), time.Since(started))

	a.logger.Info("request processed",
		zap.Stringer("intent", resp.Intent),
		zap.Bool("reused", resp.Reused),
		zap.Int("failures", len(resp.Failures)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return resp
}

func (a *Assistant) process(ctx context.Context, request string) Response {
	var resp Response

	if IsDashboardRequest(request) {
		resp.Intent = intent.Query
		resp.Text = a.Dashboard(ctx)
		if resp.Text == format.UnavailableMessage {
			resp.fail(&Failure{Kind: KindEngineUnavailable, Reason: "dashboard"})
		}
		return resp
	}

	a.capturePersonalInfo(ctx, request, &resp)

	mctx, err := a.memory.Context(ctx)
	if err != nil {
		a.logger.Warn("memory context unavailable", zap.Error(err))
		mctx = memory.Context{}
	}

	classifyStart := time.Now()
	it, err := a.router.Classify(ctx, request, mctx)
	a.metrics.ObserveStage("classify", time.Since(classifyStart))
	if err != nil {
		resp.fail(&Failure{Kind: KindClassification, Err: err})
		a.metrics.ObserveIndicator("classification_fallback")
		it = intent.Conversation
	}
	resp.Intent = it

	switch it {
	case intent.Command:
		a.runCommand(ctx, request, mctx, &resp)
	case intent.Query:
		a.runQuery(ctx, request, mctx, &resp)
	case intent.Conversation, intent.Unknown:
		a.converse(ctx, request, mctx, &resp)
	default:
		a.converse(ctx, request, mctx, &resp)
	}
	return resp
}

func (a *Assistant) generate(ctx context.Context, chain chains.Chain, request string, mctx memory.Context) chains.Result {
	start := time.Now()
	res := chain.Process(ctx, request, mctx)
	a.metrics.ObserveStage("generate", time.Since(start))
	outcome := res.Metadata.Failure.String()
	if res.OK() {
		outcome = "ok"
		if res.Metadata.Reused {
			outcome = "reused"
		}
	}
	a.metrics.ObserveChain(res.Metadata.Chain, outcome)
	return res
}

func (a *Assistant) converse(ctx context.Context, request string, mctx memory.Context, resp *Response) {
	res := a.generate(ctx, a.chains.Conversation, request, mctx)
	if !res.OK() {
		resp.fail(&Failure{Kind: KindGeneration, Reason: res.Metadata.FailureReason, Err: res.Metadata.Err})
		resp.Text = format.ChatFallback
		return
	}
	resp.Text = res.Artifact
}

// fallBack serves a request the chosen chain could not, as conversation.
func (a *Assistant) fallBack(ctx context.Context, request string, mctx memory.Context, res chains.Result, resp *Response) {
	a.logger.Info("chain produced no artifact, falling back to conversation",
		zap.String("chain", res.Metadata.Chain),
		zap.Stringer("failure", res.Metadata.Failure),
		zap.String("reason", res.Metadata.FailureReason),
	)
	a.metrics.ObserveIndicator("fallback_to_conversation")
	if res.Metadata.Failure == chains.FailureBackend {
		resp.fail(&Failure{Kind: KindGeneration, Reason: res.Metadata.FailureReason, Err: res.Metadata.Err})
	}
	resp.Intent = intent.Conversation
	a.converse(ctx, request, mctx, resp)
}

func (a *Assistant) runCommand(ctx context.Context, request string, mctx memory.Context, resp *Response) {
	res := a.generate(ctx, a.chains.Command, request, mctx)
	if !res.OK() {
		a.fallBack(ctx, request, mctx, res, resp)
		return
	}
	command := res.Artifact
	resp.Artifact = command

	decision := policy.ValidateCommand(command)
	a.metrics.ObserveGate("command", decision.Accepted)
	entry := a.auditEntry(request, resp.Intent, "command", command, decision)
	if !decision.Accepted {
		a.logger.Warn("command blocked", zap.String("rule", decision.Rule), zap.String("reason", decision.Reason))
		resp.fail(&Failure{Kind: KindValidationRejected, Reason: decision.Reason})
		resp.Text = a.formatter.Rejection("command", decision.Reason)
		a.recordAudit(ctx, entry, audit.OutcomeBlocked)
		return
	}

	start := time.Now()
	output, err := a.shell.Run(ctx, command)
	a.metrics.ObserveStage("execute", time.Since(start))
	if err != nil {
		f := executionFailure(err)
		resp.fail(f)
		resp.Text = a.formatter.ExecutionError(command, err)
		a.metrics.ObserveExecution("shell", f.Kind.String())
		a.recordAudit(ctx, entry, outcomeFor(f))
		return
	}
	a.metrics.ObserveExecution("shell", "ok")
	a.recordAudit(ctx, entry, audit.OutcomeExecuted)
	resp.Text = a.formatter.Command(command, output)
}

func (a *Assistant) runQuery(ctx context.Context, request string, mctx memory.Context, resp *Response) {
	if !a.osquery.IsAvailable(ctx) {
		resp.fail(&Failure{Kind: KindEngineUnavailable, Err: execution.ErrEngineUnavailable})
		resp.Text = format.UnavailableMessage
		a.metrics.ObserveExecution("osquery", KindEngineUnavailable.String())
		return
	}

	res := a.generate(ctx, a.chains.Query, request, mctx)
	if res.Metadata.Failure == chains.FailureInvalid {
		reason := res.Metadata.FailureReason
		resp.fail(&Failure{Kind: KindValidationRejected, Reason: reason})
		resp.Text = a.formatter.Rejection("query", reason)
		a.metrics.ObserveGate("query", false)
		a.logger.Warn("query chain gave up on invalid statements", zap.String("reason", reason))
		d := policy.Decision{Accepted: false, Rule: chainValidationRule, Reason: reason}
		a.recordAudit(ctx, a.auditEntry(request, resp.Intent, "query", res.Artifact, d), audit.OutcomeBlocked)
		return
	}
	if !res.OK() {
		a.fallBack(ctx, request, mctx, res, resp)
		return
	}
	statement := res.Artifact
	resp.Artifact = statement
	resp.Reused = res.Metadata.Reused

	decision := policy.ValidateQuery(statement)
	a.metrics.ObserveGate("query", decision.Accepted)
	entry := a.auditEntry(request, resp.Intent, "query", statement, decision)
	if !decision.Accepted {
		a.logger.Warn("query blocked", zap.String("rule", decision.Rule), zap.String("reason", decision.Reason))
		resp.fail(&Failure{Kind: KindValidationRejected, Reason: decision.Reason})
		resp.Text = a.formatter.Rejection("query", decision.Reason)
		a.recordAudit(ctx, entry, audit.OutcomeBlocked)
		return
	}

	start := time.Now()
	rows, err := a.osquery.Run(ctx, statement)
	a.metrics.ObserveStage("execute", time.Since(start))
	if err != nil {
		f := executionFailure(err)
		resp.fail(f)
		resp.Text = a.formatter.ExecutionError(statement, err)
		a.metrics.ObserveExecution("osquery", f.Kind.String())
		a.recordAudit(ctx, entry, outcomeFor(f))
		return
	}
	a.metrics.ObserveExecution("osquery", "ok")
	a.recordAudit(ctx, entry, audit.OutcomeExecuted)

	rows = policy.SanitizeRows(rows)
	resp.Text = a.formatter.Query(statement, rows, chains.SuggestRelated(statement))
	if err := a.memory.RecordQuery(ctx, statement, summarizeRows(rows)); err != nil {
		a.persistenceFailed(err, resp)
	}
}

func (a *Assistant) capturePersonalInfo(ctx context.Context, request string, resp *Response) {
	for key, value := range extractPersonalInfo(request) {
		if err := a.memory.SetPersonalInfo(ctx, key, value); err != nil {
			a.persistenceFailed(err, resp)
		}
	}
}

func (a *Assistant) recordTurn(ctx context.Context, request string, resp *Response) {
	if request == "" {
		return
	}
	if err := a.memory.RecordTurn(ctx, request, resp.Text); err != nil {
		a.persistenceFailed(err, resp)
	}
}

func (a *Assistant) persistenceFailed(err error, resp *Response) {
	a.logger.Warn("memory write failed, continuing", zap.Error(err))
	a.metrics.ObservePersistenceFailure()
	resp.fail(&Failure{Kind: KindPersistence, Err: err})
}

func (a *Assistant) auditEntry(request string, it intent.Intent, kind, artifact string, d policy.Decision) audit.Entry {
	return audit.Entry{
		SessionID: a.sessionID,
		Request:   request,
		Intent:    it.String(),
		Kind:      kind,
		Artifact:  artifact,
		Accepted:  d.Accepted,
		Rule:      d.Rule,
		Reason:    d.Reason,
	}
}

func (a *Assistant) recordAudit(ctx context.Context, e audit.Entry, outcome audit.Outcome) {
	e.Outcome = outcome
	if err := a.audit.Record(ctx, e); err != nil {
		a.logger.Warn("audit record failed", zap.Error(err))
	}
}

// chainValidationRule names rejections made while the query chain was still
// retrying, before any statement reached the gate.
const chainValidationRule = "chain_validation"

func outcomeFor(f *Failure) audit.Outcome {
	switch f.Kind {
	case KindExecutionTimeout:
		return audit.OutcomeTimedOut
	case KindEngineUnavailable:
		return audit.OutcomeUnavailable
	default:
		return audit.OutcomeFailed
	}
}

const maxSummaryChars = 300

// summarizeRows keeps what memory needs to describe a result: the row count
// and a redacted sample of the first row.
func summarizeRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return "0 rows"
	}
	sample, err := json.Marshal(rows[0])
	if err != nil {
		return fmt.Sprintf("%d rows", len(rows))
	}
	text, _ := policy.RedactPII(string(sample))
	if r := []rune(text); len(r) > maxSummaryChars {
		text = string(r[:maxSummaryChars]) + "..."
	}
	return fmt.Sprintf("%d rows, first: %s", len(rows), text)
}
