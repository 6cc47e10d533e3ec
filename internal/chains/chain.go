// Package chains turns a classified request into an artifact: a reply,
// a shell command, or a query statement.
package chains

import (
	"context"

	"github.com/ent0n29/lia/internal/memory"
)

// FailureKind says why a chain produced no artifact.
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureBackend means the generative backend errored or answered nothing.
	FailureBackend
	// FailureNotApplicable means the backend declined with its marker.
	FailureNotApplicable
	// FailureInvalid means every generated artifact failed validation.
	FailureInvalid
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureBackend:
		return "backend"
	case FailureNotApplicable:
		return "not_applicable"
	case FailureInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Metadata describes how an artifact was produced.
type Metadata struct {
	Chain         string
	Attempts      int
	GroundingUsed bool
	Reused        bool
	OSFamily      string
	Failure       FailureKind
	FailureReason string
	Err           error
}

// Result is the outcome of one chain run. Artifact is empty whenever
// Metadata.Failure is set.
type Result struct {
	Artifact string
	Metadata Metadata
}

// OK reports whether the result carries a usable artifact.
func (r Result) OK() bool {
	return r.Metadata.Failure == FailureNone && r.Artifact != ""
}

// Chain is one generation strategy.
type Chain interface {
	Process(ctx context.Context, request string, mctx memory.Context) Result
}

const (
	ConversationName = "conversation"
	CommandName      = "command"
	QueryName        = "query"
)

func failed(chain string, attempts int, kind FailureKind, reason string, err error) Result {
	return Result{Metadata: Metadata{
		Chain:         chain,
		Attempts:      attempts,
		Failure:       kind,
		FailureReason: reason,
		Err:           err,
	}}
}
