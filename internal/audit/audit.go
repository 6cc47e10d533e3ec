// Package audit keeps a durable trail of safety gate decisions and what
// happened to every artifact afterwards.
package audit

import (
	"context"
	"time"
)

// Outcome is what became of an artifact after the gate.
type Outcome string

const (
	OutcomeBlocked     Outcome = "blocked"
	OutcomeExecuted    Outcome = "executed"
	OutcomeFailed      Outcome = "failed"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeUnavailable Outcome = "unavailable"
)

// Entry is one audited artifact.
type Entry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Request   string    `json:"request"`
	Intent    string    `json:"intent"`
	Kind      string    `json:"kind"`
	Artifact  string    `json:"artifact"`
	Accepted  bool      `json:"accepted"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	At        time.Time `json:"at"`
}

// Log records entries. Implementations must be safe for concurrent use.
type Log interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// NopLog discards everything.
type NopLog struct{}

func (NopLog) Record(context.Context, Entry) error { return nil }
func (NopLog) Recent(context.Context, int) ([]Entry, error) { return nil, nil }
func (NopLog) Close() error { return nil }
