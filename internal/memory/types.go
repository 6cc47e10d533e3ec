package memory

import (
	"context"
	"errors"
)

// ErrPersistence marks a failure to write the backing file. The in-memory
// state has already been updated when it is returned.
var ErrPersistence = errors.New("memory persistence failed")

// Turn is one user request and the reply shown for it.
type Turn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// QueryRecord is a statement that was executed and a summary of its result.
type QueryRecord struct {
	Statement string `json:"query"`
	Summary   string `json:"result"`
}

// Context is a read-only snapshot assembled for one request.
type Context struct {
	Turns        []Turn
	Queries      []QueryRecord
	PersonalInfo map[string]string
}

// LastQuery returns the most recently recorded query, if any.
func (c Context) LastQuery() (QueryRecord, bool) {
	if len(c.Queries) == 0 {
		return QueryRecord{}, false
	}
	return c.Queries[len(c.Queries)-1], true
}

// Limits bounds what a store keeps and what a context exposes.
type Limits struct {
	MaxTurns       int
	MaxQueries     int
	ContextTurns   int
	ContextQueries int
}

// DefaultLimits keeps 50 turns and 20 queries, exposing 5 and 3.
func DefaultLimits() Limits {
	return Limits{MaxTurns: 50, MaxQueries: 20, ContextTurns: 5, ContextQueries: 3}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxTurns <= 0 {
		l.MaxTurns = d.MaxTurns
	}
	if l.MaxQueries <= 0 {
		l.MaxQueries = d.MaxQueries
	}
	if l.ContextTurns < 0 {
		l.ContextTurns = 0
	}
	if l.ContextQueries < 0 {
		l.ContextQueries = 0
	}
	return l
}

// Store is the short-term memory of one conversation.
type Store interface {
	RecordTurn(ctx context.Context, user, assistant string) error
	RecordQuery(ctx context.Context, statement, summary string) error
	SetPersonalInfo(ctx context.Context, key, value string) error
	Context(ctx context.Context) (Context, error)
	Close() error
}

// document is the persisted shape of a store.
type document struct {
	Conversations []Turn            `json:"conversations"`
	Queries       []QueryRecord     `json:"queries"`
	PersonalInfo  map[string]string `json:"personal_info"`
}

func newDocument() document {
	return document{
		Conversations: []Turn{},
		Queries:       []QueryRecord{},
		PersonalInfo:  map[string]string{},
	}
}

func (d *document) truncate(l Limits) {
	d.Conversations = lastN(d.Conversations, l.MaxTurns)
	d.Queries = lastN(d.Queries, l.MaxQueries)
}

func (d *document) snapshot(l Limits) Context {
	info := make(map[string]string, len(d.PersonalInfo))
	for k, v := range d.PersonalInfo {
		info[k] = v
	}
	return Context{
		Turns:        append([]Turn(nil), lastN(d.Conversations, l.ContextTurns)...),
		Queries:      append([]QueryRecord(nil), lastN(d.Queries, l.ContextQueries)...),
		PersonalInfo: info,
	}
}

// lastN returns the tail of s holding at most n items. A truncated tail is
// copied into a fresh slice.
func lastN[T any](s []T, n int) []T {
	if n <= 0 {
		return []T{}
	}
	if len(s) <= n {
		return s
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}
