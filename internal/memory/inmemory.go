package memory

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore keeps memory in process only. Used in tests and when no
// memory file is configured.
type InMemoryStore struct {
	mu     sync.RWMutex
	limits Limits
	doc    document
}

func NewInMemoryStore(limits Limits) *InMemoryStore {
	return &InMemoryStore{limits: limits.normalized(), doc: newDocument()}
}

func (s *InMemoryStore) RecordTurn(_ context.Context, user, assistant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Conversations = append(s.doc.Conversations, Turn{User: user, Assistant: assistant})
	s.doc.truncate(s.limits)
	return nil
}

func (s *InMemoryStore) RecordQuery(_ context.Context, statement, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Queries = append(s.doc.Queries, QueryRecord{Statement: statement, Summary: summary})
	s.doc.truncate(s.limits)
	return nil
}

func (s *InMemoryStore) SetPersonalInfo(_ context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.PersonalInfo[key] = strings.TrimSpace(value)
	return nil
}

func (s *InMemoryStore) Context(_ context.Context) (Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.snapshot(s.limits), nil
}

func (s *InMemoryStore) Close() error { return nil }
