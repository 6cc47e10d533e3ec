package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/ent0n29/lia/internal/memory"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Registry hands out one Assistant per session. Each gets its own memory
// store, so conversations never share context.
type Registry struct {
	base Deps
	open memory.Opener

	mu         sync.Mutex
	assistants map[string]*Assistant
}

// NewRegistry shares everything in base except Memory and SessionID. An empty
// memoryDir keeps session memory in process only.
func NewRegistry(base Deps, memoryDir string, limits memory.Limits) *Registry {
	if base.Logger == nil {
		base.Logger = zap.NewNop()
	}
	return NewRegistryWithOpener(base, memory.DirOpener(memoryDir, limits, base.Logger))
}

// NewRegistryWithOpener takes session memory from open.
func NewRegistryWithOpener(base Deps, open memory.Opener) *Registry {
	base.Memory = nil
	base.SessionID = ""
	if base.Logger == nil {
		base.Logger = zap.NewNop()
	}
	return &Registry{
		base:       base,
		open:       open,
		assistants: make(map[string]*Assistant),
	}
}

// Get returns the session's assistant, creating it on first use.
func (r *Registry) Get(sessionID string) (*Assistant, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, fmt.Errorf("invalid session id %q", sessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assistants[sessionID]; ok {
		return a, nil
	}

	store, err := r.open(sessionID)
	if err != nil {
		return nil, fmt.Errorf("open session memory: %w", err)
	}

	deps := r.base
	deps.SessionID = sessionID
	deps.Memory = store
	a, err := NewAssistant(deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	r.assistants[sessionID] = a
	return a, nil
}

// Process runs request in the session's conversation.
func (r *Registry) Process(ctx context.Context, sessionID, request string) (Response, error) {
	a, err := r.Get(sessionID)
	if err != nil {
		return Response{}, err
	}
	return a.Process(ctx, request), nil
}

// Release drops a session's assistant and closes its memory.
func (r *Registry) Release(sessionID string) error {
	r.mu.Lock()
	a, ok := r.assistants[sessionID]
	delete(r.assistants, sessionID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return a.memory.Close()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assistants)
}

func (r *Registry) Close() error {
	r.mu.Lock()
	assistants := r.assistants
	r.assistants = make(map[string]*Assistant)
	r.mu.Unlock()

	var errs []error
	for _, a := range assistants {
		if err := a.memory.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
