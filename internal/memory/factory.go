package memory

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Opener returns the store for one session.
type Opener func(sessionID string) (Store, error)

// NewStore creates a file-backed store when a path is configured, otherwise in-memory.
func NewStore(path string, limits Limits, logger *zap.Logger) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return NewInMemoryStore(limits), nil
	}
	return NewFileStore(path, limits, logger)
}

// DirOpener keeps each session in dir/<session>.json. An empty dir keeps
// sessions in process only.
func DirOpener(dir string, limits Limits, logger *zap.Logger) Opener {
	return func(sessionID string) (Store, error) {
		path := ""
		if strings.TrimSpace(dir) != "" {
			path = filepath.Join(dir, sessionID+".json")
		}
		return NewStore(path, limits, logger)
	}
}
