package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileStore persists memory as a single JSON document. The whole document is
// rewritten after every mutation through a temp file and rename, so readers
// never observe a partial write.
type FileStore struct {
	mu     sync.Mutex
	path   string
	limits Limits
	doc    document
	logger *zap.Logger
}

// NewFileStore loads path, treating a missing or unreadable document as an
// empty store. It only fails when path is blank.
func NewFileStore(path string, limits Limits, logger *zap.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("memory file path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path:   path,
		limits: limits.normalized(),
		logger: logger.With(zap.String("memory_file", path)),
	}
	s.doc = s.load()
	s.doc.truncate(s.limits)
	if err := s.save(); err != nil {
		s.logger.Warn("initial memory save failed", zap.Error(err))
	}
	return s, nil
}

func (s *FileStore) load() document {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("memory file not found, starting fresh")
		return newDocument()
	}
	if err != nil {
		s.logger.Warn("memory file unreadable, starting fresh", zap.Error(err))
		return newDocument()
	}

	doc := newDocument()
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("memory file corrupted, starting fresh", zap.Error(err))
		s.quarantine()
		return newDocument()
	}
	if doc.Conversations == nil {
		doc.Conversations = []Turn{}
	}
	if doc.Queries == nil {
		doc.Queries = []QueryRecord{}
	}
	if doc.PersonalInfo == nil {
		doc.PersonalInfo = map[string]string{}
	}
	return doc
}

// quarantine keeps a corrupted file around for inspection instead of
// overwriting it.
func (s *FileStore) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UTC().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		s.logger.Warn("could not move corrupted memory file aside", zap.Error(err))
		return
	}
	s.logger.Info("moved corrupted memory file aside", zap.String("dst", dst))
}

func (s *FileStore) save() error {
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write: %v", ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %v", ErrPersistence, err)
	}
	return nil
}

func (s *FileStore) mutate(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.doc)
	s.doc.truncate(s.limits)
	return s.save()
}

func (s *FileStore) RecordTurn(_ context.Context, user, assistant string) error {
	return s.mutate(func(d *document) {
		d.Conversations = append(d.Conversations, Turn{User: user, Assistant: assistant})
	})
}

func (s *FileStore) RecordQuery(_ context.Context, statement, summary string) error {
	return s.mutate(func(d *document) {
		d.Queries = append(d.Queries, QueryRecord{Statement: statement, Summary: summary})
	})
}

func (s *FileStore) SetPersonalInfo(_ context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.mutate(func(d *document) {
		d.PersonalInfo[key] = strings.TrimSpace(value)
	})
}

func (s *FileStore) Context(_ context.Context) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.snapshot(s.limits), nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Close() error { return nil }
