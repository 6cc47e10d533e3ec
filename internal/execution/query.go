package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	queryEngineName      = "osquery"
	defaultHealthTimeout = 5 * time.Second
	maxDiagnosticChars   = 512
)

// QueryExecutor runs SELECT statements through the osquery shell in JSON mode.
type QueryExecutor struct {
	path          string
	timeout       time.Duration
	healthTimeout time.Duration
	logger        *zap.Logger

	// available latches after the first successful version probe and is
	// cleared when a run finds the binary gone.
	available atomic.Bool
}

func NewQueryExecutor(path string, timeout, healthTimeout time.Duration, logger *zap.Logger) *QueryExecutor {
	if strings.TrimSpace(path) == "" {
		path = "osqueryi"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if healthTimeout <= 0 {
		healthTimeout = defaultHealthTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryExecutor{
		path:          path,
		timeout:       timeout,
		healthTimeout: healthTimeout,
		logger:        logger.Named("osquery"),
	}
}

// Run executes statement and decodes the rows. Rows may differ in shape.
func (q *QueryExecutor) Run(ctx context.Context, statement string) ([]map[string]any, error) {
	start := time.Now()
	res, err := runProcess(ctx, queryEngineName, q.timeout, defaultMaxOutput, q.path, "--json", statement)
	if err != nil {
		if isNotFound(err) {
			q.available.Store(false)
			return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		q.logger.Info("query failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return nil, err
	}

	rows, err := decodeRows(res.stdout)
	if err != nil {
		q.logger.Warn("query output malformed", zap.Error(err))
		return nil, err
	}
	q.logger.Debug("query completed", zap.Int("rows", len(rows)), zap.Duration("duration", time.Since(start)))
	return rows, nil
}

func decodeRows(raw string) ([]map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return []map[string]any{}, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrMalformedOutput, err, clip(raw, maxDiagnosticChars))
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// Version probes the engine binary and returns its version banner.
func (q *QueryExecutor) Version(ctx context.Context) (string, error) {
	res, err := runProcess(ctx, queryEngineName, q.healthTimeout, 4096, q.path, "--version")
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return "", err
	}
	return res.stdout, nil
}

// IsAvailable reports whether the engine answers a version probe in time.
// A positive answer is remembered, so only the first call per executor pays
// for spawning the binary.
func (q *QueryExecutor) IsAvailable(ctx context.Context) bool {
	if q.available.Load() {
		return true
	}
	version, err := q.Version(ctx)
	if err != nil {
		q.logger.Info("query engine unavailable", zap.String("path", q.path), zap.Error(err))
		return false
	}
	q.logger.Debug("query engine available", zap.String("version", version))
	q.available.Store(true)
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
