//go:build !windows

package execution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "osqueryi")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo 'osqueryi version 5.12.1'; exit 0; fi\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestQueryExecutorDecodesRows(t *testing.T) {
	path := writeEngine(t, `echo '[{"pid":"1","name":"launchd"},{"pid":"2","name":"kernel","path":""}]'`)
	q := NewQueryExecutor(path, 5*time.Second, time.Second, zap.NewNop())

	rows, err := q.Run(context.Background(), "SELECT pid, name FROM processes LIMIT 2;")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "launchd", rows[0]["name"])
	assert.Contains(t, rows[1], "path")
}

func TestQueryExecutorPassesStatementInJSONMode(t *testing.T) {
	path := writeEngine(t, `[ "$1" = "--json" ] || exit 9
printf '[{"stmt":"%s"}]' "$2"`)
	q := NewQueryExecutor(path, 5*time.Second, time.Second, zap.NewNop())

	rows, err := q.Run(context.Background(), "SELECT 1 FROM time;")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "SELECT 1 FROM time;", rows[0]["stmt"])
}

func TestQueryExecutorEmptyOutput(t *testing.T) {
	q := NewQueryExecutor(writeEngine(t, `true`), 5*time.Second, time.Second, zap.NewNop())
	rows, err := q.Run(context.Background(), "SELECT pid FROM processes WHERE 0;")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryExecutorNonzeroExit(t *testing.T) {
	q := NewQueryExecutor(writeEngine(t, `echo 'Error: no such table: nope' >&2; exit 1`), 5*time.Second, time.Second, zap.NewNop())
	_, err := q.Run(context.Background(), "SELECT a FROM nope;")

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "error %v is not *ExitError", err)
	assert.Equal(t, "osquery", exitErr.Engine)
	assert.Contains(t, exitErr.Diagnostic, "no such table")
}

func TestQueryExecutorMalformedOutput(t *testing.T) {
	q := NewQueryExecutor(writeEngine(t, `echo 'not json at all'`), 5*time.Second, time.Second, zap.NewNop())
	_, err := q.Run(context.Background(), "SELECT a FROM t;")
	require.ErrorIs(t, err, ErrMalformedOutput)
	assert.Contains(t, err.Error(), "not json at all")
}

func TestQueryExecutorTimeout(t *testing.T) {
	q := NewQueryExecutor(writeEngine(t, `sleep 20`), 200*time.Millisecond, time.Second, zap.NewNop())
	_, err := q.Run(context.Background(), "SELECT a FROM t;")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestQueryExecutorAvailability(t *testing.T) {
	ctx := context.Background()
	present := NewQueryExecutor(writeEngine(t, `true`), time.Second, time.Second, zap.NewNop())
	assert.True(t, present.IsAvailable(ctx))
	version, err := present.Version(ctx)
	require.NoError(t, err)
	assert.Contains(t, version, "5.12.1")

	missing := NewQueryExecutor(filepath.Join(t.TempDir(), "does-not-exist"), time.Second, time.Second, zap.NewNop())
	assert.False(t, missing.IsAvailable(ctx))
	_, err = missing.Run(ctx, "SELECT a FROM t;")
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestQueryExecutorHealthTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osqueryi")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nsleep 20\n"), 0o755))
	q := NewQueryExecutor(path, time.Second, 150*time.Millisecond, zap.NewNop())

	start := time.Now()
	assert.False(t, q.IsAvailable(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestQueryExecutorRemembersAvailability(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "version-calls")
	path := filepath.Join(dir, "osqueryi")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo x >> '" + counter + "'; echo 'osqueryi version 5.12.1'; exit 0; fi\necho '[]'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	q := NewQueryExecutor(path, time.Second, time.Second, zap.NewNop())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, q.IsAvailable(ctx))
	}
	calls, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(calls), "version should be checked once")

	require.NoError(t, os.Remove(path))
	_, err = q.Run(ctx, "SELECT a FROM t;")
	require.ErrorIs(t, err, ErrEngineUnavailable)
	assert.False(t, q.IsAvailable(ctx))
}
