package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteLog(ctx context.Context, path string) (*SQLiteLog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("audit db path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit database ping failed: %w", err)
	}

	l := &SQLiteLog{db: db, now: time.Now}
	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLog) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			request TEXT NOT NULL,
			intent TEXT NOT NULL,
			kind TEXT NOT NULL,
			artifact TEXT NOT NULL,
			accepted INTEGER NOT NULL,
			rule TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS gate_decisions_created_idx ON gate_decisions (created_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

func (l *SQLiteLog) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = l.now()
	}
	accepted := 0
	if e.Accepted {
		accepted = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO gate_decisions (id, session_id, request, intent, kind, artifact, accepted, rule, reason, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Request, e.Intent, e.Kind, e.Artifact, accepted, e.Rule, e.Reason, string(e.Outcome), e.At.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first.
func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, request, intent, kind, artifact, accepted, rule, reason, outcome, created_at
		 FROM gate_decisions
		 ORDER BY created_at DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			accepted int
			outcome  string
			at       int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Request, &e.Intent, &e.Kind, &e.Artifact, &accepted, &e.Rule, &e.Reason, &outcome, &at); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Accepted = accepted == 1
		e.Outcome = Outcome(outcome)
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
