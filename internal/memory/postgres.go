package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB holds the pool shared by every session's PostgresStore.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresDB{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memory_turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_text TEXT NOT NULL,
			assistant_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_turns_session_created ON memory_turns (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS memory_queries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			statement TEXT NOT NULL,
			summary TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_queries_session_created ON memory_queries (session_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS memory_personal_info (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, key)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Opener returns a store per session sharing this pool.
func (db *PostgresDB) Opener(limits Limits) Opener {
	return func(sessionID string) (Store, error) {
		return &PostgresStore{pool: db.pool, sessionID: sessionID, limits: limits.normalized()}, nil
	}
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// PostgresStore persists one session's memory. Writes that fail leave
// nothing behind, so they are reported as ErrPersistence.
type PostgresStore struct {
	pool      *pgxpool.Pool
	sessionID string
	limits    Limits
}

func (s *PostgresStore) RecordTurn(ctx context.Context, user, assistant string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_turns (id, session_id, user_text, assistant_text, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), s.sessionID, user, assistant, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: save turn: %w", ErrPersistence, err)
	}
	return s.trim(ctx, "memory_turns", s.limits.MaxTurns)
}

func (s *PostgresStore) RecordQuery(ctx context.Context, statement, summary string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_queries (id, session_id, statement, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), s.sessionID, statement, summary, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: save query: %w", ErrPersistence, err)
	}
	return s.trim(ctx, "memory_queries", s.limits.MaxQueries)
}

func (s *PostgresStore) SetPersonalInfo(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_personal_info (session_id, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (session_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		s.sessionID, key, value,
	)
	if err != nil {
		return fmt.Errorf("%w: save personal info: %w", ErrPersistence, err)
	}
	return nil
}

// trim keeps the newest max rows of table for this session.
func (s *PostgresStore) trim(ctx context.Context, table string, max int) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM `+table+` WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		)`,
		s.sessionID, max,
	)
	if err != nil {
		return fmt.Errorf("%w: trim %s: %w", ErrPersistence, table, err)
	}
	return nil
}

func (s *PostgresStore) Context(ctx context.Context) (Context, error) {
	out := Context{PersonalInfo: map[string]string{}}

	rows, err := s.pool.Query(ctx,
		`SELECT user_text, assistant_text FROM memory_turns
		 WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		s.sessionID, s.limits.ContextTurns,
	)
	if err != nil {
		return Context{}, fmt.Errorf("query recent turns: %w", err)
	}
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.User, &t.Assistant); err != nil {
			rows.Close()
			return Context{}, fmt.Errorf("scan turn row: %w", err)
		}
		out.Turns = append(out.Turns, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Context{}, fmt.Errorf("iterate turn rows: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT statement, summary FROM memory_queries
		 WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`,
		s.sessionID, s.limits.ContextQueries,
	)
	if err != nil {
		return Context{}, fmt.Errorf("query recent queries: %w", err)
	}
	for rows.Next() {
		var q QueryRecord
		if err := rows.Scan(&q.Statement, &q.Summary); err != nil {
			rows.Close()
			return Context{}, fmt.Errorf("scan query row: %w", err)
		}
		out.Queries = append(out.Queries, q)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Context{}, fmt.Errorf("iterate query rows: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT key, value FROM memory_personal_info WHERE session_id = $1`,
		s.sessionID,
	)
	if err != nil {
		return Context{}, fmt.Errorf("query personal info: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Context{}, fmt.Errorf("scan personal info row: %w", err)
		}
		out.PersonalInfo[k] = v
	}
	if err := rows.Err(); err != nil {
		return Context{}, fmt.Errorf("iterate personal info rows: %w", err)
	}

	reverse(out.Turns)
	reverse(out.Queries)
	return out, nil
}

// Close is a no-op; the pool belongs to PostgresDB.
func (s *PostgresStore) Close() error { return nil }

// reverse puts newest-first rows back into chronological order.
func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
