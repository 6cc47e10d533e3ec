package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a lexical index backed by SQLite FTS5 with bm25 ranking.
type SQLiteIndex struct {
	db *sql.DB
}

func NewSQLiteIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite index path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
		id UNINDEXED,
		collection UNINDEXED,
		content,
		platform UNINDEXED,
		table_name UNINDEXED,
		source UNINDEXED
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fts table: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// matchExpression turns free text into an FTS5 OR query of quoted terms.
func matchExpression(query string) string {
	seen := map[string]bool{}
	var terms []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(query), -1) {
		if len(tok) < 2 || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, `"`+tok+`"`)
	}
	return strings.Join(terms, " OR ")
}

func (x *SQLiteIndex) Search(ctx context.Context, query, collection string, k int) ([]Document, error) {
	expr := matchExpression(query)
	if k <= 0 || expr == "" {
		return nil, nil
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, content, platform, table_name, source, bm25(documents) AS score
		 FROM documents
		 WHERE documents MATCH ? AND collection = ?
		 ORDER BY score
		 LIMIT ?`,
		expr, collection, k,
	)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Text, &d.Metadata.Platform, &d.Metadata.Table, &d.Metadata.Source, &d.Score); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	assignRanks(docs)
	return docs, nil
}

// Ingest replaces documents with the same id in collection.
func (x *SQLiteIndex) Ingest(ctx context.Context, collection string, docs []Document) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND collection = ?`, d.ID, collection); err != nil {
			return fmt.Errorf("delete %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, collection, content, platform, table_name, source) VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, collection, d.Text, d.Metadata.Platform, d.Metadata.Table, d.Metadata.Source,
		); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of documents in collection.
func (x *SQLiteIndex) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT count(*) FROM documents WHERE collection = ?`, collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (x *SQLiteIndex) Close() error {
	return x.db.Close()
}
