package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorIndex searches documents stored in PostgreSQL with pgvector.
type PGVectorIndex struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

func NewPGVectorIndex(ctx context.Context, databaseURL string, embedder Embedder) (*PGVectorIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("pgvector index requires an embedder")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PGVectorIndex{pool: pool, embedder: embedder}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		`CREATE TABLE IF NOT EXISTS retrieval_documents (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			table_name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			embedding vector NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_retrieval_documents_collection ON retrieval_documents (collection);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (x *PGVectorIndex) Search(ctx context.Context, query, collection string, k int) ([]Document, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := x.pool.Query(ctx,
		`SELECT id, content, platform, table_name, source, embedding <=> $1::vector AS distance
		 FROM retrieval_documents
		 WHERE collection = $2
		 ORDER BY distance
		 LIMIT $3`,
		vectorLiteral(vec),
		collection,
		k,
	)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		var d Document
		err := row.Scan(&d.ID, &d.Text, &d.Metadata.Platform, &d.Metadata.Table, &d.Metadata.Source, &d.Score)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("pgvector scan: %w", err)
	}
	assignRanks(docs)
	return docs, nil
}

// Ingest upserts docs into collection, embedding each one.
func (x *PGVectorIndex) Ingest(ctx context.Context, collection string, docs []Document) error {
	for _, d := range docs {
		vec, err := x.embedder.Embed(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", d.ID, err)
		}
		_, err = x.pool.Exec(ctx,
			`INSERT INTO retrieval_documents (id, collection, content, platform, table_name, source, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
			 ON CONFLICT (id) DO UPDATE SET
			   collection = EXCLUDED.collection,
			   content = EXCLUDED.content,
			   platform = EXCLUDED.platform,
			   table_name = EXCLUDED.table_name,
			   source = EXCLUDED.source,
			   embedding = EXCLUDED.embedding`,
			d.ID, collection, d.Text, d.Metadata.Platform, d.Metadata.Table, d.Metadata.Source, vectorLiteral(vec),
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", d.ID, err)
		}
	}
	return nil
}

func (x *PGVectorIndex) Close() error {
	x.pool.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 8)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
