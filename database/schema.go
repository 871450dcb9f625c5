// Package database owns Postgres connectivity and schema bootstrap for the
// document snapshot table and the pgvector chunk table.
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureChunkSchema creates the pgvector chunk table and its indexes. It
// fails when an existing table carries an incompatible vector dimension.
func EnsureChunkSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			source TEXT,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_doc ON rag_chunks(doc_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_cosine_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute chunk schema statement: %w", err)
		}
	}

	// Insert-probe against the declared dimension; a stale table from a
	// previous embedding model surfaces here instead of at first upsert.
	var existing int
	if err := pool.QueryRow(ctx,
		"SELECT COALESCE(atttypmod, 0) FROM pg_attribute WHERE attrelid = 'rag_chunks'::regclass AND attname = 'embedding'",
	).Scan(&existing); err != nil {
		return fmt.Errorf("inspect chunk embedding column: %w", err)
	}
	if existing > 0 && existing != dimension {
		return fmt.Errorf("chunk table has embedding dimension %d, expected %d", existing, dimension)
	}

	return nil
}

// ResetChunkSchema drops the chunk table entirely. Used by the recovery path
// when the existing schema cannot be reused.
func ResetChunkSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS rag_chunks"); err != nil {
		return fmt.Errorf("drop chunk table: %w", err)
	}
	return nil
}

// EnsureDocumentSchema creates the document snapshot table.
func EnsureDocumentSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS rag_documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`

	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("execute document schema statement: %w", err)
	}
	return nil
}
