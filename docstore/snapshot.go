package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davitran/crypto-rag/database"
)

// FileSnapshot stores the registry as a JSON file on disk.
type FileSnapshot struct {
	path string
}

func NewFileSnapshot(path string) *FileSnapshot {
	return &FileSnapshot{path: path}
}

func (f *FileSnapshot) Save(_ context.Context, docs []Document) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the snapshot.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FileSnapshot) Load(_ context.Context) ([]Document, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return docs, nil
}

var _ Snapshot = (*FileSnapshot)(nil)

// PostgresSnapshot stores the registry in the rag_documents table.
type PostgresSnapshot struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshot(pool *pgxpool.Pool) *PostgresSnapshot {
	return &PostgresSnapshot{pool: pool}
}

// Init creates the snapshot table.
func (p *PostgresSnapshot) Init(ctx context.Context) error {
	return database.EnsureDocumentSchema(ctx, p.pool)
}

func (p *PostgresSnapshot) Save(ctx context.Context, docs []Document) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "DELETE FROM rag_documents"); err != nil {
		return fmt.Errorf("clear document snapshot: %w", err)
	}

	for _, doc := range docs {
		var metadata []byte
		metadata, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal document metadata: %w", err)
		}

		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_documents (id, content, source, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, doc.ID, doc.Content, doc.Source, metadata, doc.CreatedAt); err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (p *PostgresSnapshot) Load(ctx context.Context) ([]Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, content, source, metadata, created_at
		FROM rag_documents
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query document snapshot: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadata []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Source, &metadata, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal document metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return docs, nil
}

var _ Snapshot = (*PostgresSnapshot)(nil)
