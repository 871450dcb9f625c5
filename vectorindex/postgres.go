package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/davitran/crypto-rag/database"
)

// Postgres stores chunk vectors in a pgvector-backed table.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *log.Logger
}

var filterColumns = map[string]string{
	FilterDocID:  "doc_id",
	FilterSource: "source",
}

func NewPostgres(pool *pgxpool.Pool, dimension int, logger *log.Logger) *Postgres {
	if logger == nil {
		logger = log.Default()
	}
	return &Postgres{pool: pool, dimension: dimension, logger: logger}
}

// Init ensures the chunk schema exists. A corrupt or incompatible schema is
// resolved by dropping and recreating the chunk table empty; the document
// store's resync repopulates it from the registry afterwards.
func (p *Postgres) Init(ctx context.Context) error {
	if err := database.EnsureChunkSchema(ctx, p.pool, p.dimension); err != nil {
		p.logger.Printf("chunk schema init failed, resetting: %v", err)
		if resetErr := database.ResetChunkSchema(ctx, p.pool); resetErr != nil {
			return fmt.Errorf("reset chunk schema: %w", resetErr)
		}
		if err := database.EnsureChunkSchema(ctx, p.pool, p.dimension); err != nil {
			return fmt.Errorf("recreate chunk schema: %w", err)
		}
		p.logger.Printf("chunk table recreated empty")
	}
	return nil
}

func (p *Postgres) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
				p.logger.Printf("rollback error: %v", rbErr)
			}
		}
	}()

	for _, entry := range entries {
		if p.dimension > 0 && len(entry.Vector) != p.dimension {
			err = fmt.Errorf("vector dimension mismatch: expected %d, got %d", p.dimension, len(entry.Vector))
			return err
		}

		var metadata []byte
		metadata, err = json.Marshal(entry.Payload.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}

		if _, err = tx.Exec(ctx, `
			INSERT INTO rag_chunks (id, doc_id, chunk_index, source, content, metadata, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				doc_id = EXCLUDED.doc_id,
				chunk_index = EXCLUDED.chunk_index,
				source = EXCLUDED.source,
				content = EXCLUDED.content,
				metadata = EXCLUDED.metadata,
				embedding = EXCLUDED.embedding,
				updated_at = NOW()
		`, entry.ID, entry.Payload.DocID, entry.Payload.ChunkIndex, entry.Payload.Source,
			entry.Payload.Content, metadata, pgvector.NewVector(entry.Vector)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", entry.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (p *Postgres) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]Match, error) {
	if k <= 0 {
		k = 5
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT doc_id, chunk_index, source, content, metadata,
		       1 - (embedding <=> $1::vector) AS score
		FROM rag_chunks
		WHERE 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $2
	`, pgvector.NewVector(vector), k, threshold)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	matches := make([]Match, 0, k)
	for rows.Next() {
		var match Match
		var metadata []byte
		if scanErr := rows.Scan(&match.Payload.DocID, &match.Payload.ChunkIndex, &match.Payload.Source,
			&match.Payload.Content, &metadata, &match.Score); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		if len(metadata) > 0 {
			if umErr := json.Unmarshal(metadata, &match.Payload.Metadata); umErr != nil {
				return nil, fmt.Errorf("unmarshal chunk metadata: %w", umErr)
			}
		}
		matches = append(matches, match)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return matches, nil
}

func (p *Postgres) DeleteBy(ctx context.Context, key, value string) error {
	column, ok := filterColumns[key]
	if !ok {
		return fmt.Errorf("unsupported filter key: %s", key)
	}

	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM rag_chunks WHERE %s = $1", column), value); err != nil {
		return fmt.Errorf("delete chunks by %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM rag_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

var _ Index = (*Postgres)(nil)
