// Package vectorindex stores chunk embeddings and answers nearest-neighbor
// queries over them. Implementations report cosine similarity scores in [0,1]
// on L2-normalized vectors.
package vectorindex

import "context"

// Payload is the chunk data carried alongside a vector. DocID is a
// back-reference to the owning document; the index never owns documents.
type Payload struct {
	DocID      string
	ChunkIndex int
	Content    string
	Source     string
	Metadata   map[string]string
}

// Entry is one chunk to be indexed. ID identifies the chunk for idempotent
// upserts; by convention it is "<doc id>:<chunk index>".
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match is a search hit with its similarity score.
type Match struct {
	Payload Payload
	Score   float64
}

// Filter keys accepted by DeleteBy.
const (
	FilterDocID  = "doc_id"
	FilterSource = "source"
)

type Index interface {
	// Upsert makes entries visible to subsequent searches immediately.
	// Re-upserting an existing entry ID replaces it.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns up to k matches with score >= threshold, ordered by
	// descending score. Fewer than k results is not an error.
	Search(ctx context.Context, vector []float32, k int, threshold float64) ([]Match, error)

	// DeleteBy removes every chunk whose payload field key equals value.
	// On error the caller must assume a partial deletion may have happened
	// and verify via Count.
	DeleteBy(ctx context.Context, key, value string) error

	// Count reports the total number of chunks stored.
	Count(ctx context.Context) (int, error)
}
