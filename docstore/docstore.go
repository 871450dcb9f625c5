// Package docstore is the canonical registry of ingested documents. It
// mediates between raw documents and their chunked vector representations:
// adding a document chunks and embeds it into the vector index, deleting one
// cascades to its chunks, and a resync rebuilds the index from the registry
// after a destructive index reset.
package docstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davitran/crypto-rag/chunker"
	"github.com/davitran/crypto-rag/embeddings"
	"github.com/davitran/crypto-rag/vectorindex"
)

// Document is the canonical record of one ingested article. IDs are unique
// and immutable once created.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Input is a document to be added, before an id is assigned.
type Input struct {
	Content  string
	Source   string
	Metadata map[string]string
}

// Snapshot persists the registry independently of the vector index so the
// index can be rebuilt after a reset.
type Snapshot interface {
	Save(ctx context.Context, docs []Document) error
	Load(ctx context.Context) ([]Document, error)
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
}

type Store struct {
	mu       sync.RWMutex
	docs     []Document
	index    vectorindex.Index
	embedder embeddings.Embedder
	snapshot Snapshot
	logger   *log.Logger
	opts     Options
}

func New(index vectorindex.Index, embedder embeddings.Embedder, snapshot Snapshot, logger *log.Logger, opts Options) *Store {
	if logger == nil {
		logger = log.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}

	return &Store{
		index:    index,
		embedder: embedder,
		snapshot: snapshot,
		logger:   logger,
		opts:     opts,
	}
}

// LoadSnapshot replaces the in-memory registry with the persisted one.
// Called once at startup before any writes.
func (s *Store) LoadSnapshot(ctx context.Context) error {
	if s.snapshot == nil {
		return nil
	}

	docs, err := s.snapshot.Load(ctx)
	if err != nil {
		return fmt.Errorf("load document snapshot: %w", err)
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()

	s.logger.Printf("loaded %d documents from snapshot", len(docs))
	return nil
}

// Add registers a document, chunks and embeds its content, and upserts the
// chunks into the vector index. The document is only registered once its
// chunks have landed in the index.
func (s *Store) Add(ctx context.Context, input Input) (string, error) {
	doc := Document{
		ID:        uuid.NewString(),
		Content:   input.Content,
		Source:    input.Source,
		CreatedAt: time.Now().UTC(),
		Metadata:  input.Metadata,
	}

	entries, err := s.chunkEntries(ctx, doc)
	if err != nil {
		return "", err
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		return "", fmt.Errorf("upsert chunks for document %s: %w", doc.ID, err)
	}

	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.Printf("added document %s (%d chunks)", doc.ID, len(entries))
	return doc.ID, nil
}

// BulkAdd registers several documents with all-or-nothing semantics: a
// failing index upsert leaves none of the batch registered.
func (s *Store) BulkAdd(ctx context.Context, inputs []Input) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	docs := make([]Document, 0, len(inputs))
	ids := make([]string, 0, len(inputs))
	var entries []vectorindex.Entry

	for _, input := range inputs {
		doc := Document{
			ID:        uuid.NewString(),
			Content:   input.Content,
			Source:    input.Source,
			CreatedAt: time.Now().UTC(),
			Metadata:  input.Metadata,
		}

		docEntries, err := s.chunkEntries(ctx, doc)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
		ids = append(ids, doc.ID)
		entries = append(entries, docEntries...)
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		return nil, fmt.Errorf("upsert chunks for batch: %w", err)
	}

	s.mu.Lock()
	s.docs = append(s.docs, docs...)
	s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.Printf("added %d documents (%d chunks)", len(docs), len(entries))
	return ids, nil
}

// Get looks a document up by id.
func (s *Store) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.docs {
		if doc.ID == id {
			return doc, true
		}
	}
	return Document{}, false
}

// Delete removes a document and its chunks. The registry entry survives when
// chunk deletion fails, so the document never dangles without index coverage
// the registry does not know about. Returns false for unknown ids.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := -1
	for i, doc := range s.docs {
		if doc.ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false, nil
	}

	if err := s.index.DeleteBy(ctx, vectorindex.FilterDocID, id); err != nil {
		return false, fmt.Errorf("delete chunks for document %s: %w", id, err)
	}

	s.docs = append(s.docs[:pos], s.docs[pos+1:]...)
	s.persistLocked(ctx)

	s.logger.Printf("deleted document %s", id)
	return true, nil
}

// ListAll returns a copy of the registry.
func (s *Store) ListAll() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]Document, len(s.docs))
	copy(docs, s.docs)
	return docs
}

// Count reports the number of registered documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Resync re-chunks and re-upserts every registered document when the vector
// index is empty but the registry is not. This is the recovery path after the
// index's destructive reset.
func (s *Store) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count index chunks: %w", err)
	}

	if count > 0 || len(s.docs) == 0 {
		s.logger.Printf("index has %d chunks for %d documents, no resync needed", count, len(s.docs))
		return nil
	}

	s.logger.Printf("index is empty but registry has %d documents, re-indexing", len(s.docs))

	var entries []vectorindex.Entry
	for _, doc := range s.docs {
		docEntries, err := s.chunkEntries(ctx, doc)
		if err != nil {
			return fmt.Errorf("re-chunk document %s: %w", doc.ID, err)
		}
		entries = append(entries, docEntries...)
	}

	if err := s.index.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("re-upsert chunks: %w", err)
	}

	s.logger.Printf("re-indexed %d documents (%d chunks)", len(s.docs), len(entries))
	return nil
}

// Clear wipes the registry and every chunk derived from it.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.docs {
		if err := s.index.DeleteBy(ctx, vectorindex.FilterDocID, doc.ID); err != nil {
			return fmt.Errorf("delete chunks for document %s: %w", doc.ID, err)
		}
	}

	s.docs = nil
	s.persistLocked(ctx)
	return nil
}

func (s *Store) chunkEntries(ctx context.Context, doc Document) ([]vectorindex.Entry, error) {
	texts := chunker.Split(doc.Content, s.opts.ChunkSize, s.opts.ChunkOverlap)
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks for document %s: %w", doc.ID, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d vectors", len(texts), len(vectors))
	}

	entries := make([]vectorindex.Entry, len(texts))
	for i, text := range texts {
		metadata := make(map[string]string, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		metadata["created_at"] = doc.CreatedAt.Format(time.RFC3339)

		entries[i] = vectorindex.Entry{
			ID:     fmt.Sprintf("%s:%d", doc.ID, i),
			Vector: vectors[i],
			Payload: vectorindex.Payload{
				DocID:      doc.ID,
				ChunkIndex: i,
				Content:    text,
				Source:     doc.Source,
				Metadata:   metadata,
			},
		}
	}
	return entries, nil
}

// persistLocked saves the snapshot best-effort; a failed save is logged, not
// propagated, because the index write already succeeded.
func (s *Store) persistLocked(ctx context.Context) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.Save(ctx, s.docs); err != nil {
		s.logger.Printf("save document snapshot: %v", err)
	}
}
