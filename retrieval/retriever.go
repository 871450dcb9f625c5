// Package retrieval fetches the chunks most relevant to a question from the
// vector index, with optional LLM-backed query expansion and contextual
// compression.
package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/davitran/crypto-rag/embeddings"
	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/vectorindex"
)

// noOutputMarker is what the extraction prompt asks the model to return when
// a chunk contains nothing relevant to the query.
const noOutputMarker = "NO_OUTPUT"

type Options struct {
	Limit          int
	ScoreThreshold float64
	ExpandQuery    bool
	Compress       bool
}

type Retriever struct {
	index    vectorindex.Index
	embedder embeddings.Embedder
	llm      llm.Client
	logger   *log.Logger
	opts     Options
}

func New(index vectorindex.Index, embedder embeddings.Embedder, client llm.Client, logger *log.Logger, opts Options) *Retriever {
	if logger == nil {
		logger = log.Default()
	}
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	return &Retriever{
		index:    index,
		embedder: embedder,
		llm:      client,
		logger:   logger,
		opts:     opts,
	}
}

// Retrieve returns the chunks matching the query, ordered by descending
// score. An empty result is valid and means nothing crossed the threshold.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]vectorindex.Match, error) {
	searchQuery := query
	if r.opts.ExpandQuery {
		searchQuery = r.expandQuery(ctx, query)
	}

	vectors, err := r.embedder.Embed(ctx, []string{searchQuery})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}

	matches, err := r.index.Search(ctx, vectors[0], r.opts.Limit, r.opts.ScoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if r.opts.Compress && len(matches) > 0 {
		matches = r.compress(ctx, query, matches)
	}
	return matches, nil
}

// expandQuery asks the LLM to rewrite the question into a retrieval-friendly
// search query. The original question is used when the rewrite fails.
func (r *Retriever) expandQuery(ctx context.Context, question string) string {
	prompt := fmt.Sprintf(`You are an AI assistant helping to generate better search queries for a cryptocurrency and economics knowledge base.
Given the user's question, create an improved search query that will help find the most relevant information.
Make the query more specific, include synonyms, and focus on the key concepts.

Original question: %s

Improved search query:`, question)

	completion, err := r.llm.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		r.logger.Printf("query expansion failed, using original question: %v", err)
		return question
	}

	expanded := strings.TrimSpace(completion.Text)
	if expanded == "" {
		return question
	}
	return expanded
}

// compress trims each retrieved chunk to the sentences relevant to the
// query. Chunks with no relevant content are dropped; a failed extraction
// keeps the chunk uncompressed.
func (r *Retriever) compress(ctx context.Context, query string, matches []vectorindex.Match) []vectorindex.Match {
	kept := make([]vectorindex.Match, 0, len(matches))
	for _, match := range matches {
		prompt := fmt.Sprintf(`Given the following question and context, extract any part of the context verbatim that is relevant to answering the question.
If none of the context is relevant, return %s.

Question: %s

Context:
%s

Extracted relevant parts:`, noOutputMarker, query, match.Payload.Content)

		completion, err := r.llm.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
		if err != nil {
			r.logger.Printf("context compression failed, keeping chunk as-is: %v", err)
			kept = append(kept, match)
			continue
		}

		extracted := strings.TrimSpace(completion.Text)
		if extracted == "" || strings.Contains(extracted, noOutputMarker) {
			continue
		}

		match.Payload.Content = extracted
		kept = append(kept, match)
	}
	return kept
}
