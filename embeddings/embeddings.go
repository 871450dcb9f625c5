// Package embeddings turns text into fixed-length vectors for similarity
// search. Vectors are L2-normalized so cosine similarity and dot product
// scoring are interchangeable downstream.
package embeddings

import (
	"context"
	"fmt"
	"math"

	"github.com/davitran/crypto-rag/config"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Options struct {
	Model     string
	Dimension int
	APIKey    string
	BaseURL   string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	return NewOpenAIEmbedder(Options{
		Model:     cfg.EmbeddingModel,
		Dimension: cfg.EmbeddingDimension,
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
	}), nil
}

// Normalize scales v to unit L2 norm in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
