// Package llm wraps the chat-completion backend behind a single Client
// interface so the rest of the system never sees a provider SDK directly.
package llm

import (
	"context"
	"fmt"

	"github.com/davitran/crypto-rag/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Usage carries the token accounting reported by the backend for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of a single completion call.
type Completion struct {
	Text  string
	Usage Usage
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

type Options struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
}

func NewClient(cfg config.Config) (Client, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	return NewOpenAIClient(Options{
		Model:       cfg.ChatModel,
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxResponseTokens,
	}), nil
}
