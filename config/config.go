package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// StoreMemory keeps vectors and document snapshots in process memory.
	StoreMemory = "memory"
	// StorePostgres keeps vectors and document snapshots in Postgres.
	StorePostgres = "postgres"
)

type Config struct {
	ListenAddr string

	OpenAIAPIKey  string
	OpenAIBaseURL string

	ChatModel         string
	Temperature       float32
	MaxResponseTokens int

	EmbeddingModel     string
	EmbeddingDimension int

	StoreBackend string
	PostgresDSN  string
	SnapshotFile string

	ChunkSize    int
	ChunkOverlap int

	SearchLimit    int
	ScoreThreshold float64

	UseQueryExpansion bool
	UseCompression    bool

	RecheckRelevance   bool
	RelevanceThreshold float64

	HistoryTurns   int
	RequestTimeout time.Duration
}

// Load reads configuration from the environment, honouring a local .env file
// when present. Missing values fall back to defaults; validation of fatal
// misconfiguration happens in Validate.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		ChatModel:         getEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		Temperature:       float32(getEnvFloat("TEMPERATURE", 0.3)),
		MaxResponseTokens: getEnvInt("MAX_TOKENS_RESPONSE", 500),

		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimension: getEnvInt("EMBEDDING_DIMENSION", 1536),

		StoreBackend: getEnv("STORE_BACKEND", StoreMemory),
		PostgresDSN:  getEnv("POSTGRES_DSN", "postgres://localhost:5432/crypto-rag?sslmode=disable"),
		SnapshotFile: getEnv("DOCUMENTS_FILE", "data/documents.json"),

		ChunkSize:    getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		SearchLimit:    getEnvInt("MAX_SEARCH_RESULTS", 5),
		ScoreThreshold: getEnvFloat("SCORE_THRESHOLD", 0.1),

		UseQueryExpansion: getEnvBool("USE_QUERY_EXPANSION", true),
		UseCompression:    getEnvBool("USE_COMPRESSION", false),

		RecheckRelevance:   getEnvBool("RECHECK_RELEVANCE", true),
		RelevanceThreshold: getEnvFloat("RELEVANCE_THRESHOLD", 0),

		HistoryTurns:   getEnvInt("HISTORY_TURNS", 5),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
	}
}

// Validate reports fatal misconfiguration. It is the only check allowed to
// abort startup; per-request failures are degraded further down the stack.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if c.StoreBackend != StoreMemory && c.StoreBackend != StorePostgres {
		return fmt.Errorf("unknown store backend: %s", c.StoreBackend)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
