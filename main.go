package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davitran/crypto-rag/api"
	"github.com/davitran/crypto-rag/chat"
	"github.com/davitran/crypto-rag/config"
	"github.com/davitran/crypto-rag/database"
	"github.com/davitran/crypto-rag/docstore"
	"github.com/davitran/crypto-rag/embeddings"
	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/relevance"
	"github.com/davitran/crypto-rag/retrieval"
	"github.com/davitran/crypto-rag/session"
	"github.com/davitran/crypto-rag/vectorindex"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger)
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "add":
		addCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

type app struct {
	docs      *docstore.Store
	retriever *retrieval.Retriever
	sessions  session.Store
	chat      *chat.Service
	pool      *pgxpool.Pool
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}

	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	var (
		index    vectorindex.Index
		snapshot docstore.Snapshot
		pool     *pgxpool.Pool
	)

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, err = database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}

		pgIndex := vectorindex.NewPostgres(pool, cfg.EmbeddingDimension, logger)
		if err := pgIndex.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("vector index init: %w", err)
		}
		index = pgIndex

		pgSnapshot := docstore.NewPostgresSnapshot(pool)
		if err := pgSnapshot.Init(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("document snapshot init: %w", err)
		}
		snapshot = pgSnapshot

	default:
		index = vectorindex.NewMemory(cfg.EmbeddingDimension)
		snapshot = docstore.NewFileSnapshot(cfg.SnapshotFile)
	}

	docs := docstore.New(index, embedder, snapshot, logger, docstore.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})

	if err := docs.LoadSnapshot(ctx); err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	// Self-healing after a destructive index reset: re-index everything the
	// registry still knows about.
	if err := docs.Resync(ctx); err != nil {
		logger.Printf("resync failed: %v", err)
	}

	retriever := retrieval.New(index, embedder, llmClient, logger, retrieval.Options{
		Limit:          cfg.SearchLimit,
		ScoreThreshold: cfg.ScoreThreshold,
		ExpandQuery:    cfg.UseQueryExpansion,
		Compress:       cfg.UseCompression,
	})

	classifier := relevance.NewClassifier(llmClient, logger)
	sessions := session.NewMemory(cfg.HistoryTurns)

	chatSvc := chat.NewService(docs, retriever, classifier, llmClient, sessions, logger, chat.Options{
		RecheckRelevance:   cfg.RecheckRelevance,
		RelevanceThreshold: cfg.RelevanceThreshold,
		HistoryTurns:       cfg.HistoryTurns,
	})

	return &app{
		docs:      docs,
		retriever: retriever,
		sessions:  sessions,
		chat:      chatSvc,
		pool:      pool,
	}, nil
}

func serveCmd(cfg config.Config, logger *log.Logger) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer a.close()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.New(a.chat, a.docs, a.retriever, a.sessions, logger, cfg.RequestTimeout).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s (%d documents indexed)", cfg.ListenAddr, a.docs.Count())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server: %v", err)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask the chatbot")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Enter your question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatalf("read question: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer a.close()

	resp, err := a.chat.GenerateAnswer(ctx, *question, nil, "cli")
	if err != nil {
		logger.Fatalf("chat failed: %v", err)
	}

	fmt.Println(resp.Answer)
	if len(resp.Sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for idx, source := range resp.Sources {
			fmt.Printf("%d. %s\n", idx+1, source.Source)
		}
	}
}

func addCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("add", flag.ExitOnError)
	file := flags.String("file", "", "path to a text file to add (stdin when omitted)")
	source := flags.String("source", "", "source label for the document")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse add flags: %v", err)
	}

	var content []byte
	var err error
	if *file != "" {
		content, err = os.ReadFile(*file)
		if err != nil {
			logger.Fatalf("read file: %v", err)
		}
		if *source == "" {
			*source = *file
		}
	} else {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			logger.Fatalf("read stdin: %v", err)
		}
	}

	if strings.TrimSpace(string(content)) == "" {
		logger.Fatalf("document content is empty")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer a.close()

	id, err := a.docs.Add(ctx, docstore.Input{Content: string(content), Source: *source})
	if err != nil {
		logger.Fatalf("add document: %v", err)
	}

	fmt.Printf("added document %s\n", id)
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete all ingested documents and their vectors. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer a.close()

	if err := a.docs.Clear(ctx); err != nil {
		logger.Fatalf("clear documents: %v", err)
	}

	logger.Println("documents and vectors removed")
}

func printUsage() {
	fmt.Println("Usage: crypto-rag <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the HTTP API server")
	fmt.Println("  chat     Ask a one-off question from the terminal")
	fmt.Println("  add      Add a document from a file or stdin")
	fmt.Println("  clear    Remove all documents and their vectors")
}
