// Package chat sequences the end-to-end answer pipeline: merge histories,
// decide between document-grounded and general-knowledge composition, and
// record the finished turn. Generation failures degrade into a synthetic
// answer; the boundary contract never surfaces them as errors.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/relevance"
	"github.com/davitran/crypto-rag/session"
	"github.com/davitran/crypto-rag/vectorindex"
)

// insufficientMarkers reject a grounded answer that admits it had nothing to
// work with, so the general path can try instead.
var insufficientMarkers = []string{
	"i don't have enough information",
	"i do not have enough information",
	"the context doesn't contain",
	"the context does not contain",
	"insufficient information",
	"no relevant information",
}

// Retriever fetches scored chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]vectorindex.Match, error)
}

// RelevanceChecker scores questions and answers on the 0.0-1.0 scale.
type RelevanceChecker interface {
	ScoreQuestion(ctx context.Context, question string) float64
	ScoreAnswer(ctx context.Context, question, answer string) float64
}

// DocumentCounter is the registry view the orchestrator needs: whether any
// documents exist at all.
type DocumentCounter interface {
	Count() int
}

// Options are the routing-policy knobs. Deployments disagree on how strictly
// a grounded answer should be vetted, so both the threshold and whether a
// post-hoc relevance check happens at all are configurable.
type Options struct {
	RecheckRelevance   bool
	PrecheckRelevance  bool
	RelevanceThreshold float64
	HistoryTurns       int
}

type Service struct {
	docs      DocumentCounter
	retriever Retriever
	relevance RelevanceChecker
	llm       llm.Client
	sessions  session.Store
	logger    *log.Logger
	opts      Options
}

func NewService(docs DocumentCounter, retriever Retriever, checker RelevanceChecker, client llm.Client, sessions session.Store, logger *log.Logger, opts Options) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = session.DefaultMaxTurns
	}

	return &Service{
		docs:      docs,
		retriever: retriever,
		relevance: checker,
		llm:       client,
		sessions:  sessions,
		logger:    logger,
		opts:      opts,
	}
}

// GenerateAnswer answers a question using retrieval-grounded composition when
// possible and general knowledge otherwise. The returned error is non-nil
// only for caller misuse (empty question) or caller cancellation; generation
// failures come back as a synthetic answer with empty sources, recorded into
// session history so the conversation keeps its continuity.
func (s *Service) GenerateAnswer(ctx context.Context, question string, history []llm.Message, sessionID string) (Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{}, fmt.Errorf("question cannot be empty")
	}

	// One frozen history snapshot per call, shared by the grounded and
	// general compositions.
	merged := session.Merge(s.sessions.History(sessionID), history, s.opts.HistoryTurns)
	historyText := formatHistory(merged)

	answer, sources, done, err := s.tryGrounded(ctx, question, historyText, sessionID)
	if err != nil {
		return s.fail(ctx, question, sessionID, err)
	}
	if done {
		return Response{Answer: answer, Sources: sources}, nil
	}

	generalAnswer, genErr := s.composeGeneral(ctx, question, historyText)
	if genErr != nil {
		return s.fail(ctx, question, sessionID, genErr)
	}

	s.sessions.Append(sessionID, question, generalAnswer)
	return Response{Answer: generalAnswer, Sources: nil}, nil
}

// tryGrounded runs the retrieval path. done is true when a grounded answer
// was accepted; a policy rejection falls through to the general path, while a
// backend failure comes back as an error for the synthetic-answer handling.
func (s *Service) tryGrounded(ctx context.Context, question, historyText, sessionID string) (string, []SourceRef, bool, error) {
	if s.docs.Count() == 0 {
		s.logger.Printf("no documents available, using general knowledge")
		return "", nil, false, nil
	}

	if relevance.IsFiller(question) {
		s.logger.Printf("question is conversational filler, skipping retrieval")
		return "", nil, false, nil
	}

	if s.opts.PrecheckRelevance {
		score := s.relevance.ScoreQuestion(ctx, question)
		if score < s.opts.RelevanceThreshold {
			s.logger.Printf("question relevance %.2f below threshold %.2f, skipping retrieval", score, s.opts.RelevanceThreshold)
			return "", nil, false, nil
		}
	}

	matches, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", nil, false, fmt.Errorf("retrieve context: %w", err)
	}
	if len(matches) == 0 {
		s.logger.Printf("no relevant sources found, falling back to general knowledge")
		return "", nil, false, nil
	}

	answer, err := s.composeGrounded(ctx, question, historyText, matches)
	if err != nil {
		return "", nil, false, err
	}

	sources := dedupeSources(matches)
	if len(sources) == 0 {
		return "", nil, false, nil
	}

	if containsInsufficientMarker(answer) {
		s.logger.Printf("grounded answer reports insufficient information, falling back to general knowledge")
		return "", nil, false, nil
	}

	if s.opts.RecheckRelevance {
		score := s.relevance.ScoreAnswer(ctx, question, answer)
		if score < s.opts.RelevanceThreshold {
			s.logger.Printf("grounded answer relevance %.2f below threshold %.2f, falling back to general knowledge", score, s.opts.RelevanceThreshold)
			return "", nil, false, nil
		}
		s.logger.Printf("using grounded answer (relevance score: %.2f)", score)
	}

	s.sessions.Append(sessionID, question, answer)
	return answer, sources, true, nil
}

func (s *Service) composeGrounded(ctx context.Context, question, historyText string, matches []vectorindex.Match) (string, error) {
	prompt := groundedPrompt(question, buildContext(matches), historyText)

	completion, err := s.llm.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("grounded completion: %w", err)
	}

	s.logger.Printf("grounded tokens used: %d (prompt: %d, completion: %d)",
		completion.Usage.TotalTokens, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	return strings.TrimSpace(completion.Text), nil
}

func (s *Service) composeGeneral(ctx context.Context, question, historyText string) (string, error) {
	prompt := generalPrompt(question, historyText)

	completion, err := s.llm.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("general completion: %w", err)
	}

	s.logger.Printf("general tokens used: %d (prompt: %d, completion: %d)",
		completion.Usage.TotalTokens, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	return strings.TrimSpace(completion.Text), nil
}

// fail converts a generation failure into a synthetic answer. The turn is
// still recorded for continuity, unless the caller cancelled the request, in
// which case no partial-turn artifact is left behind.
func (s *Service) fail(ctx context.Context, question, sessionID string, err error) (Response, error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Response{}, ctx.Err()
	}

	s.logger.Printf("error generating answer: %v", err)
	answer := fmt.Sprintf("I'm sorry, there was an error processing your request: %v", err)

	s.sessions.Append(sessionID, question, answer)
	return Response{Answer: answer, Sources: nil}, nil
}

// dedupeSources keeps the first occurrence per document, in retrieval-score
// order, so a response carries at most one reference per document.
func dedupeSources(matches []vectorindex.Match) []SourceRef {
	seen := make(map[string]struct{}, len(matches))
	sources := make([]SourceRef, 0, len(matches))

	for _, match := range matches {
		docID := match.Payload.DocID
		if docID == "" {
			continue
		}
		if _, ok := seen[docID]; ok {
			continue
		}
		seen[docID] = struct{}{}
		sources = append(sources, SourceRef{ID: docID, Source: match.Payload.Source})
	}
	return sources
}

func containsInsufficientMarker(answer string) bool {
	lowered := strings.ToLower(answer)
	for _, marker := range insufficientMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
