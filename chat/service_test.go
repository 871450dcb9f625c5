package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/session"
	"github.com/davitran/crypto-rag/vectorindex"
)

type stubCounter int

func (c stubCounter) Count() int { return int(c) }

type stubRetriever struct {
	matches []vectorindex.Match
	err     error
	calls   int
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string) ([]vectorindex.Match, error) {
	r.calls++
	return r.matches, r.err
}

type stubChecker struct {
	questionScore float64
	answerScore   float64
}

func (c stubChecker) ScoreQuestion(_ context.Context, _ string) float64 { return c.questionScore }

func (c stubChecker) ScoreAnswer(_ context.Context, _, _ string) float64 { return c.answerScore }

// stubLLM answers grounded prompts and general prompts differently, so tests
// can tell which path composed the reply.
type stubLLM struct {
	groundedReply string
	generalReply  string
	err           error
	prompts       []string
}

func (s *stubLLM) Complete(_ context.Context, messages []llm.Message) (llm.Completion, error) {
	prompt := messages[len(messages)-1].Content
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	if strings.Contains(prompt, "Answer the question based on the context") {
		return llm.Completion{Text: s.groundedReply}, nil
	}
	return llm.Completion{Text: s.generalReply}, nil
}

func match(docID, source, content string, score float64) vectorindex.Match {
	return vectorindex.Match{
		Payload: vectorindex.Payload{DocID: docID, Source: source, Content: content},
		Score:   score,
	}
}

func newService(docs int, retriever *stubRetriever, checker stubChecker, client *stubLLM, opts Options) (*Service, session.Store) {
	sessions := session.NewMemory(session.DefaultMaxTurns)
	logger := log.New(io.Discard, "", 0)
	return NewService(stubCounter(docs), retriever, checker, client, sessions, logger, opts), sessions
}

func TestGenerateAnswerRejectsEmptyQuestion(t *testing.T) {
	svc, _ := newService(0, &stubRetriever{}, stubChecker{}, &stubLLM{generalReply: "x"}, Options{})

	_, err := svc.GenerateAnswer(context.Background(), "   ", nil, "s1")
	assert.Error(t, err)
}

func TestEmptyStoreSkipsRetrieval(t *testing.T) {
	retriever := &stubRetriever{}
	svc, _ := newService(0, retriever, stubChecker{}, &stubLLM{generalReply: "General knowledge answer."}, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "General knowledge answer.", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, retriever.calls)
}

func TestFillerQuestionSkipsRetrieval(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{match("d1", "s", "chunk", 0.9)}}
	svc, _ := newService(3, retriever, stubChecker{}, &stubLLM{generalReply: "Hello! How can I help?"}, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "hi", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help?", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, retriever.calls)
}

func TestGroundedAnswerAcceptedWithSources(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{
		match("d1", "Daily Brief", "Bitcoin rallied after ETF inflows.", 0.92),
	}}
	client := &stubLLM{groundedReply: "Bitcoin rallied on ETF inflows. [Source: Daily Brief]"}
	svc, sessions := newService(3, retriever, stubChecker{answerScore: 0.9}, client, Options{RecheckRelevance: true, RelevanceThreshold: 0.5})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Bitcoin rallied on ETF inflows. [Source: Daily Brief]", resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, SourceRef{ID: "d1", Source: "Daily Brief"}, resp.Sources[0])

	history := sessions.History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, "What moved Bitcoin today?", history[0].User)
	assert.Equal(t, resp.Answer, history[0].Assistant)
}

func TestEmptySearchFallsBackToGeneral(t *testing.T) {
	retriever := &stubRetriever{}
	svc, _ := newService(3, retriever, stubChecker{}, &stubLLM{generalReply: "From general knowledge."}, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "From general knowledge.", resp.Answer)
	assert.Empty(t, resp.Sources)
	assert.Equal(t, 1, retriever.calls)
}

func TestInsufficientAnswerFallsBackToGeneral(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{match("d1", "s", "chunk", 0.9)}}
	client := &stubLLM{
		groundedReply: "I don't have enough information in the context to answer that.",
		generalReply:  "From general knowledge.",
	}
	svc, _ := newService(3, retriever, stubChecker{}, client, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "From general knowledge.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestLowAnswerRelevanceFallsBackToGeneral(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{match("d1", "s", "chunk", 0.9)}}
	client := &stubLLM{groundedReply: "Unrelated rambling.", generalReply: "From general knowledge."}
	svc, _ := newService(3, retriever, stubChecker{answerScore: 0.1}, client, Options{RecheckRelevance: true, RelevanceThreshold: 0.5})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "From general knowledge.", resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestLowQuestionRelevancePrecheckSkipsRetrieval(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{match("d1", "s", "chunk", 0.9)}}
	client := &stubLLM{generalReply: "From general knowledge."}
	svc, _ := newService(3, retriever, stubChecker{questionScore: 0.1}, client, Options{PrecheckRelevance: true, RelevanceThreshold: 0.5})

	resp, err := svc.GenerateAnswer(context.Background(), "How do I bake sourdough bread?", nil, "s1")
	require.NoError(t, err)
	assert.Equal(t, "From general knowledge.", resp.Answer)
	assert.Zero(t, retriever.calls)
}

func TestSourceDeduplication(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{
		match("d1", "Daily Brief", "chunk one", 0.95),
		match("d2", "Gas Watch", "chunk two", 0.90),
		match("d1", "Daily Brief", "chunk three", 0.85),
	}}
	client := &stubLLM{groundedReply: "Grounded answer."}
	svc, _ := newService(3, retriever, stubChecker{}, client, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "d1", resp.Sources[0].ID)
	assert.Equal(t, "d2", resp.Sources[1].ID)
}

func TestGenerationFailureBecomesSyntheticAnswer(t *testing.T) {
	retriever := &stubRetriever{matches: []vectorindex.Match{match("d1", "s", "chunk", 0.9)}}
	client := &stubLLM{err: errors.New("model overloaded")}
	svc, sessions := newService(3, retriever, stubChecker{}, client, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "I'm sorry, there was an error processing your request")
	assert.Contains(t, resp.Answer, "model overloaded")
	assert.Empty(t, resp.Sources)

	history := sessions.History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, resp.Answer, history[0].Assistant)
}

func TestRetrievalFailureBecomesSyntheticAnswer(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("index unavailable")}
	svc, _ := newService(3, retriever, stubChecker{}, &stubLLM{generalReply: "never used"}, Options{})

	resp, err := svc.GenerateAnswer(context.Background(), "What moved Bitcoin today?", nil, "s1")
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "I'm sorry, there was an error processing your request")
	assert.Contains(t, resp.Answer, "index unavailable")
}

func TestCancelledRequestLeavesNoHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retriever := &stubRetriever{err: context.Canceled}
	svc, sessions := newService(3, retriever, stubChecker{}, &stubLLM{}, Options{})

	_, err := svc.GenerateAnswer(ctx, "What moved Bitcoin today?", nil, "s1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sessions.History("s1"))
}

func TestExternalHistoryReachesPrompt(t *testing.T) {
	client := &stubLLM{generalReply: "General answer."}
	svc, _ := newService(0, &stubRetriever{}, stubChecker{}, client, Options{})

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "What is staking?"},
		{Role: llm.RoleAssistant, Content: "Locking tokens to secure a network."},
	}
	_, err := svc.GenerateAnswer(context.Background(), "Which chains support it?", history, "s1")
	require.NoError(t, err)

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "What is staking?")
	assert.Contains(t, client.prompts[0], "Locking tokens to secure a network.")
}
