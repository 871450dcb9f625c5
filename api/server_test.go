package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davitran/crypto-rag/chat"
	"github.com/davitran/crypto-rag/docstore"
	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/session"
	"github.com/davitran/crypto-rag/vectorindex"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func (stubEmbedder) Dimension() int { return 2 }

type stubRetriever struct {
	matches []vectorindex.Match
}

func (r *stubRetriever) Retrieve(_ context.Context, _ string) ([]vectorindex.Match, error) {
	return r.matches, nil
}

type stubChecker struct{}

func (stubChecker) ScoreQuestion(_ context.Context, _ string) float64 { return 1 }

func (stubChecker) ScoreAnswer(_ context.Context, _, _ string) float64 { return 1 }

type stubLLM struct{}

func (stubLLM) Complete(_ context.Context, _ []llm.Message) (llm.Completion, error) {
	return llm.Completion{Text: "Test answer."}, nil
}

type testServer struct {
	*Server
	docs     *docstore.Store
	sessions session.Store
}

func newTestServer(t *testing.T, matches []vectorindex.Match) *testServer {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	docs := docstore.New(vectorindex.NewMemory(2), stubEmbedder{}, nil, logger, docstore.Options{})
	retriever := &stubRetriever{matches: matches}
	sessions := session.NewMemory(session.DefaultMaxTurns)
	chatSvc := chat.NewService(docs, retriever, stubChecker{}, stubLLM{}, sessions, logger, chat.Options{})

	return &testServer{
		Server:   New(chatSvc, docs, retriever, sessions, logger, 0),
		docs:     docs,
		sessions: sessions,
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[messageResponse](t, rec).Message)
}

func TestChatMintsSessionCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/chat", chatRequest{Question: "What moved Bitcoin today?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[chatResponse](t, rec)
	assert.Equal(t, "Test answer.", resp.Answer)
	assert.Empty(t, resp.Sources)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.NotEmpty(t, cookies[0].Value)
}

func TestChatReusesSessionCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	body, err := json.Marshal(chatRequest{Question: "What moved Bitcoin today?"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "existing-session"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	require.Len(t, srv.sessions.History("existing-session"), 1)
}

func TestChatRejectsEmptyQuestion(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/chat", chatRequest{Question: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsUnknownFields(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question":"x","bogus":true}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/documents", documentInput{Content: "Bitcoin rallied today.", Source: "Daily Brief"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[documentResponse](t, rec).ID
	require.NotEmpty(t, id)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]documentPayload](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/v1/documents/"+id, nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Daily Brief", decodeBody[documentPayload](t, rec).Source)

	req = httptest.NewRequest(http.MethodDelete, "/v1/documents/"+id, nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, srv.docs.Count())
}

func TestDocumentNotFound(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/documents/missing", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocumentRequiresContent(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/documents", documentInput{Source: "no body"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkDocuments(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/documents/bulk", bulkDocumentsRequest{Documents: []documentInput{
		{Content: "first article", Source: "a"},
		{Content: "second article", Source: "b"},
	}})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decodeBody[bulkDocumentsResponse](t, rec).IDs, 2)
	assert.Equal(t, 2, srv.docs.Count())
}

func TestBulkDocumentsRejectsEmptyBatch(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := postJSON(t, srv, "/v1/documents/bulk", bulkDocumentsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	srv := newTestServer(t, []vectorindex.Match{
		{Payload: vectorindex.Payload{DocID: "d1", Content: "Bitcoin rallied.", Source: "Daily Brief"}, Score: 0.91},
	})

	rec := postJSON(t, srv, "/v1/search", searchRequest{Question: "bitcoin"})
	require.Equal(t, http.StatusOK, rec.Code)

	results := decodeBody[[]searchResult](t, rec)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
}

func TestSessionWithoutCookie(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[sessionInfoResponse](t, rec).HasSession)
}

func TestSessionHistoryAndClear(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.sessions.Append("s1", "What is staking?", "Locking tokens.")

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "s1"})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[sessionInfoResponse](t, rec)
	assert.True(t, info.HasSession)
	require.Len(t, info.Turns, 1)
	assert.Equal(t, "What is staking?", info.Turns[0].User)

	req = httptest.NewRequest(http.MethodDelete, "/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "s1"})
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, srv.sessions.History("s1"))
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/v1/chat", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}
