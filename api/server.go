// Package api exposes the chatbot core over HTTP: chat, document
// management, search, and session introspection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davitran/crypto-rag/chat"
	"github.com/davitran/crypto-rag/docstore"
	"github.com/davitran/crypto-rag/llm"
	"github.com/davitran/crypto-rag/session"
)

const sessionCookieName = "session_id"

// Server exposes HTTP handlers for the chatbot workflows.
type Server struct {
	chat      *chat.Service
	docs      *docstore.Store
	retriever chat.Retriever
	sessions  session.Store
	logger    *log.Logger
	timeout   time.Duration
	handler   http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Question    string        `json:"question"`
	ChatHistory []chatMessage `json:"chat_history"`
}

type sourceReference struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

type chatResponse struct {
	Answer  string            `json:"answer"`
	Sources []sourceReference `json:"sources"`
}

type documentInput struct {
	Content  string            `json:"content"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata"`
}

type documentResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type bulkDocumentsRequest struct {
	Documents []documentInput `json:"documents"`
}

type bulkDocumentsResponse struct {
	IDs     []string `json:"ids"`
	Message string   `json:"message"`
}

type documentPayload struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Source    string            `json:"source"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type searchRequest struct {
	Question string `json:"question"`
}

type searchResult struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

type sessionInfoResponse struct {
	HasSession bool       `json:"has_session"`
	SessionID  string     `json:"session_id,omitempty"`
	Turns      []turnItem `json:"turns,omitempty"`
	Message    string     `json:"message,omitempty"`
}

type turnItem struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// New constructs a Server over the assembled core services.
func New(chatSvc *chat.Service, docs *docstore.Store, retriever chat.Retriever, sessions session.Store, logger *log.Logger, timeout time.Duration) *Server {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		chat:      chatSvc,
		docs:      docs,
		retriever: retriever,
		sessions:  sessions,
		logger:    logger,
		timeout:   timeout,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocumentByID)
	mux.HandleFunc("/v1/documents/bulk", s.handleBulkDocuments)
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/session", s.handleSession)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	sessionID := s.sessionID(w, r)

	history := make([]llm.Message, len(req.ChatHistory))
	for i, msg := range req.ChatHistory {
		history[i] = llm.Message{Role: msg.Role, Content: msg.Content}
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.chat.GenerateAnswer(ctx, req.Question, history, sessionID)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("chat failed: %w", err))
		return
	}

	sources := make([]sourceReference, len(resp.Sources))
	for i, src := range resp.Sources {
		sources[i] = sourceReference{ID: src.ID, Source: src.Source}
	}

	s.writeJSON(w, http.StatusOK, chatResponse{Answer: resp.Answer, Sources: sources})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs := s.docs.ListAll()
		payload := make([]documentPayload, len(docs))
		for i, doc := range docs {
			payload[i] = documentPayload{
				ID:        doc.ID,
				Content:   doc.Content,
				Source:    doc.Source,
				CreatedAt: doc.CreatedAt,
				Metadata:  doc.Metadata,
			}
		}
		s.writeJSON(w, http.StatusOK, payload)

	case http.MethodPost:
		var req documentInput
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("content is required"))
			return
		}

		id, err := s.docs.Add(r.Context(), docstore.Input{
			Content:  req.Content,
			Source:   req.Source,
			Metadata: req.Metadata,
		})
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("add document: %w", err))
			return
		}

		s.writeJSON(w, http.StatusCreated, documentResponse{ID: id, Message: "document added"})

	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleBulkDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req bulkDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Documents) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("documents are required"))
		return
	}

	inputs := make([]docstore.Input, len(req.Documents))
	for i, doc := range req.Documents {
		inputs[i] = docstore.Input{
			Content:  doc.Content,
			Source:   doc.Source,
			Metadata: doc.Metadata,
		}
	}

	ids, err := s.docs.BulkAdd(r.Context(), inputs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("bulk add documents: %w", err))
		return
	}

	s.writeJSON(w, http.StatusCreated, bulkDocumentsResponse{IDs: ids, Message: fmt.Sprintf("%d documents added", len(ids))})
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("document not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, ok := s.docs.Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, documentPayload{
			ID:        doc.ID,
			Content:   doc.Content,
			Source:    doc.Source,
			CreatedAt: doc.CreatedAt,
			Metadata:  doc.Metadata,
		})

	case http.MethodDelete:
		deleted, err := s.docs.Delete(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, fmt.Errorf("delete document: %w", err))
			return
		}
		if !deleted {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("document %s not found", id))
			return
		}
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "document deleted"})

	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}

	matches, err := s.retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("search failed: %w", err))
		return
	}

	results := make([]searchResult, len(matches))
	for i, match := range matches {
		results[i] = searchResult{
			ID:      match.Payload.DocID,
			Content: match.Payload.Content,
			Source:  match.Payload.Source,
			Score:   match.Score,
		}
	}
	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		s.writeJSON(w, http.StatusOK, sessionInfoResponse{HasSession: false, Message: "No active session"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		history := s.sessions.History(cookie.Value)
		turns := make([]turnItem, len(history))
		for i, turn := range history {
			turns[i] = turnItem{User: turn.User, Assistant: turn.Assistant}
		}
		s.writeJSON(w, http.StatusOK, sessionInfoResponse{
			HasSession: true,
			SessionID:  cookie.Value,
			Turns:      turns,
		})

	case http.MethodDelete:
		s.sessions.Clear(cookie.Value)
		s.writeJSON(w, http.StatusOK, messageResponse{Message: "session cleared"})

	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

// sessionID returns the session cookie's value, minting and setting a fresh
// one when the request carries none.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Printf("created new session: %s", id)
	return id
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Printf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Printf("api error (%d): %v", status, err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
