package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/calder-labs/hoplite/internal/chat"
	"github.com/calder-labs/hoplite/internal/provider"
	"github.com/calder-labs/hoplite/internal/session"
)

// ChatService is the chat pipeline behind the HTTP surface.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Result, error)
	Stream(ctx context.Context, req chat.Request) (<-chan chat.StreamEvent, string, error)
}

// SessionManager exposes conversation history to the API.
type SessionManager interface {
	GetHistory(ctx context.Context, conversationID string, limit int) []session.Turn
	Delete(ctx context.Context, conversationID string) error
}

// DocumentStore ingests documents and reports index size.
type DocumentStore interface {
	AddDocument(ctx context.Context, text string, metadata map[string]string) (string, error)
	Count(ctx context.Context) (uint64, error)
}

// Pinger reports whether the generative collaborator is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	chat         ChatService
	sessions     SessionManager
	documents    DocumentStore
	genHealth    Pinger
	historyLimit int
	logger       *zap.Logger
}

// NewHandler creates a new API handler. genHealth may be nil when no
// provider supports health probes.
func NewHandler(chatSvc ChatService, sessions SessionManager, documents DocumentStore, genHealth Pinger, historyLimit int, logger *zap.Logger) *Handler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Handler{
		chat:         chatSvc,
		sessions:     sessions,
		documents:    documents,
		genHealth:    genHealth,
		historyLimit: historyLimit,
		logger:       logger.With(zap.String("component", "api")),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.healthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.handleChat)
		r.Post("/chat/stream", h.handleChatStream)
		r.Get("/sessions/{id}/history", h.getHistory)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Post("/documents", h.addDocument)
		r.Get("/documents/count", h.countDocuments)
	})

	return r
}

// chatRequest is the wire form of a chat call. UseReasoning is a
// tri-state: absent means let the heuristics decide.
type chatRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	UseRAG         bool   `json:"use_rag"`
	UseReasoning   *bool  `json:"use_reasoning,omitempty"`
	MaxHops        int    `json:"max_hops,omitempty"`
}

func (req chatRequest) toDomain() chat.Request {
	return chat.Request{
		Query:          req.Query,
		ConversationID: req.ConversationID,
		UseRAG:         req.UseRAG,
		UseReasoning:   req.UseReasoning,
		MaxHops:        req.MaxHops,
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.chat.Chat(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, conversationID, err := h.chat.Stream(r.Context(), req.toDomain())
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, map[string]string{"conversation_id": conversationID})
	flusher.Flush()

	for ev := range events {
		switch {
		case ev.Err != nil:
			writeSSE(w, map[string]string{"error": ev.Err.Error()})
		case ev.Done:
			writeSSE(w, map[string]bool{"done": true})
		default:
			writeSSE(w, map[string]string{"token": ev.Token})
		}
		flusher.Flush()
	}
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	turns := h.sessions.GetHistory(r.Context(), id, limit)
	if turns == nil {
		turns = []session.Turn{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": id,
		"turns":           turns,
	})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "conversation_id": id})
}

type documentRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) addDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	id, err := h.documents.AddDocument(r.Context(), req.Text, req.Metadata)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) countDocuments(w http.ResponseWriter, r *http.Request) {
	count, err := h.documents.Count(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	generationAvailable := false
	if h.genHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		generationAvailable = h.genHealth.HealthCheck(ctx) == nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":               "ok",
		"generation_available": generationAvailable,
	})
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, provider.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeSSE(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
