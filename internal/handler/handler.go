// Package handler is the REST surface next to the WebSocket chat: auth,
// batch evaluation submission, result and conversation retrieval, and the
// admin endpoints. Everything speaks JSON.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/aulaviva/tutoria/internal/i18n"
	"github.com/aulaviva/tutoria/internal/model"
	"github.com/aulaviva/tutoria/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	config model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Get("/assistants", h.handleListAssistants)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/evaluations/{evaluationID}/submit", h.handleSubmit)
		r.Get("/results/{resultID}", h.handleGetResult)

		r.Get("/conversations/{assistantID}", h.handleGetConversation)
		r.Put("/conversations/{assistantID}", h.handlePutConversation)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/evaluations/{evaluationID}/results", h.handleListResults)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/assistants", h.handleCreateAssistant)
		})
	})
}

func (h *Handler) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	assistants, err := h.store.ListAssistants()
	if err != nil {
		slog.Error("list assistants failed", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	respondJSON(w, http.StatusOK, assistants)
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	assistantID, err := urlID(r, "assistantID")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "AssistantNotFound")
		return
	}

	conv, err := h.store.GetConversation(user.ID, assistantID)
	if err != nil {
		slog.Error("get conversation failed", "user_id", user.ID, "assistant_id", assistantID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	if conv == nil {
		// A pair with no saved turns is an empty history, not an error.
		conv = &model.Conversation{UserID: user.ID, AssistantID: assistantID, History: []model.Turn{}}
	}
	respondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handlePutConversation(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	assistantID, err := urlID(r, "assistantID")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "AssistantNotFound")
		return
	}

	var body struct {
		History []model.Turn `json:"history"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}

	if err := h.store.UpsertConversation(user.ID, assistantID, body.History); err != nil {
		slog.Error("upsert conversation failed", "user_id", user.ID, "assistant_id", assistantID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func urlID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}
