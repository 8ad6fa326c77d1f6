package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/aulaviva/tutoria/internal/model"
)

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Name     string         `json:"name"`
		Password string         `json:"password"`
		Role     model.UserRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}
	if body.Email == "" || body.Password == "" {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}
	switch body.Role {
	case model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin:
	default:
		body.Role = model.UserRoleStudent
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("password hash failed", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}

	id, err := h.store.CreateUser(model.User{
		Email:        body.Email,
		Name:         body.Name,
		PasswordHash: string(hash),
		Role:         body.Role,
		Active:       true,
	})
	if err != nil {
		slog.Error("create user failed", "email", body.Email, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":    id,
		"email": body.Email,
		"role":  body.Role,
	})
}

func (h *Handler) handleCreateAssistant(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var body model.AssistantImport
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}
	if body.Name == "" {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}

	assistantID, err := h.store.CreateAssistant(model.Assistant{
		Name:         body.Name,
		Instructions: body.Instructions,
		Style:        body.Style,
		Institution:  body.Institution,
		OwnerID:      user.ID,
	})
	if err != nil {
		slog.Error("create assistant failed", "name", body.Name, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}

	for _, evImport := range body.Evaluations {
		ev := model.Evaluation{
			AssistantID: assistantID,
			Title:       evImport.Title,
		}
		if evImport.Date != "" {
			if t, err := time.Parse("2006-01-02", evImport.Date); err == nil {
				ev.ScheduledAt = t
			}
		}
		for _, q := range evImport.Questions {
			ev.Questions = append(ev.Questions, model.Question{
				Text:          q.Text,
				Choices:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
			})
		}
		if _, err := h.store.CreateEvaluation(ev); err != nil {
			slog.Error("create evaluation failed", "assistant_id", assistantID, "title", evImport.Title, "error", err)
			respondError(w, r, http.StatusInternalServerError, "ProcessingError")
			return
		}
	}

	slog.Info("assistant created", "id", assistantID, "name", body.Name, "evaluations", len(body.Evaluations))
	respondJSON(w, http.StatusCreated, map[string]any{"id": assistantID, "name": body.Name})
}
