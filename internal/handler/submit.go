package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aulaviva/tutoria/internal/model"
)

// submitRequest is a whole-evaluation batch submission. Answers are matched
// to questions by question ID; unanswered questions count as wrong.
type submitRequest struct {
	Answers []struct {
		QuestionID int64  `json:"question_id"`
		Answer     string `json:"answer"`
	} `json:"answers"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	evaluationID, err := urlID(r, "evaluationID")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "EvaluationNotFound")
		return
	}

	ev, err := h.store.FindEvaluation(evaluationID)
	if err != nil {
		slog.Error("find evaluation failed", "evaluation_id", evaluationID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	if ev == nil {
		respondError(w, r, http.StatusNotFound, "EvaluationNotFound")
		return
	}
	if len(ev.Questions) == 0 {
		respondError(w, r, http.StatusBadRequest, "EvaluationEmpty")
		return
	}

	var body submitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, http.StatusBadRequest, "ProcessingError")
		return
	}

	answers := make(map[int64]string, len(body.Answers))
	for _, a := range body.Answers {
		answers[a.QuestionID] = a.Answer
	}

	// Batch scoring is a literal comparison, unlike the conversational path.
	// Multiple-choice answers arrive as the chosen option verbatim.
	result := model.EvaluationResult{
		EvaluationID:   ev.ID,
		StudentID:      user.ID,
		TotalQuestions: len(ev.Questions),
	}
	for _, q := range ev.Questions {
		answer := answers[q.ID]
		correct := answer == q.CorrectAnswer
		if correct {
			result.Score++
		}
		result.Answers = append(result.Answers, model.AnswerDetail{
			QuestionID: q.ID,
			Answer:     answer,
			IsCorrect:  correct,
		})
	}

	id, err := h.store.InsertResult(result)
	if err != nil {
		slog.Error("insert result failed", "evaluation_id", ev.ID, "student_id", user.ID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	result.ID = id

	slog.Info("evaluation submitted",
		"evaluation_id", ev.ID, "student_id", user.ID,
		"score", result.Score, "total", result.TotalQuestions)
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleGetResult(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	resultID, err := urlID(r, "resultID")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "EvaluationNotFound")
		return
	}

	result, err := h.store.GetResult(resultID)
	if err != nil {
		slog.Error("get result failed", "result_id", resultID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	if result == nil {
		respondError(w, r, http.StatusNotFound, "EvaluationNotFound")
		return
	}

	// Students only see their own results.
	if user.Role == model.UserRoleStudent && result.StudentID != user.ID {
		respondError(w, r, http.StatusForbidden, "Forbidden")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	evaluationID, err := urlID(r, "evaluationID")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "EvaluationNotFound")
		return
	}

	results, err := h.store.ExportResults(evaluationID)
	if err != nil {
		slog.Error("export results failed", "evaluation_id", evaluationID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ProcessingError")
		return
	}
	respondJSON(w, http.StatusOK, results)
}
