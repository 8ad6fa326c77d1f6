package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/aulaviva/tutoria/internal/i18n"
	"github.com/aulaviva/tutoria/internal/model"
	"github.com/aulaviva/tutoria/internal/store"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("es"); err != nil {
		fmt.Fprintln(os.Stderr, "i18n init:", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, model.ServerConfig{Lang: "es"})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("es"))
	r.Route("/api", h.Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, s
}

func createUser(t *testing.T, s *store.Store, email, password string, role model.UserRole) int64 {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	id, err := s.CreateUser(model.User{
		Email:        email,
		Name:         email,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func sessionCookie(t *testing.T, s *store.Store, userID int64) *http.Cookie {
	t.Helper()
	token, err := s.CreateAuthSession(userID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func seedEvaluation(t *testing.T, s *store.Store) (assistantID, evaluationID int64, questions []model.Question) {
	t.Helper()
	assistantID, err := s.CreateAssistant(model.Assistant{Name: "Tutor", Instructions: "Enseña.", Style: "amable"})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	evaluationID, err = s.CreateEvaluation(model.Evaluation{
		AssistantID: assistantID,
		Title:       "Geografía",
		Questions: []model.Question{
			{Text: "¿Capital de Francia?", CorrectAnswer: "París"},
			{Text: "¿Capital de Perú?", CorrectAnswer: "Lima"},
			{Text: "¿Capital de Japón?", CorrectAnswer: "Tokio"},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	ev, err := s.FindEvaluation(evaluationID)
	if err != nil || ev == nil {
		t.Fatalf("FindEvaluation: %v", err)
	}
	return assistantID, evaluationID, ev.Questions
}

func doJSON(t *testing.T, method, url string, body any, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLoginAndLogout(t *testing.T) {
	srv, s := newTestServer(t)
	createUser(t, s, "ana@example.com", "secreto", model.UserRoleStudent)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login",
		map[string]string{"email": "ana@example.com", "password": "secreto"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("login did not set a session cookie")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie is not HttpOnly")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/auth/logout", nil, cookie)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", resp.StatusCode)
	}

	if sess, err := s.GetAuthSession(cookie.Value); err != nil || sess != nil {
		t.Errorf("session survived logout: %v, %v", sess, err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, s := newTestServer(t)
	createUser(t, s, "ana@example.com", "secreto", model.UserRoleStudent)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/auth/login",
		map[string]string{"email": "ana@example.com", "password": "incorrecto"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSubmitScoresExactMatch(t *testing.T) {
	srv, s := newTestServer(t)
	studentID := createUser(t, s, "ana@example.com", "x", model.UserRoleStudent)
	cookie := sessionCookie(t, s, studentID)
	_, evaluationID, questions := seedEvaluation(t, s)

	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/evaluations/%d/submit", srv.URL, evaluationID),
		map[string]any{"answers": []map[string]any{
			{"question_id": questions[0].ID, "answer": "París"},
			{"question_id": questions[1].ID, "answer": "lima"}, // case mismatch is wrong
			// third question unanswered
		}},
		cookie)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", resp.StatusCode)
	}

	var result model.EvaluationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Score != 1 || result.TotalQuestions != 3 {
		t.Errorf("score = %d/%d, want 1/3", result.Score, result.TotalQuestions)
	}
	if len(result.Answers) != 3 {
		t.Fatalf("got %d answer details, want 3", len(result.Answers))
	}
	if !result.Answers[0].IsCorrect || result.Answers[1].IsCorrect || result.Answers[2].IsCorrect {
		t.Errorf("answer correctness = %+v", result.Answers)
	}

	// A second submission creates a new result, never mutates the first.
	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/evaluations/%d/submit", srv.URL, evaluationID),
		map[string]any{"answers": []map[string]any{}},
		cookie)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("resubmit status = %d, want 201", resp.StatusCode)
	}
	first, err := s.GetResult(result.ID)
	if err != nil || first == nil {
		t.Fatalf("GetResult: %v", err)
	}
	if first.Score != 1 {
		t.Errorf("first result mutated: score = %d", first.Score)
	}
}

func TestSubmitRequiresAuth(t *testing.T) {
	srv, s := newTestServer(t)
	_, evaluationID, _ := seedEvaluation(t, s)

	resp := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/evaluations/%d/submit", srv.URL, evaluationID),
		map[string]any{"answers": []map[string]any{}})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestResultOwnership(t *testing.T) {
	srv, s := newTestServer(t)
	anaID := createUser(t, s, "ana@example.com", "x", model.UserRoleStudent)
	benID := createUser(t, s, "ben@example.com", "x", model.UserRoleStudent)
	teacherID := createUser(t, s, "prof@example.com", "x", model.UserRoleTeacher)
	_, evaluationID, _ := seedEvaluation(t, s)

	resultID, err := s.InsertResult(model.EvaluationResult{
		EvaluationID:   evaluationID,
		StudentID:      anaID,
		Score:          2,
		TotalQuestions: 3,
	})
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}

	url := fmt.Sprintf("%s/api/results/%d", srv.URL, resultID)

	if resp := doJSON(t, http.MethodGet, url, nil, sessionCookie(t, s, anaID)); resp.StatusCode != http.StatusOK {
		t.Errorf("owner status = %d, want 200", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, url, nil, sessionCookie(t, s, benID)); resp.StatusCode != http.StatusForbidden {
		t.Errorf("other student status = %d, want 403", resp.StatusCode)
	}
	if resp := doJSON(t, http.MethodGet, url, nil, sessionCookie(t, s, teacherID)); resp.StatusCode != http.StatusOK {
		t.Errorf("teacher status = %d, want 200", resp.StatusCode)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	srv, s := newTestServer(t)
	userID := createUser(t, s, "ana@example.com", "x", model.UserRoleStudent)
	cookie := sessionCookie(t, s, userID)
	assistantID, _, _ := seedEvaluation(t, s)

	url := fmt.Sprintf("%s/api/conversations/%d", srv.URL, assistantID)

	// No saved history yet: an empty conversation, not a 404.
	resp := doJSON(t, http.MethodGet, url, nil, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get empty status = %d, want 200", resp.StatusCode)
	}
	var conv model.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conv.History) != 0 {
		t.Errorf("empty conversation has %d turns", len(conv.History))
	}

	history := []model.Turn{
		{Role: model.RoleUser, Text: "hola"},
		{Role: model.RoleModel, Text: "hola, ¿en qué te ayudo?"},
	}
	resp = doJSON(t, http.MethodPut, url, map[string]any{"history": history}, cookie)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put status = %d, want 204", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, url, nil, cookie)
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(conv.History) != 2 || conv.History[1].Text != "hola, ¿en qué te ayudo?" {
		t.Errorf("round-tripped history = %+v", conv.History)
	}
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	srv, s := newTestServer(t)
	studentID := createUser(t, s, "ana@example.com", "x", model.UserRoleStudent)
	adminID := createUser(t, s, "root@example.com", "x", model.UserRoleAdmin)

	newUser := map[string]any{"email": "nuevo@example.com", "name": "Nuevo", "password": "x", "role": "teacher"}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/users", newUser, sessionCookie(t, s, studentID))
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("student status = %d, want 403", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/admin/users", newUser, sessionCookie(t, s, adminID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin status = %d, want 201", resp.StatusCode)
	}

	created, err := s.GetUserByEmail("nuevo@example.com")
	if err != nil || created == nil {
		t.Fatalf("created user not found: %v", err)
	}
	if created.Role != model.UserRoleTeacher {
		t.Errorf("role = %q, want teacher", created.Role)
	}
}

func TestCreateAssistantWithEvaluations(t *testing.T) {
	srv, s := newTestServer(t)
	adminID := createUser(t, s, "root@example.com", "x", model.UserRoleAdmin)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/admin/assistants", model.AssistantImport{
		Name:         "Tutor de Historia",
		Instructions: "Enseña historia de México.",
		Style:        "paciente",
		Evaluations: []model.EvaluationImport{
			{
				Title: "Independencia",
				Date:  "2026-09-15",
				Questions: []model.QuestionImport{
					{Text: "¿En qué año inició?", CorrectAnswer: "1810"},
					{Text: "¿Quién dio el Grito?", CorrectAnswer: "Miguel Hidalgo"},
				},
			},
		},
	}, sessionCookie(t, s, adminID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev, err := s.FirstEvaluation(created.ID)
	if err != nil || ev == nil {
		t.Fatalf("FirstEvaluation: %v", err)
	}
	if ev.Title != "Independencia" || len(ev.Questions) != 2 {
		t.Errorf("evaluation = %q with %d questions", ev.Title, len(ev.Questions))
	}
	if ev.Questions[0].CorrectAnswer != "1810" {
		t.Errorf("first question answer = %q", ev.Questions[0].CorrectAnswer)
	}
}
