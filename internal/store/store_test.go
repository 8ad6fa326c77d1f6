package store

import (
	"testing"
	"time"

	"github.com/aulaviva/tutoria/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAssistant(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateAssistant(model.Assistant{Name: "Tutor", Instructions: "Enseña.", Style: "amable"})
	if err != nil {
		t.Fatalf("CreateAssistant: %v", err)
	}
	return id
}

func TestEvaluationQuestionOrdering(t *testing.T) {
	s := newTestStore(t)
	assistantID := seedAssistant(t, s)

	evalID, err := s.CreateEvaluation(model.Evaluation{
		AssistantID: assistantID,
		Title:       "Orden",
		Questions: []model.Question{
			{Text: "primera", CorrectAnswer: "a"},
			{Text: "segunda", CorrectAnswer: "b", Choices: []string{"b", "c"}},
			{Text: "tercera", CorrectAnswer: "c"},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}

	ev, err := s.GetEvaluation(assistantID, evalID)
	if err != nil {
		t.Fatalf("GetEvaluation: %v", err)
	}
	if ev == nil {
		t.Fatal("GetEvaluation returned nil")
	}
	if len(ev.Questions) != 3 {
		t.Fatalf("got %d questions, want 3", len(ev.Questions))
	}
	for i, want := range []string{"primera", "segunda", "tercera"} {
		if ev.Questions[i].Text != want {
			t.Errorf("question %d = %q, want %q", i, ev.Questions[i].Text, want)
		}
		if ev.Questions[i].Position != i {
			t.Errorf("question %d position = %d", i, ev.Questions[i].Position)
		}
	}
	if len(ev.Questions[1].Choices) != 2 {
		t.Errorf("choices = %v, want 2 options", ev.Questions[1].Choices)
	}
}

func TestGetEvaluationWrongAssistant(t *testing.T) {
	s := newTestStore(t)
	owner := seedAssistant(t, s)
	other := seedAssistant(t, s)

	evalID, err := s.CreateEvaluation(model.Evaluation{
		AssistantID: owner,
		Title:       "Privada",
		Questions:   []model.Question{{Text: "q", CorrectAnswer: "a"}},
	})
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}

	ev, err := s.GetEvaluation(other, evalID)
	if err != nil {
		t.Fatalf("GetEvaluation: %v", err)
	}
	if ev != nil {
		t.Error("evaluation visible through a different assistant")
	}
}

func TestFirstEvaluationAndCount(t *testing.T) {
	s := newTestStore(t)
	assistantID := seedAssistant(t, s)

	if n, err := s.CountEvaluations(assistantID); err != nil || n != 0 {
		t.Fatalf("CountEvaluations = %d, %v; want 0", n, err)
	}
	if ev, err := s.FirstEvaluation(assistantID); err != nil || ev != nil {
		t.Fatalf("FirstEvaluation on empty = %v, %v; want nil", ev, err)
	}

	for _, title := range []string{"Primera", "Segunda"} {
		if _, err := s.CreateEvaluation(model.Evaluation{
			AssistantID: assistantID,
			Title:       title,
			Questions:   []model.Question{{Text: "q", CorrectAnswer: "a"}},
		}); err != nil {
			t.Fatalf("CreateEvaluation: %v", err)
		}
	}

	if n, err := s.CountEvaluations(assistantID); err != nil || n != 2 {
		t.Errorf("CountEvaluations = %d, %v; want 2", n, err)
	}
	ev, err := s.FirstEvaluation(assistantID)
	if err != nil || ev == nil {
		t.Fatalf("FirstEvaluation: %v", err)
	}
	if ev.Title != "Primera" {
		t.Errorf("FirstEvaluation title = %q, want 'Primera'", ev.Title)
	}
}

func TestConversationUpsertReplacesHistory(t *testing.T) {
	s := newTestStore(t)
	assistantID := seedAssistant(t, s)
	userID, err := s.CreateUser(model.User{Email: "ana@example.com", Name: "Ana", PasswordHash: "h", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if conv, err := s.GetConversation(userID, assistantID); err != nil || conv != nil {
		t.Fatalf("GetConversation before upsert = %v, %v; want nil", conv, err)
	}

	first := []model.Turn{{Role: model.RoleUser, Text: "hola"}}
	if err := s.UpsertConversation(userID, assistantID, first); err != nil {
		t.Fatalf("UpsertConversation: %v", err)
	}

	second := []model.Turn{
		{Role: model.RoleUser, Text: "hola"},
		{Role: model.RoleModel, Text: "hola, ¿en qué te ayudo?"},
		{Role: model.RoleUser, Text: "explícame algo"},
	}
	if err := s.UpsertConversation(userID, assistantID, second); err != nil {
		t.Fatalf("UpsertConversation replace: %v", err)
	}

	conv, err := s.GetConversation(userID, assistantID)
	if err != nil || conv == nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.History) != 3 {
		t.Errorf("history has %d turns, want 3 (whole-history replace)", len(conv.History))
	}

	var rows int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM conversations WHERE user_id = ? AND assistant_id = ?`,
		userID, assistantID,
	).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Errorf("got %d conversation rows for the pair, want 1", rows)
	}
}

func TestResultsAreAppendOnly(t *testing.T) {
	s := newTestStore(t)
	assistantID := seedAssistant(t, s)
	evalID, err := s.CreateEvaluation(model.Evaluation{
		AssistantID: assistantID,
		Title:       "Prueba",
		Questions:   []model.Question{{Text: "q", CorrectAnswer: "a"}},
	})
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}

	firstID, err := s.InsertResult(model.EvaluationResult{
		EvaluationID: evalID, StudentID: 1, Score: 0, TotalQuestions: 1,
		Answers: []model.AnswerDetail{{QuestionID: 1, Answer: "b", IsCorrect: false}},
	})
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}
	secondID, err := s.InsertResult(model.EvaluationResult{
		EvaluationID: evalID, StudentID: 1, Score: 1, TotalQuestions: 1,
		Answers: []model.AnswerDetail{{QuestionID: 1, Answer: "a", IsCorrect: true}},
	})
	if err != nil {
		t.Fatalf("InsertResult: %v", err)
	}
	if firstID == secondID {
		t.Fatal("second submission reused the first result row")
	}

	first, err := s.GetResult(firstID)
	if err != nil || first == nil {
		t.Fatalf("GetResult: %v", err)
	}
	if first.Score != 0 || first.Answers[0].Answer != "b" {
		t.Errorf("first result mutated: %+v", first)
	}

	results, err := s.ListResultsForEvaluation(evalID)
	if err != nil {
		t.Fatalf("ListResultsForEvaluation: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestUserLookups(t *testing.T) {
	s := newTestStore(t)

	if u, err := s.GetUserByEmail("nadie@example.com"); err != nil || u != nil {
		t.Errorf("GetUserByEmail missing = %v, %v; want nil, nil", u, err)
	}

	id, err := s.CreateUser(model.User{Email: "ana@example.com", Name: "Ana", PasswordHash: "h", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByID(id)
	if err != nil || u == nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if u.Email != "ana@example.com" || u.Role != model.UserRoleTeacher {
		t.Errorf("user = %+v", u)
	}

	if n, err := s.UserCount(); err != nil || n != 1 {
		t.Errorf("UserCount = %d, %v; want 1", n, err)
	}
}

func TestAuthSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	userID, err := s.CreateUser(model.User{Email: "ana@example.com", Name: "Ana", PasswordHash: "h", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := s.CreateAuthSession(userID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}

	sess, err := s.GetAuthSession(token)
	if err != nil || sess == nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess.UserID != userID {
		t.Errorf("session user = %d, want %d", sess.UserID, userID)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if sess, err := s.GetAuthSession(token); err != nil || sess != nil {
		t.Errorf("session survived delete: %v, %v", sess, err)
	}
}

func TestExpiredAuthSessionIsRejected(t *testing.T) {
	s := newTestStore(t)
	userID, err := s.CreateUser(model.User{Email: "ana@example.com", Name: "Ana", PasswordHash: "h", Role: model.UserRoleStudent, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := s.CreateAuthSession(userID)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}

	if _, err := s.db.Exec(
		`UPDATE auth_sessions SET expires_at = ? WHERE id = ?`,
		time.Now().Add(-time.Hour), token,
	); err != nil {
		t.Fatalf("age session: %v", err)
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess != nil {
		t.Error("expired session accepted")
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	if h, err := s.GetImportedFileHash("seed/historia.json"); err != nil || h != "" {
		t.Fatalf("hash before import = %q, %v; want empty", h, err)
	}

	if err := s.SetImportedFileHash("seed/historia.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if h, _ := s.GetImportedFileHash("seed/historia.json"); h != "abc123" {
		t.Errorf("hash = %q, want abc123", h)
	}

	if err := s.SetImportedFileHash("seed/historia.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	if h, _ := s.GetImportedFileHash("seed/historia.json"); h != "def456" {
		t.Errorf("hash after update = %q, want def456", h)
	}
}
