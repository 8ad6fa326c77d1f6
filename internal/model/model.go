package model

import (
	"context"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Assistant is a configured tutoring assistant. Evaluations belong to it.
type Assistant struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Instructions    string `json:"instructions"`
	Style           string `json:"style"`
	Institution     string `json:"institution"`
	VectorStorePath string `json:"vector_store_path,omitempty"`
	OwnerID         int64  `json:"owner_id"`
}

// Evaluation is an ordered question sequence owned by an assistant.
// Read-only once a session against it has started.
type Evaluation struct {
	ID          int64      `json:"id"`
	AssistantID int64      `json:"assistant_id"`
	Title       string     `json:"title"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Questions   []Question `json:"questions"`
}

// Question is a single evaluation question. Position within the evaluation is
// the unit of session progress. An empty Choices slice means open-ended.
type Question struct {
	ID            int64    `json:"id"`
	EvaluationID  int64    `json:"evaluation_id"`
	Position      int      `json:"position"`
	Text          string   `json:"text"`
	Choices       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"-"`
}

// Category is the classification of a student's free-text answer.
type Category string

const (
	CategoryCorrect          Category = "Correcta"
	CategoryPartiallyCorrect Category = "Parcialmente Correcta"
	CategoryIncorrect        Category = "Incorrecta"
)

// ParseCategory maps raw classifier output to a Category. Anything outside
// the three recognized labels coerces to Incorrect: a malformed classification
// must never mark a wrong answer correct.
func ParseCategory(raw string) Category {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "correcta":
		return CategoryCorrect
	case "parcialmente correcta":
		return CategoryPartiallyCorrect
	default:
		return CategoryIncorrect
	}
}

// Role represents a conversation turn role.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry in a conversation history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Conversation is the single message history for a (user, assistant) pair.
type Conversation struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	AssistantID int64     `json:"assistant_id"`
	History     []Turn    `json:"history"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AnswerDetail is the per-question outcome of a batch submission.
type AnswerDetail struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"is_correct"`
}

// EvaluationResult is the persisted outcome of a batch submission.
// Created once, immutable thereafter.
type EvaluationResult struct {
	ID             int64          `json:"id"`
	EvaluationID   int64          `json:"evaluation_id"`
	StudentID      int64          `json:"student_id"`
	Answers        []AnswerDetail `json:"answers"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"total_questions"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	Lang          string        // chat/error message language (es, en)
	Pacing        time.Duration // delay before continuation/end events
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	RetrievalURL  string        // context retrieval sidecar, empty disables RAG
}

// AssistantImport is used for loading assistants from JSON seed files.
type AssistantImport struct {
	Name         string             `json:"name"`
	Instructions string             `json:"instructions"`
	Style        string             `json:"style"`
	Institution  string             `json:"institution"`
	Evaluations  []EvaluationImport `json:"evaluations"`
}

// EvaluationImport is used for loading evaluations from JSON seed files.
type EvaluationImport struct {
	Title     string           `json:"title"`
	Date      string           `json:"date"`
	Questions []QuestionImport `json:"questions"`
}

// QuestionImport is used for loading questions from JSON seed files.
type QuestionImport struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}
