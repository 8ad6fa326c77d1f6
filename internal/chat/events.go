package chat

import "github.com/aulaviva/tutoria/internal/model"

// Outbound event types carried inside a "chat message" frame.
const (
	EventQuestion     = "evaluation_question"
	EventAction       = "evaluation_action"
	EventContinuation = "evaluation_continuation"
	EventEnd          = "evaluation_end"
)

// Inbound is the payload of a client "chat message" frame. Which evaluation
// control fields are set determines the event: start, answer, continue, stop,
// or a plain chat turn when none are present.
type Inbound struct {
	AssistantID        int64               `json:"assistantId"`
	Message            string              `json:"message"`
	History            []model.Turn        `json:"history"`
	StartEvaluation    bool                `json:"startEvaluation"`
	ContinueEvaluation bool                `json:"continueEvaluation"`
	StopEvaluation     bool                `json:"stopEvaluation"`
	EvaluationID       int64               `json:"evaluationId"`
	QuestionIndex      int                 `json:"questionIndex"`
	EvaluationResponse *EvaluationResponse `json:"evaluationResponse,omitempty"`
}

// EvaluationResponse is a student's answer to the currently open question.
type EvaluationResponse struct {
	EvaluationID  int64  `json:"evaluationId"`
	QuestionIndex int    `json:"questionIndex"`
	Answer        string `json:"answer"`
}

// Event is a typed server event carried in a "chat message" frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Reply is a plain chat reply.
type Reply struct {
	Response string `json:"response"`
}

// QuestionPayload carries a question to the client. The question's expected
// answer is never serialized (excluded at the model level).
type QuestionPayload struct {
	Question      model.Question `json:"question"`
	EvaluationID  int64          `json:"evaluationId"`
	QuestionIndex int            `json:"questionIndex"`
}

// ActionPayload offers the client an evaluation to start.
type ActionPayload struct {
	Text         string `json:"text"`
	ButtonText   string `json:"buttonText"`
	AssistantID  int64  `json:"assistantId"`
	EvaluationID int64  `json:"evaluationId"`
}

// ContinuationPayload asks the client to continue with (or retry) a question.
type ContinuationPayload struct {
	EvaluationID  int64 `json:"evaluationId"`
	QuestionIndex int   `json:"questionIndex"`
	IsRetry       bool  `json:"isRetry"`
}

// Emitter is the transport-side sink for server events. Send carries a
// "chat message" frame, SendError a "chat error" frame.
type Emitter interface {
	Send(v any) error
	SendError(msg string) error
}
