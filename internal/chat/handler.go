package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	appI18n "github.com/aulaviva/tutoria/internal/i18n"
	"github.com/aulaviva/tutoria/internal/llm"
	"github.com/aulaviva/tutoria/internal/llm/prompts"
	"github.com/aulaviva/tutoria/internal/model"
	"github.com/aulaviva/tutoria/internal/retrieval"
)

// EvaluationStore is the read-only store surface the protocol consumes.
type EvaluationStore interface {
	GetAssistant(id int64) (*model.Assistant, error)
	GetEvaluation(assistantID, evaluationID int64) (*model.Evaluation, error)
	FirstEvaluation(assistantID int64) (*model.Evaluation, error)
	CountEvaluations(assistantID int64) (int, error)
}

// ConversationLog persists completed chat turns per (user, assistant) pair.
type ConversationLog interface {
	UpsertConversation(userID, assistantID int64, history []model.Turn) error
}

// Gateway is the answer-classification and text-generation capability.
type Gateway interface {
	Classify(ctx context.Context, question model.Question, answer string) (model.Category, error)
	Feedback(ctx context.Context, category model.Category, question model.Question, answer string) (string, error)
	Chat(ctx context.Context, system string, history []model.Turn, message string) (string, error)
}

// Handler drives the evaluation session state machine and the open chat path
// for one server. It holds no per-connection state; the Session travels with
// the connection.
type Handler struct {
	store     EvaluationStore
	log       ConversationLog
	gateway   Gateway
	retriever retrieval.Retriever
	pacing    time.Duration
}

// NewHandler creates a chat dispatcher. pacing is the presentational delay
// before continuation/end events; zero emits immediately.
func NewHandler(store EvaluationStore, log ConversationLog, gateway Gateway, retriever retrieval.Retriever, pacing time.Duration) *Handler {
	return &Handler{
		store:     store,
		log:       log,
		gateway:   gateway,
		retriever: retriever,
		pacing:    pacing,
	}
}

// Dispatch routes one inbound frame against the session's current state.
// Every error path emits a "chat error" frame and leaves the session state
// unchanged, so the client can always resume by reissuing the event.
func (h *Handler) Dispatch(ctx context.Context, sess *Session, in Inbound, em Emitter) {
	assistant, err := h.store.GetAssistant(in.AssistantID)
	if err != nil {
		slog.Error("assistant lookup failed", "assistant_id", in.AssistantID, "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}
	if assistant == nil {
		h.sendError(ctx, em, "AssistantNotFound")
		return
	}

	switch {
	case in.StartEvaluation:
		h.handleStart(ctx, sess, assistant, in.EvaluationID, em)
	case in.EvaluationResponse != nil:
		h.handleAnswer(ctx, sess, assistant, *in.EvaluationResponse, em)
	case in.ContinueEvaluation:
		h.handleContinue(ctx, sess, assistant, in.EvaluationID, in.QuestionIndex, em)
	case in.StopEvaluation:
		h.handleStop(ctx, sess, em)
	default:
		h.handleChat(ctx, sess, assistant, in, em)
	}
}

func (h *Handler) handleStart(ctx context.Context, sess *Session, assistant *model.Assistant, evaluationID int64, em Emitter) {
	ev, err := h.store.GetEvaluation(assistant.ID, evaluationID)
	if err != nil {
		slog.Error("evaluation lookup failed", "evaluation_id", evaluationID, "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}
	if ev == nil {
		h.sendError(ctx, em, "EvaluationNotFound")
		return
	}
	if len(ev.Questions) == 0 {
		h.sendError(ctx, em, "EvaluationEmpty")
		return
	}

	if err := sess.Start(ev.ID); err != nil {
		slog.Warn("rejected start", "state", sess.State().String(), "error", err)
		h.sendError(ctx, em, "InvalidTransition")
		return
	}

	h.emit(em, Event{Type: EventQuestion, Payload: QuestionPayload{
		Question:      ev.Questions[0],
		EvaluationID:  ev.ID,
		QuestionIndex: 0,
	}})
}

func (h *Handler) handleAnswer(ctx context.Context, sess *Session, assistant *model.Assistant, resp EvaluationResponse, em Emitter) {
	if err := sess.ValidateAnswer(resp.EvaluationID, resp.QuestionIndex); err != nil {
		slog.Warn("rejected answer", "state", sess.State().String(), "error", err)
		h.sendError(ctx, em, "InvalidTransition")
		return
	}

	ev, err := h.store.GetEvaluation(assistant.ID, resp.EvaluationID)
	if err != nil {
		slog.Error("evaluation lookup failed", "evaluation_id", resp.EvaluationID, "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}
	if ev == nil {
		h.sendError(ctx, em, "EvaluationNotFound")
		return
	}
	if resp.QuestionIndex < 0 || resp.QuestionIndex >= len(ev.Questions) {
		h.sendError(ctx, em, "QuestionNotFound")
		return
	}
	question := ev.Questions[resp.QuestionIndex]

	category, err := h.gateway.Classify(ctx, question, resp.Answer)
	if err != nil {
		h.sendUpstreamError(ctx, em, err)
		return
	}

	feedback, err := h.gateway.Feedback(ctx, category, question, resp.Answer)
	if err != nil {
		h.sendUpstreamError(ctx, em, err)
		return
	}
	h.emit(em, Reply{Response: feedback})

	isCorrect := category == model.CategoryCorrect
	isLast := resp.QuestionIndex+1 >= len(ev.Questions)

	if isCorrect && isLast {
		// The only path that terminates without an explicit user decision.
		sess.Reset()
		completion := appI18n.T(ctx, "EvaluationComplete")
		h.after(func() {
			h.emit(em, Reply{Response: completion})
			h.emit(em, Event{Type: EventEnd})
		})
		return
	}

	nextIndex := resp.QuestionIndex
	if isCorrect {
		nextIndex++
	}
	isRetry := !isCorrect

	if err := sess.Decide(nextIndex, isRetry); err != nil {
		// Unreachable after ValidateAnswer, but never leave a half transition.
		slog.Error("decide transition failed", "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}

	continuation := Event{Type: EventContinuation, Payload: ContinuationPayload{
		EvaluationID:  ev.ID,
		QuestionIndex: nextIndex,
		IsRetry:       isRetry,
	}}
	h.after(func() { h.emit(em, continuation) })
}

func (h *Handler) handleContinue(ctx context.Context, sess *Session, assistant *model.Assistant, evaluationID int64, index int, em Emitter) {
	if err := sess.ValidateContinue(evaluationID, index); err != nil {
		slog.Warn("rejected continue", "state", sess.State().String(), "error", err)
		h.sendError(ctx, em, "InvalidTransition")
		return
	}

	ev, err := h.store.GetEvaluation(assistant.ID, evaluationID)
	if err != nil {
		// Transient store failure: the pending decision survives so the
		// client can reissue the continue.
		slog.Error("evaluation lookup failed", "evaluation_id", evaluationID, "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}
	if ev == nil || index >= len(ev.Questions) {
		// The evaluation genuinely vanished under an active session; the
		// attempt has nothing left to resume against.
		sess.Reset()
		h.sendError(ctx, em, "EvaluationNotFound")
		return
	}

	if err := sess.Continue(evaluationID, index); err != nil {
		// Unreachable after ValidateContinue, but never leave a half transition.
		slog.Error("continue transition failed", "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}

	h.emit(em, Event{Type: EventQuestion, Payload: QuestionPayload{
		Question:      ev.Questions[index],
		EvaluationID:  ev.ID,
		QuestionIndex: index,
	}})
}

func (h *Handler) handleStop(ctx context.Context, sess *Session, em Emitter) {
	if err := sess.Stop(); err != nil {
		h.sendError(ctx, em, "InvalidTransition")
		return
	}
	h.emit(em, Reply{Response: appI18n.T(ctx, "SessionClosed")})
}

func (h *Handler) handleChat(ctx context.Context, sess *Session, assistant *model.Assistant, in Inbound, em Emitter) {
	// Keyword offer: a soft suggestion, not a state transition.
	if strings.Contains(strings.ToLower(in.Message), "evaluación") {
		count, err := h.store.CountEvaluations(assistant.ID)
		if err != nil {
			slog.Error("evaluation count failed", "assistant_id", assistant.ID, "error", err)
		}
		if count > 0 {
			ev, err := h.store.FirstEvaluation(assistant.ID)
			if err != nil {
				slog.Error("first evaluation lookup failed", "assistant_id", assistant.ID, "error", err)
			}
			if ev != nil {
				h.emit(em, Event{Type: EventAction, Payload: ActionPayload{
					Text:         appI18n.Td(ctx, "EvaluationOffer", map[string]any{"Title": ev.Title}),
					ButtonText:   appI18n.Td(ctx, "EvaluationOfferButton", map[string]any{"Title": ev.Title}),
					AssistantID:  assistant.ID,
					EvaluationID: ev.ID,
				}})
				return
			}
		}
	}

	retrieved := retrieval.Safe(ctx, h.retriever, assistant.VectorStorePath, in.Message)

	system, err := prompts.BuildChatSystemPrompt(*assistant, retrieved)
	if err != nil {
		slog.Error("system prompt build failed", "error", err)
		h.sendError(ctx, em, "ProcessingError")
		return
	}

	reply, err := h.gateway.Chat(ctx, system, in.History, in.Message)
	if err != nil {
		h.sendUpstreamError(ctx, em, err)
		return
	}

	// The reply is never sacrificed for a failed history write.
	if sess.User != nil {
		history := append(append([]model.Turn{}, in.History...),
			model.Turn{Role: model.RoleUser, Text: in.Message},
			model.Turn{Role: model.RoleModel, Text: reply},
		)
		if err := h.log.UpsertConversation(sess.User.ID, assistant.ID, history); err != nil {
			slog.Error("conversation upsert failed",
				"user_id", sess.User.ID, "assistant_id", assistant.ID, "error", err)
		}
	}

	h.emit(em, Reply{Response: reply})
}

func (h *Handler) sendUpstreamError(ctx context.Context, em Emitter, err error) {
	if errors.Is(err, llm.ErrOverloaded) {
		slog.Warn("generation service overloaded", "error", err)
		h.sendError(ctx, em, "AIOverloaded")
		return
	}
	slog.Error("generation call failed", "error", err)
	h.sendError(ctx, em, "AIUnavailable")
}

func (h *Handler) sendError(ctx context.Context, em Emitter, msgID string) {
	if err := em.SendError(appI18n.T(ctx, msgID)); err != nil {
		slog.Error("emit error failed", "error", err)
	}
}

func (h *Handler) emit(em Emitter, v any) {
	if err := em.Send(v); err != nil {
		slog.Error("emit failed", "error", err)
	}
}

// after schedules fn on a fire-and-forget timer so the feedback message
// visibly precedes the next prompt. Zero pacing runs fn inline.
func (h *Handler) after(fn func()) {
	if h.pacing <= 0 {
		fn()
		return
	}
	time.AfterFunc(h.pacing, fn)
}
