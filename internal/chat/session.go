package chat

import (
	"errors"
	"fmt"

	"github.com/aulaviva/tutoria/internal/model"
)

// ErrInvalidTransition means an inbound event does not match the session's
// current state. The session is left untouched so the client can retry.
var ErrInvalidTransition = errors.New("invalid transition")

// StateKind identifies the session state variant.
type StateKind int

const (
	// StateIdle means no evaluation attempt is active.
	StateIdle StateKind = iota
	// StateAnswering means the session waits for an answer to the open question.
	StateAnswering
	// StateDeciding means the session waits for the continue/stop choice that
	// follows non-terminal feedback.
	StateDeciding
)

func (k StateKind) String() string {
	switch k {
	case StateAnswering:
		return "answering"
	case StateDeciding:
		return "deciding"
	default:
		return "idle"
	}
}

// Session is the connection-scoped state of one student's live attempt at one
// evaluation. It is owned by a single connection's event loop, never shared,
// and discarded on disconnect.
type Session struct {
	// User is the authenticated user bound to the connection, or nil.
	User *model.User

	state        StateKind
	evaluationID int64
	index        int
	isRetry      bool
}

// NewSession creates an idle session for a connection.
func NewSession(user *model.User) *Session {
	return &Session{User: user}
}

// State returns the current state variant.
func (s *Session) State() StateKind { return s.state }

// EvaluationID returns the active evaluation, 0 when idle.
func (s *Session) EvaluationID() int64 { return s.evaluationID }

// Index returns the question index the current state refers to.
func (s *Session) Index() int { return s.index }

// IsRetry reports whether the pending decision re-presents the same question.
func (s *Session) IsRetry() bool { return s.isRetry }

// Start moves Idle -> Answering(0). Starting while an attempt is active is an
// invalid transition; the client must stop first.
func (s *Session) Start(evaluationID int64) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, s.state)
	}
	s.state = StateAnswering
	s.evaluationID = evaluationID
	s.index = 0
	s.isRetry = false
	return nil
}

// ValidateAnswer checks that an answer event matches the open question.
func (s *Session) ValidateAnswer(evaluationID int64, index int) error {
	if s.state != StateAnswering {
		return fmt.Errorf("%w: answer while %s", ErrInvalidTransition, s.state)
	}
	if evaluationID != s.evaluationID || index != s.index {
		return fmt.Errorf("%w: answer for evaluation %d question %d, open is evaluation %d question %d",
			ErrInvalidTransition, evaluationID, index, s.evaluationID, s.index)
	}
	return nil
}

// Decide moves Answering -> Deciding(nextIndex, isRetry) after non-terminal
// feedback. nextIndex is the already-computed advance or retry index.
func (s *Session) Decide(nextIndex int, isRetry bool) error {
	if s.state != StateAnswering {
		return fmt.Errorf("%w: decide while %s", ErrInvalidTransition, s.state)
	}
	s.state = StateDeciding
	s.index = nextIndex
	s.isRetry = isRetry
	return nil
}

// ValidateContinue checks that a continue event matches the pending decision
// without committing the transition.
func (s *Session) ValidateContinue(evaluationID int64, index int) error {
	if s.state != StateDeciding {
		return fmt.Errorf("%w: continue while %s", ErrInvalidTransition, s.state)
	}
	if evaluationID != s.evaluationID || index != s.index {
		return fmt.Errorf("%w: continue for evaluation %d question %d, pending is evaluation %d question %d",
			ErrInvalidTransition, evaluationID, index, s.evaluationID, s.index)
	}
	return nil
}

// Continue moves Deciding -> Answering for the pending index. The index is
// the one computed at Decide time, not re-derived.
func (s *Session) Continue(evaluationID int64, index int) error {
	if err := s.ValidateContinue(evaluationID, index); err != nil {
		return err
	}
	s.state = StateAnswering
	s.isRetry = false
	return nil
}

// Stop discards the attempt from any non-idle state. No record of the
// abandoned attempt is kept.
func (s *Session) Stop() error {
	if s.state == StateIdle {
		return fmt.Errorf("%w: stop while idle", ErrInvalidTransition)
	}
	s.Reset()
	return nil
}

// Reset returns the session to Idle unconditionally. Used on completion.
func (s *Session) Reset() {
	s.state = StateIdle
	s.evaluationID = 0
	s.index = 0
	s.isRetry = false
}
