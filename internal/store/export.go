package store

import (
	"fmt"

	"github.com/aulaviva/tutoria/internal/model"
)

// ExportResults builds export-ready student results for one evaluation.
func (s *Store) ExportResults(evaluationID int64) ([]model.StudentResult, error) {
	ev, err := s.FindEvaluation(evaluationID)
	if err != nil {
		return nil, fmt.Errorf("find evaluation %d: %w", evaluationID, err)
	}
	if ev == nil {
		return nil, fmt.Errorf("evaluation %d not found", evaluationID)
	}

	questionText := make(map[int64]string, len(ev.Questions))
	for _, q := range ev.Questions {
		questionText[q.ID] = q.Text
	}

	results, err := s.ListResultsForEvaluation(evaluationID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	var out []model.StudentResult
	for _, r := range results {
		user, err := s.GetUserByID(r.StudentID)
		if err != nil {
			return nil, fmt.Errorf("get user %d: %w", r.StudentID, err)
		}

		var email, name string
		if user != nil {
			email = user.Email
			name = user.Name
		}

		var answers []model.AnswerExport
		for _, a := range r.Answers {
			answers = append(answers, model.AnswerExport{
				Question:  questionText[a.QuestionID],
				Answer:    a.Answer,
				IsCorrect: a.IsCorrect,
			})
		}

		out = append(out, model.StudentResult{
			Email:          email,
			Name:           name,
			Score:          r.Score,
			TotalQuestions: r.TotalQuestions,
			SubmittedAt:    r.CreatedAt,
			Answers:        answers,
		})
	}

	return out, nil
}
