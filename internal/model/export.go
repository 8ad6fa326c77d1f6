package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	AssistantID int64           `json:"assistant_id"`
	Evaluation  string          `json:"evaluation"`
	Date        string          `json:"date"`
	Results     []StudentResult `json:"results"`
}

// StudentResult holds one student's submission data for export.
type StudentResult struct {
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Score          int            `json:"score"`
	TotalQuestions int            `json:"total_questions"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	Answers        []AnswerExport `json:"answers"`
}

// AnswerExport holds per-question data for export.
type AnswerExport struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	IsCorrect bool   `json:"is_correct"`
}
