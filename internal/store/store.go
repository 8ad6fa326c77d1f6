package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aulaviva/tutoria/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS assistants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		instructions TEXT NOT NULL,
		style TEXT NOT NULL,
		institution TEXT NOT NULL DEFAULT '',
		vector_store_path TEXT NOT NULL DEFAULT '',
		owner_id INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assistant_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		scheduled_at DATETIME NOT NULL,
		FOREIGN KEY (assistant_id) REFERENCES assistants(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		evaluation_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		choices TEXT NOT NULL DEFAULT '[]',
		correct_answer TEXT NOT NULL,
		FOREIGN KEY (evaluation_id) REFERENCES evaluations(id)
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		assistant_id INTEGER NOT NULL,
		history TEXT NOT NULL DEFAULT '[]',
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (assistant_id) REFERENCES assistants(id),
		UNIQUE (user_id, assistant_id)
	);

	CREATE TABLE IF NOT EXISTS evaluation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		evaluation_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		answers TEXT NOT NULL DEFAULT '[]',
		score INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (evaluation_id) REFERENCES evaluations(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateAssistant stores an assistant.
func (s *Store) CreateAssistant(a model.Assistant) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO assistants (name, instructions, style, institution, vector_store_path, owner_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Name, a.Instructions, a.Style, a.Institution, a.VectorStorePath, a.OwnerID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetAssistant returns an assistant by ID, or nil if not found.
func (s *Store) GetAssistant(id int64) (*model.Assistant, error) {
	var a model.Assistant
	err := s.db.QueryRow(
		`SELECT id, name, instructions, style, institution, vector_store_path, owner_id
		 FROM assistants WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Instructions, &a.Style, &a.Institution, &a.VectorStorePath, &a.OwnerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssistants returns all assistants.
func (s *Store) ListAssistants() ([]model.Assistant, error) {
	rows, err := s.db.Query(
		`SELECT id, name, instructions, style, institution, vector_store_path, owner_id
		 FROM assistants ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assistants []model.Assistant
	for rows.Next() {
		var a model.Assistant
		if err := rows.Scan(&a.ID, &a.Name, &a.Instructions, &a.Style, &a.Institution, &a.VectorStorePath, &a.OwnerID); err != nil {
			return nil, err
		}
		assistants = append(assistants, a)
	}
	return assistants, rows.Err()
}

// CreateEvaluation creates an evaluation with its ordered questions in one
// transaction. Question positions are assigned from slice order.
func (s *Store) CreateEvaluation(ev model.Evaluation) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO evaluations (assistant_id, title, scheduled_at) VALUES (?, ?, ?)`,
		ev.AssistantID, ev.Title, ev.ScheduledAt,
	)
	if err != nil {
		return 0, err
	}
	evalID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range ev.Questions {
		choices, err := json.Marshal(q.Choices)
		if err != nil {
			return 0, err
		}
		_, err = tx.Exec(
			`INSERT INTO questions (evaluation_id, position, text, choices, correct_answer)
			 VALUES (?, ?, ?, ?, ?)`,
			evalID, i, q.Text, string(choices), q.CorrectAnswer,
		)
		if err != nil {
			return 0, err
		}
	}

	return evalID, tx.Commit()
}

// GetEvaluation returns an evaluation owned by the given assistant, with its
// questions ordered by position. Returns nil if the evaluation does not exist
// or belongs to a different assistant.
func (s *Store) GetEvaluation(assistantID, evaluationID int64) (*model.Evaluation, error) {
	var ev model.Evaluation
	err := s.db.QueryRow(
		`SELECT id, assistant_id, title, scheduled_at FROM evaluations
		 WHERE id = ? AND assistant_id = ?`, evaluationID, assistantID,
	).Scan(&ev.ID, &ev.AssistantID, &ev.Title, &ev.ScheduledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ev.Questions, err = s.questionsFor(ev.ID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// FindEvaluation returns an evaluation by ID alone, with questions.
// Used by the batch submission path where only the evaluation ID is known.
func (s *Store) FindEvaluation(evaluationID int64) (*model.Evaluation, error) {
	var ev model.Evaluation
	err := s.db.QueryRow(
		`SELECT id, assistant_id, title, scheduled_at FROM evaluations WHERE id = ?`, evaluationID,
	).Scan(&ev.ID, &ev.AssistantID, &ev.Title, &ev.ScheduledAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ev.Questions, err = s.questionsFor(ev.ID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// FirstEvaluation returns the assistant's oldest evaluation with questions,
// or nil if the assistant has none. Used for the keyword offer.
func (s *Store) FirstEvaluation(assistantID int64) (*model.Evaluation, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM evaluations WHERE assistant_id = ? ORDER BY id LIMIT 1`, assistantID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetEvaluation(assistantID, id)
}

// CountEvaluations returns the number of evaluations owned by an assistant.
func (s *Store) CountEvaluations(assistantID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM evaluations WHERE assistant_id = ?`, assistantID,
	).Scan(&count)
	return count, err
}

func (s *Store) questionsFor(evaluationID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, evaluation_id, position, text, choices, correct_answer
		 FROM questions WHERE evaluation_id = ? ORDER BY position`, evaluationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var choices string
		if err := rows.Scan(&q.ID, &q.EvaluationID, &q.Position, &q.Text, &choices, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(choices), &q.Choices); err != nil {
			return nil, fmt.Errorf("decode choices for question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// UpsertConversation replaces the whole history for a (user, assistant) pair,
// creating the row if it does not exist. Last writer wins on the full array.
func (s *Store) UpsertConversation(userID, assistantID int64, history []model.Turn) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (user_id, assistant_id, history, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, assistant_id) DO UPDATE SET history = ?, updated_at = ?`,
		userID, assistantID, string(data), time.Now(), string(data), time.Now(),
	)
	return err
}

// GetConversation returns the conversation for a (user, assistant) pair, or
// nil if none exists yet.
func (s *Store) GetConversation(userID, assistantID int64) (*model.Conversation, error) {
	var c model.Conversation
	var history string
	err := s.db.QueryRow(
		`SELECT id, user_id, assistant_id, history, updated_at
		 FROM conversations WHERE user_id = ? AND assistant_id = ?`, userID, assistantID,
	).Scan(&c.ID, &c.UserID, &c.AssistantID, &history, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(history), &c.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &c, nil
}

// InsertResult stores a batch submission result. Results are write-once.
func (s *Store) InsertResult(r model.EvaluationResult) (int64, error) {
	answers, err := json.Marshal(r.Answers)
	if err != nil {
		return 0, fmt.Errorf("encode answers: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO evaluation_results (evaluation_id, student_id, answers, score, total_questions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.EvaluationID, r.StudentID, string(answers), r.Score, r.TotalQuestions, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetResult returns an evaluation result by ID, or nil if not found.
func (s *Store) GetResult(id int64) (*model.EvaluationResult, error) {
	var r model.EvaluationResult
	var answers string
	err := s.db.QueryRow(
		`SELECT id, evaluation_id, student_id, answers, score, total_questions, created_at
		 FROM evaluation_results WHERE id = ?`, id,
	).Scan(&r.ID, &r.EvaluationID, &r.StudentID, &answers, &r.Score, &r.TotalQuestions, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return &r, nil
}

// ListResultsForEvaluation returns all results for an evaluation, newest first.
func (s *Store) ListResultsForEvaluation(evaluationID int64) ([]model.EvaluationResult, error) {
	rows, err := s.db.Query(
		`SELECT id, evaluation_id, student_id, answers, score, total_questions, created_at
		 FROM evaluation_results WHERE evaluation_id = ? ORDER BY id DESC`, evaluationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.EvaluationResult
	for rows.Next() {
		var r model.EvaluationResult
		var answers string
		if err := rows.Scan(&r.ID, &r.EvaluationID, &r.StudentID, &answers, &r.Score, &r.TotalQuestions, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(answers), &r.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for result %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetImportedFileHash returns the stored hash for a seed file path.
// Returns empty string and nil error if the path was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported seed file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	)
	return err
}
