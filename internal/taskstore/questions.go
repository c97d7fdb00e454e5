package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateQuestionParams carries the fields accepted when an agent raises
// a question.
type CreateQuestionParams struct {
	TaskID       string
	Question     string
	Agent        string
	QuestionType string
	Options      []string
	Context      string
}

// CreateQuestion inserts a new question and logs a "question" activity
// entry on the owning task.
func (s *Store) CreateQuestion(p CreateQuestionParams) (*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if p.TaskID == "" || p.Question == "" {
		return nil, fmt.Errorf("question task_id and text are required")
	}
	if p.QuestionType == "" {
		p.QuestionType = "text"
	}

	var options *string
	if len(p.Options) > 0 {
		encoded, err := json.Marshal(p.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode question options: %w", err)
		}
		options = nullable(string(encoded))
	}

	id := generateID()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO questions (id, task_id, agent, question, question_type, options, context)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, p.TaskID, nullable(p.Agent), p.Question, p.QuestionType, options, nullable(p.Context),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	message := "Question asked: " + truncate(p.Question, 100)
	if err := logActivityTx(tx, p.TaskID, EventQuestion, p.Agent, message, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetQuestion(id)
}

// AnswerQuestion records an answer and logs it on the owning task.
// Returns the updated question, or nil if no question has that ID.
func (s *Store) AnswerQuestion(id, answer string, autoAccepted bool) (*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE questions SET answer = ?, answered_at = CURRENT_TIMESTAMP, auto_accepted = ? WHERE id = ?`,
		answer, autoAccepted, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to answer question: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	var taskID string
	if err := tx.QueryRow(`SELECT task_id FROM questions WHERE id = ?`, id).Scan(&taskID); err != nil {
		return nil, fmt.Errorf("failed to get question task: %w", err)
	}

	if err := logActivityTx(tx, taskID, EventAnswer, "", "Answer: "+truncate(answer, 100), nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetQuestion(id)
}

// GetQuestion retrieves a question by ID. Returns nil without error if
// no question has that ID.
func (s *Store) GetQuestion(id string) (*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	q, err := scanQuestion(s.db.QueryRow(
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return q, nil
}

// GetQuestions retrieves a task's questions, oldest first. When
// pendingOnly is set, only unanswered questions are returned. When
// includeChildren is set, questions on direct child tasks are included.
func (s *Store) GetQuestions(taskID string, pendingOnly, includeChildren bool) ([]*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT ` + questionColumns + ` FROM questions WHERE task_id = ?`
	args := []any{taskID}
	if includeChildren {
		query = `SELECT ` + questionColumns + ` FROM questions
		         WHERE (task_id = ? OR task_id IN (SELECT id FROM tasks WHERE parent_id = ?))`
		args = append(args, taskID)
	}
	if pendingOnly {
		query += ` AND answer IS NULL`
	}
	query += ` ORDER BY created_at, rowid`

	return s.questionRows(query, args...)
}

// GetAllPendingQuestions retrieves every unanswered question across all
// tasks, oldest first.
func (s *Store) GetAllPendingQuestions() ([]*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	return s.questionRows(`SELECT ` + questionColumns + ` FROM questions WHERE answer IS NULL ORDER BY created_at, rowid`)
}

// GetAllQuestions retrieves every question across all tasks, oldest
// first.
func (s *Store) GetAllQuestions() ([]*Question, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	return s.questionRows(`SELECT ` + questionColumns + ` FROM questions ORDER BY created_at, rowid`)
}

const questionColumns = `id, task_id, agent, question, question_type, options, context, answer, answered_at, auto_accepted, created_at`

func (s *Store) questionRows(query string, args ...any) ([]*Question, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	var questions []*Question
	for rows.Next() {
		q, err := scanQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

func scanQuestion(scan func(...any) error) (*Question, error) {
	q := &Question{}
	var agent, options, context, answer sql.NullString
	var answeredAt sql.NullTime

	err := scan(
		&q.ID, &q.TaskID, &agent, &q.Question, &q.QuestionType,
		&options, &context, &answer, &answeredAt, &q.AutoAccepted, &q.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.Agent = agent.String
	q.Context = context.String
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &q.Options); err != nil {
			return nil, fmt.Errorf("failed to decode question options: %w", err)
		}
	}
	if answer.Valid {
		q.Answer = &answer.String
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		q.AnsweredAt = &t
	}

	return q, nil
}
