// Package taskstore persists the task queue, activity log, and agent
// questions in a SQLite database shared by the CLI, the dashboard, and
// MCP server processes. Concurrent writers are expected, so the store
// opens the database in WAL mode with a busy timeout.
package taskstore

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

// Task status constants.
const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusBlocked    TaskStatus = "blocked"
)

// ValidStatus reports whether s is a known task status.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusBlocked:
		return true
	}
	return false
}

// Event types written by the store itself. Callers may log additional
// types through LogActivity.
const (
	EventCreated      = "created"
	EventStatusChange = "status_change"
	EventPhaseChange  = "phase_change"
	EventQuestion     = "question"
	EventAnswer       = "answer"
	EventArtifact     = "artifact"
)

// Task is one unit of work tracked by the dashboard.
type Task struct {
	ID            string     `json:"id"`
	ParentID      string     `json:"parent_id,omitempty"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Status        TaskStatus `json:"status"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	Phase         string     `json:"phase,omitempty"`
	Result        string     `json:"result,omitempty"`
	AutoAccept    bool       `json:"auto_accept"`
	Source        string     `json:"source"`
	PID           int        `json:"pid,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Children and PendingQuestions are populated by GetTask and GetRootTasks.
	Children         []*Task `json:"children,omitempty"`
	PendingQuestions int     `json:"pending_questions"`
}

// Activity is one event in a task's history.
type Activity struct {
	ID        int64          `json:"id"`
	TaskID    string         `json:"task_id"`
	EventType string         `json:"event_type"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Question is a blocking question raised by an agent. Answer is nil
// until someone (or auto-accept) answers it.
type Question struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	Agent        string     `json:"agent,omitempty"`
	Question     string     `json:"question"`
	QuestionType string     `json:"question_type"`
	Options      []string   `json:"options,omitempty"`
	Context      string     `json:"context,omitempty"`
	Answer       *string    `json:"answer"`
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
	AutoAccepted bool       `json:"auto_accepted"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Answered reports whether the question has an answer.
func (q *Question) Answered() bool {
	return q.Answer != nil
}

// Artifact is a file an agent registered for a task, snapshotted under
// the state directory so later edits cannot change what the dashboard
// shows.
type Artifact struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	ArtifactType string         `json:"artifact_type"`
	Label        string         `json:"label"`
	FilePath     string         `json:"file_path"`
	MimeType     string         `json:"mime_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Stats summarizes the task queue.
type Stats struct {
	Total            int `json:"total"`
	Pending          int `json:"pending"`
	InProgress       int `json:"in_progress"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	Blocked          int `json:"blocked"`
	PendingQuestions int `json:"pending_questions"`
}

// Store provides access to the task database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the task database at path and runs
// any pending migrations. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// modernc.org/sqlite accepts pragmas in the DSN:
	// file:path?_pragma=foo(bar)&_pragma=baz(qux)
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging task database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// GetStats returns per-status task counts and the number of unanswered
// questions.
func (s *Store) GetStats() (*Stats, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	stats := &Stats{}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}

		stats.Total += count
		switch status {
		case StatusPending:
			stats.Pending = count
		case StatusInProgress:
			stats.InProgress = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusBlocked:
			stats.Blocked = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRow(`SELECT COUNT(*) FROM questions WHERE answer IS NULL`).Scan(&stats.PendingQuestions)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending questions: %w", err)
	}

	return stats, nil
}

// generateID creates a short task-style ID from a UUID. Eight hex
// characters keep IDs readable in the dashboard and on the command
// line.
func generateID() string {
	return uuid.New().String()[:8]
}

// nullable maps the empty string to NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncate shortens s for activity log messages.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
