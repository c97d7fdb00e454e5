package taskstore

import (
	"database/sql"
	"fmt"
	"strings"
)

// CreateTaskParams carries the fields accepted when creating a task.
type CreateTaskParams struct {
	Title         string
	Description   string
	ParentID      string
	AssignedAgent string
	Phase         string
	AutoAccept    bool
	Source        string
}

// UpdateTaskParams carries optional task updates. Nil fields are left
// unchanged. A PID of zero clears the stored process ID.
type UpdateTaskParams struct {
	Status        *TaskStatus
	Phase         *string
	Result        *string
	AssignedAgent *string
	PID           *int
}

// CreateTask inserts a new task and logs a "created" activity entry.
func (s *Store) CreateTask(p CreateTaskParams) (*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if p.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if p.Source == "" {
		p.Source = "cli"
	}

	id := generateID()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO tasks (id, parent_id, title, description, assigned_agent, phase, auto_accept, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, nullable(p.ParentID), p.Title, p.Description, nullable(p.AssignedAgent), nullable(p.Phase), p.AutoAccept, p.Source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := logActivityTx(tx, id, EventCreated, p.AssignedAgent, "Task created: "+p.Title, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetTask(id)
}

// UpdateTask applies the non-nil fields of p to a task. Status and phase
// changes are recorded in the activity log. Returns the updated task, or
// nil if no task has that ID.
func (s *Store) UpdateTask(id string, p UpdateTaskParams) (*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var sets []string
	var args []any
	if p.Status != nil {
		if !ValidStatus(*p.Status) {
			return nil, fmt.Errorf("invalid task status: %s", *p.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *p.Status)
	}
	if p.Phase != nil {
		sets = append(sets, "phase = ?")
		args = append(args, *p.Phase)
	}
	if p.Result != nil {
		sets = append(sets, "result = ?")
		args = append(args, *p.Result)
	}
	if p.AssignedAgent != nil {
		sets = append(sets, "assigned_agent = ?")
		args = append(args, *p.AssignedAgent)
	}
	if p.PID != nil {
		sets = append(sets, "pid = ?")
		if *p.PID == 0 {
			args = append(args, nil)
		} else {
			args = append(args, *p.PID)
		}
	}

	if len(sets) == 0 {
		return s.GetTask(id)
	}

	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := tx.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	agent := ""
	if p.AssignedAgent != nil {
		agent = *p.AssignedAgent
	}
	if p.Status != nil {
		if err := logActivityTx(tx, id, EventStatusChange, agent, fmt.Sprintf("Status changed to %s", *p.Status), nil); err != nil {
			return nil, err
		}
	}
	if p.Phase != nil && *p.Phase != "" {
		if err := logActivityTx(tx, id, EventPhaseChange, agent, fmt.Sprintf("Phase changed to %s", *p.Phase), nil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetTask(id)
}

// GetTask retrieves a task with its children and pending question count.
// Returns nil without error if no task has that ID.
func (s *Store) GetTask(id string) (*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	task, err := s.taskRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil || task == nil {
		return task, err
	}

	if err := s.fillTaskExtras(task); err != nil {
		return nil, err
	}

	return task, nil
}

// GetRootTasks retrieves all top-level tasks, newest first, each with its
// children and pending question count.
func (s *Store) GetRootTasks() ([]*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	tasks, err := s.taskRows(`SELECT ` + taskColumns + ` FROM tasks WHERE parent_id IS NULL ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if err := s.fillTaskExtras(task); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

// GetTasksByStatus retrieves all tasks with the given status, oldest
// first.
func (s *Store) GetTasksByStatus(status TaskStatus) ([]*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	return s.taskRows(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, rowid`, status)
}

// GetOrphanedTasks retrieves tasks left in_progress with a recorded
// process ID. After a server restart these are candidates for recovery:
// the process may still be alive, or it died with the old server.
func (s *Store) GetOrphanedTasks() ([]*Task, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	return s.taskRows(`SELECT ` + taskColumns + ` FROM tasks WHERE status = 'in_progress' AND pid IS NOT NULL ORDER BY created_at, rowid`)
}

// DeleteTask removes a task and, through foreign keys, its children,
// activity, and questions. Reports whether a row was deleted.
func (s *Store) DeleteTask(id string) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("database not opened")
	}

	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const taskColumns = `id, parent_id, title, description, status, assigned_agent, phase, result, auto_accept, source, pid, created_at, updated_at`

func (s *Store) taskRow(query string, args ...any) (*Task, error) {
	task, err := scanTask(s.db.QueryRow(query, args...).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *Store) taskRows(query string, args ...any) ([]*Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func scanTask(scan func(...any) error) (*Task, error) {
	task := &Task{}
	var parentID, assignedAgent, phase, result sql.NullString
	var pid sql.NullInt64

	err := scan(
		&task.ID, &parentID, &task.Title, &task.Description, &task.Status,
		&assignedAgent, &phase, &result, &task.AutoAccept, &task.Source,
		&pid, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.ParentID = parentID.String
	task.AssignedAgent = assignedAgent.String
	task.Phase = phase.String
	task.Result = result.String
	task.PID = int(pid.Int64)

	return task, nil
}

// fillTaskExtras loads children and the pending question count.
func (s *Store) fillTaskExtras(task *Task) error {
	children, err := s.taskRows(`SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at, rowid`, task.ID)
	if err != nil {
		return err
	}
	task.Children = children

	err = s.db.QueryRow(
		`SELECT COUNT(*) FROM questions WHERE task_id = ? AND answer IS NULL`,
		task.ID,
	).Scan(&task.PendingQuestions)
	if err != nil {
		return fmt.Errorf("failed to count pending questions: %w", err)
	}

	return nil
}
