package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// LogActivity appends an event to a task's activity log.
func (s *Store) LogActivity(taskID, eventType, agent, message string, metadata map[string]any) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := logActivityTx(tx, taskID, eventType, agent, message, metadata); err != nil {
		return err
	}

	return tx.Commit()
}

func logActivityTx(tx *sql.Tx, taskID, eventType, agent, message string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode activity metadata: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO activity_log (task_id, event_type, agent, message, metadata)
		 VALUES (?, ?, ?, ?, ?)`,
		taskID, eventType, nullable(agent), message, string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	return nil
}

// GetActivity retrieves the most recent activity for a task, newest
// first. When includeChildren is set, entries from direct child tasks
// are included. A limit of zero or less defaults to 50.
func (s *Store) GetActivity(taskID string, limit int, includeChildren bool) ([]*Activity, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, task_id, event_type, agent, message, metadata, created_at
	          FROM activity_log WHERE task_id = ? ORDER BY id DESC LIMIT ?`
	if includeChildren {
		query = `SELECT id, task_id, event_type, agent, message, metadata, created_at
		         FROM activity_log
		         WHERE task_id = ? OR task_id IN (SELECT id FROM tasks WHERE parent_id = ?)
		         ORDER BY id DESC LIMIT ?`
		return s.activityRows(query, taskID, taskID, limit)
	}

	return s.activityRows(query, taskID, limit)
}

// GetActivitySince retrieves all activity entries with an ID greater
// than sinceID, oldest first. The auto-increment ID gives event streams
// a reliable cursor.
func (s *Store) GetActivitySince(sinceID int64) ([]*Activity, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	return s.activityRows(
		`SELECT id, task_id, event_type, agent, message, metadata, created_at
		 FROM activity_log WHERE id > ? ORDER BY id ASC`,
		sinceID,
	)
}

// GetRecentActivity retrieves the most recent entries across all tasks,
// newest first. A limit of zero or less defaults to 50.
func (s *Store) GetRecentActivity(limit int) ([]*Activity, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 50
	}

	return s.activityRows(
		`SELECT id, task_id, event_type, agent, message, metadata, created_at
		 FROM activity_log ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

// LastActivityID returns the highest activity log ID, or zero when the
// log is empty.
func (s *Store) LastActivityID() (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}

	var id sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(id) FROM activity_log`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to get last activity id: %w", err)
	}
	return id.Int64, nil
}

func (s *Store) activityRows(query string, args ...any) ([]*Activity, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	defer rows.Close()

	var entries []*Activity
	for rows.Next() {
		entry := &Activity{}
		var agent sql.NullString
		var meta string

		err := rows.Scan(&entry.ID, &entry.TaskID, &entry.EventType, &agent, &entry.Message, &meta, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}

		entry.Agent = agent.String
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
