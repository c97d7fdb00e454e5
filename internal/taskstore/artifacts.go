package taskstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateArtifactParams carries the fields accepted when registering an
// artifact. FilePath should point at the snapshotted copy under the
// state directory, not the agent's working file. ID is generated when
// empty; callers that snapshot into an ID-named directory pass their
// own.
type CreateArtifactParams struct {
	ID           string
	TaskID       string
	ArtifactType string
	Label        string
	FilePath     string
	MimeType     string
	Metadata     map[string]any
}

// CreateArtifact records an artifact and logs an "artifact" activity
// entry on the owning task.
func (s *Store) CreateArtifact(p CreateArtifactParams) (*Artifact, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if p.TaskID == "" || p.Label == "" || p.FilePath == "" {
		return nil, fmt.Errorf("artifact task_id, label, and file_path are required")
	}
	if p.ArtifactType == "" {
		p.ArtifactType = "file"
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode artifact metadata: %w", err)
	}

	id := p.ID
	if id == "" {
		id = generateID()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO artifacts (id, task_id, artifact_type, label, file_path, mime_type, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, p.TaskID, p.ArtifactType, p.Label, p.FilePath, nullable(p.MimeType), string(meta),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	if err := logActivityTx(tx, p.TaskID, EventArtifact, "", "Artifact added: "+p.Label, nil); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetArtifact(id)
}

// GetArtifact retrieves an artifact by ID. Returns nil without error if
// no artifact has that ID.
func (s *Store) GetArtifact(id string) (*Artifact, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	a, err := scanArtifact(s.db.QueryRow(
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return a, nil
}

// GetArtifacts retrieves a task's artifacts, oldest first. When
// includeChildren is set, artifacts on direct child tasks are included.
func (s *Store) GetArtifacts(taskID string, includeChildren bool) ([]*Artifact, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	query := `SELECT ` + artifactColumns + ` FROM artifacts WHERE task_id = ?`
	args := []any{taskID}
	if includeChildren {
		query = `SELECT ` + artifactColumns + ` FROM artifacts
		         WHERE (task_id = ? OR task_id IN (SELECT id FROM tasks WHERE parent_id = ?))`
		args = append(args, taskID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}

	return artifacts, rows.Err()
}

const artifactColumns = `id, task_id, artifact_type, label, file_path, mime_type, metadata, created_at`

func scanArtifact(scan func(...any) error) (*Artifact, error) {
	a := &Artifact{}
	var mimeType sql.NullString
	var meta string

	err := scan(&a.ID, &a.TaskID, &a.ArtifactType, &a.Label, &a.FilePath, &mimeType, &meta, &a.CreatedAt)
	if err != nil {
		return nil, err
	}

	a.MimeType = mimeType.String
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode artifact metadata: %w", err)
		}
	}

	return a, nil
}
