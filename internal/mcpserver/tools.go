package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

type registerParams struct {
	Title       string `json:"title" jsonschema:"Task title, e.g. 'Build user authentication'"`
	Description string `json:"description,omitempty" jsonschema:"Detailed description of the task"`
}

func (s *Server) handleRegister(ctx context.Context, req *mcp.CallToolRequest, params registerParams) (*mcp.CallToolResult, any, error) {
	// Spawned from the dashboard: resume the pre-assigned task.
	if existingID := os.Getenv(project.EnvTaskID); existingID != "" {
		task, err := s.store.GetTask(existingID)
		if err != nil {
			return nil, nil, err
		}
		if task != nil {
			status := taskstore.StatusInProgress
			if _, err := s.store.UpdateTask(existingID, taskstore.UpdateTaskParams{Status: &status}); err != nil {
				return nil, nil, err
			}
			if err := s.store.LogActivity(existingID, "message", "orchestrator", "Orchestrator started", nil); err != nil {
				return nil, nil, err
			}
			s.log.Info("resumed dashboard task", "task", existingID)
			return jsonResult(map[string]string{"id": existingID})
		}
	}

	// Started from the CLI: create a fresh root task.
	task, err := s.store.CreateTask(taskstore.CreateTaskParams{
		Title:         params.Title,
		Description:   params.Description,
		AssignedAgent: "orchestrator",
		Source:        "cli",
	})
	if err != nil {
		return nil, nil, err
	}
	status := taskstore.StatusInProgress
	if _, err := s.store.UpdateTask(task.ID, taskstore.UpdateTaskParams{Status: &status}); err != nil {
		return nil, nil, err
	}
	s.log.Info("registered new root task", "task", task.ID, "title", params.Title)
	return jsonResult(map[string]string{"id": task.ID})
}

type createSubtaskParams struct {
	ParentID      string `json:"parent_id" jsonschema:"ID of the parent task"`
	Title         string `json:"title" jsonschema:"What this subtask does"`
	AssignedAgent string `json:"assigned_agent,omitempty" jsonschema:"Agent the work is delegated to, e.g. 'frontend-developer'"`
	Description   string `json:"description,omitempty" jsonschema:"Details about the subtask"`
}

func (s *Server) handleCreateSubtask(ctx context.Context, req *mcp.CallToolRequest, params createSubtaskParams) (*mcp.CallToolResult, any, error) {
	parent, err := s.store.GetTask(params.ParentID)
	if err != nil {
		return nil, nil, err
	}

	autoAccept := false
	source := "cli"
	if parent != nil {
		autoAccept = parent.AutoAccept
		source = parent.Source
	}

	task, err := s.store.CreateTask(taskstore.CreateTaskParams{
		Title:         params.Title,
		Description:   params.Description,
		ParentID:      params.ParentID,
		AssignedAgent: params.AssignedAgent,
		AutoAccept:    autoAccept,
		Source:        source,
	})
	if err != nil {
		return nil, nil, err
	}

	// Subtasks start pending; the orchestrator moves them to
	// in_progress when the delegated work begins.
	return jsonResult(map[string]string{
		"id":        task.ID,
		"parent_id": params.ParentID,
		"title":     params.Title,
	})
}

type updateStatusParams struct {
	TaskID string `json:"task_id" jsonschema:"Task ID to update"`
	Status string `json:"status" jsonschema:"New status: pending, in_progress, completed, failed, or blocked"`
	Result string `json:"result,omitempty" jsonschema:"Summary text when completing or failing a task"`
}

func (s *Server) handleUpdateStatus(ctx context.Context, req *mcp.CallToolRequest, params updateStatusParams) (*mcp.CallToolResult, any, error) {
	status := taskstore.TaskStatus(params.Status)
	if !taskstore.ValidStatus(status) {
		return errorResult("Invalid status: %s", params.Status)
	}

	update := taskstore.UpdateTaskParams{Status: &status}
	if params.Result != "" {
		update.Result = &params.Result
	}

	task, err := s.store.UpdateTask(params.TaskID, update)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return errorResult("Task %s not found", params.TaskID)
	}
	return jsonResult(task)
}

type updatePhaseParams struct {
	TaskID string `json:"task_id" jsonschema:"Root task ID"`
	Phase  string `json:"phase" jsonschema:"Phase name: planning, implementation, testing, review, evaluation, or completion"`
}

func (s *Server) handleUpdatePhase(ctx context.Context, req *mcp.CallToolRequest, params updatePhaseParams) (*mcp.CallToolResult, any, error) {
	task, err := s.store.UpdateTask(params.TaskID, taskstore.UpdateTaskParams{Phase: &params.Phase})
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return errorResult("Task %s not found", params.TaskID)
	}
	return jsonResult(task)
}

type logParams struct {
	TaskID  string `json:"task_id" jsonschema:"Task ID to log against"`
	Message string `json:"message" jsonschema:"Log message"`
	Agent   string `json:"agent,omitempty" jsonschema:"Agent that generated this log"`
}

func (s *Server) handleLog(ctx context.Context, req *mcp.CallToolRequest, params logParams) (*mcp.CallToolResult, any, error) {
	if err := s.store.LogActivity(params.TaskID, "message", params.Agent, params.Message, nil); err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"logged": true, "task_id": params.TaskID})
}

type askQuestionParams struct {
	TaskID       string   `json:"task_id" jsonschema:"Task this question is about"`
	Question     string   `json:"question" jsonschema:"The question text"`
	QuestionType string   `json:"question_type,omitempty" jsonschema:"Type of question: text, single, multiple, confirm, or plan_review"`
	Options      []string `json:"options,omitempty" jsonschema:"Options for single or multiple choice questions"`
	Context      string   `json:"context,omitempty" jsonschema:"Additional context for the question"`
	Agent        string   `json:"agent,omitempty" jsonschema:"Agent asking the question"`
}

func (s *Server) handleAskQuestion(ctx context.Context, req *mcp.CallToolRequest, params askQuestionParams) (*mcp.CallToolResult, any, error) {
	questionType := params.QuestionType
	if questionType == "" {
		questionType = "text"
	}

	task, err := s.store.GetTask(params.TaskID)
	if err != nil {
		return nil, nil, err
	}

	if task != nil && task.AutoAccept {
		answer := "yes"
		if questionType == "plan_review" {
			answer = "approved"
		}
		if len(params.Options) > 0 {
			answer = params.Options[0]
		}

		// Record the question anyway so the timeline shows what was
		// auto-approved.
		q, err := s.store.CreateQuestion(taskstore.CreateQuestionParams{
			TaskID:       params.TaskID,
			Question:     params.Question,
			Agent:        params.Agent,
			QuestionType: questionType,
			Options:      params.Options,
			Context:      params.Context,
		})
		if err != nil {
			return nil, nil, err
		}
		if _, err := s.store.AnswerQuestion(q.ID, answer, true); err != nil {
			return nil, nil, err
		}
		return jsonResult(map[string]any{"answer": answer, "auto_accepted": true})
	}

	q, err := s.store.CreateQuestion(taskstore.CreateQuestionParams{
		TaskID:       params.TaskID,
		Question:     params.Question,
		Agent:        params.Agent,
		QuestionType: questionType,
		Options:      params.Options,
		Context:      params.Context,
	})
	if err != nil {
		return nil, nil, err
	}

	blocked := taskstore.StatusBlocked
	if _, err := s.store.UpdateTask(params.TaskID, taskstore.UpdateTaskParams{Status: &blocked}); err != nil {
		return nil, nil, err
	}
	s.log.Info("waiting for answer", "task", params.TaskID, "question", q.ID)

	// Poll on this call's goroutine; the transport keeps serving other
	// tool calls meanwhile.
	deadline := time.Now().Add(questionTimeout)
	ticker := time.NewTicker(questionPollInterval)
	defer ticker.Stop()

	for {
		got, err := s.store.GetQuestion(q.ID)
		if err == nil && got != nil && got.Answer != nil {
			s.restoreInProgress(params.TaskID)
			return jsonResult(map[string]any{"answer": *got.Answer, "auto_accepted": false})
		}

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-ticker.C:
		}
	}

	if _, err := s.store.AnswerQuestion(q.ID, "[TIMEOUT - no answer received]", false); err != nil {
		s.log.Error("failed to record question timeout", "question", q.ID, "error", err)
	}
	s.restoreInProgress(params.TaskID)
	return jsonResult(map[string]any{"answer": "[TIMEOUT]", "auto_accepted": false, "timed_out": true})
}

// restoreInProgress moves a task out of blocked once no unanswered
// questions remain.
func (s *Server) restoreInProgress(taskID string) {
	pending, err := s.store.GetQuestions(taskID, true, false)
	if err != nil || len(pending) > 0 {
		return
	}
	status := taskstore.StatusInProgress
	if _, err := s.store.UpdateTask(taskID, taskstore.UpdateTaskParams{Status: &status}); err != nil {
		s.log.Error("failed to restore task status", "task", taskID, "error", err)
	}
}

type addArtifactParams struct {
	TaskID       string         `json:"task_id" jsonschema:"Task this artifact belongs to"`
	FilePath     string         `json:"file_path" jsonschema:"Path to the file, absolute or relative to the project root"`
	ArtifactType string         `json:"artifact_type,omitempty" jsonschema:"Type of artifact: screenshot, markdown_report, eval_report, or file"`
	Label        string         `json:"label,omitempty" jsonschema:"Display label; the filename is used when empty"`
	Metadata     map[string]any `json:"metadata,omitempty" jsonschema:"Optional structured data, e.g. eval scores"`
}

func (s *Server) handleAddArtifact(ctx context.Context, req *mcp.CallToolRequest, params addArtifactParams) (*mcp.CallToolResult, any, error) {
	task, err := s.store.GetTask(params.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return errorResult("Task %s not found", params.TaskID)
	}

	source := params.FilePath
	if !filepath.IsAbs(source) {
		source = filepath.Join(s.root, source)
	}
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return errorResult("File not found: %s", params.FilePath)
	}

	rootDir, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		rootDir = s.root
	}
	if !within(rootDir, resolved) {
		return errorResult("Access denied: file must be within the project directory")
	}

	label := params.Label
	if label == "" {
		label = filepath.Base(resolved)
	}

	// Snapshot into an artifact-scoped directory so the file survives
	// being overwritten by the next task.
	artifactID := uuid.New().String()[:8]
	destDir := filepath.Join(project.StatePath(s.root), "artifacts", artifactID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	dest := filepath.Join(destDir, filepath.Base(resolved))
	if err := copyFile(resolved, dest); err != nil {
		return nil, nil, fmt.Errorf("snapshotting artifact: %w", err)
	}

	artifact, err := s.store.CreateArtifact(taskstore.CreateArtifactParams{
		ID:           artifactID,
		TaskID:       params.TaskID,
		ArtifactType: params.ArtifactType,
		Label:        label,
		FilePath:     dest,
		MimeType:     mime.TypeByExtension(filepath.Ext(resolved)),
		Metadata:     params.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("artifact registered", "task", params.TaskID, "artifact", artifact.ID, "label", label)
	return jsonResult(artifact)
}

type getTaskParams struct {
	TaskID string `json:"task_id" jsonschema:"Task ID to retrieve"`
}

func (s *Server) handleGetTask(ctx context.Context, req *mcp.CallToolRequest, params getTaskParams) (*mcp.CallToolResult, any, error) {
	task, err := s.store.GetTask(params.TaskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return errorResult("Task %s not found", params.TaskID)
	}
	return jsonResult(task)
}

// jsonResult renders v as a JSON text block.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorResult reports a user-level failure as a normal result the
// model can read and recover from, not a protocol error.
func errorResult(format string, args ...any) (*mcp.CallToolResult, any, error) {
	return jsonResult(map[string]string{"error": fmt.Sprintf(format, args...)})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// within reports whether target sits at or below base.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
