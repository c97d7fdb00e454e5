package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"name":   "agentsmith dashboard",
		"api":    "/api",
		"events": "/api/events",
	})
}

// --- tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.GetRootTasks()
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(tasks))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		AutoAccept  bool   `json:"auto_accept"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.respondError(w, http.StatusBadRequest, "Task title is required")
		return
	}

	task, err := s.store.CreateTask(taskstore.CreateTaskParams{
		Title:       req.Title,
		Description: req.Description,
		AutoAccept:  req.AutoAccept,
		Source:      "dashboard",
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if task == nil {
		s.respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status        *string `json:"status"`
		Phase         *string `json:"phase"`
		Result        *string `json:"result"`
		AssignedAgent *string `json:"assigned_agent"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	params := taskstore.UpdateTaskParams{
		Phase:         req.Phase,
		Result:        req.Result,
		AssignedAgent: req.AssignedAgent,
	}
	if req.Status != nil {
		status := taskstore.TaskStatus(*req.Status)
		if !taskstore.ValidStatus(status) {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid status: %s", *req.Status))
			return
		}
		params.Status = &status
	}

	task, err := s.store.UpdateTask(chi.URLParam(r, "taskID"), params)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if task == nil {
		s.respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	ok, err := s.store.DeleteTask(taskID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !ok {
		s.respondError(w, http.StatusNotFound, "Task not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "task_id": taskID})
}

// --- activity, questions, artifacts ---

func (s *Server) handleTaskActivity(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.requireTask(w, taskID) {
		return
	}

	limit := intQuery(r, "limit", 50)
	includeChildren := boolQuery(r, "include_children", true)

	activity, err := s.store.GetActivity(taskID, limit, includeChildren)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(activity))
}

func (s *Server) handleTaskQuestions(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.requireTask(w, taskID) {
		return
	}

	pendingOnly := boolQuery(r, "pending_only", false)
	includeChildren := boolQuery(r, "include_children", true)

	questions, err := s.store.GetQuestions(taskID, pendingOnly, includeChildren)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(questions))
}

func (s *Server) handleTaskArtifacts(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if !s.requireTask(w, taskID) {
		return
	}

	artifacts, err := s.store.GetArtifacts(taskID, boolQuery(r, "include_children", true))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(artifacts))
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	questionID := chi.URLParam(r, "questionID")

	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	question, err := s.store.GetQuestion(questionID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if question == nil {
		s.respondError(w, http.StatusNotFound, "Question not found")
		return
	}
	if question.TaskID != taskID {
		s.respondError(w, http.StatusBadRequest, "Question does not belong to task")
		return
	}
	if question.Answered() {
		s.respondError(w, http.StatusBadRequest, "Question already answered")
		return
	}

	answered, err := s.store.AnswerQuestion(questionID, req.Answer, false)
	if err != nil {
		s.storeError(w, err)
		return
	}

	// A blocked task with no pending questions left goes back to work.
	task, err := s.store.GetTask(taskID)
	if err == nil && task != nil && task.Status == taskstore.StatusBlocked {
		pending, qerr := s.store.GetQuestions(taskID, true, false)
		if qerr == nil && len(pending) == 0 {
			status := taskstore.StatusInProgress
			if _, uerr := s.store.UpdateTask(taskID, taskstore.UpdateTaskParams{Status: &status}); uerr != nil {
				s.logger.Error("failed to unblock task", "task", taskID, "error", uerr)
			}
		}
	}

	s.respondJSON(w, http.StatusOK, answered)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.store.GetArtifact(chi.URLParam(r, "artifactID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if artifact == nil {
		s.respondError(w, http.StatusNotFound, "Artifact not found")
		return
	}
	s.respondJSON(w, http.StatusOK, artifact)
}

// handleArtifactContent streams an artifact file. Only files under the
// artifact snapshot directory or the project root are served; an
// artifact row pointing anywhere else gets a 403.
func (s *Server) handleArtifactContent(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.store.GetArtifact(chi.URLParam(r, "artifactID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if artifact == nil {
		s.respondError(w, http.StatusNotFound, "Artifact not found")
		return
	}

	path := artifact.FilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.root, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "Artifact file not found on disk")
		return
	}

	rootDir, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		rootDir = s.root
	}
	artifactsRoot := filepath.Join(project.StatePath(rootDir), "artifacts")
	if !within(artifactsRoot, resolved) && !within(rootDir, resolved) {
		s.respondError(w, http.StatusForbidden, "Access denied")
		return
	}

	mimeType := artifact.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(resolved)))
	http.ServeFile(w, r, resolved)
}

// --- global queries ---

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	since := int64Query(r, "since", 0)
	limit := intQuery(r, "limit", 50)

	var (
		activity []*taskstore.Activity
		err      error
	)
	if since > 0 {
		activity, err = s.store.GetActivitySince(since)
	} else {
		activity, err = s.store.GetRecentActivity(limit)
	}
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(activity))
}

func (s *Server) handleAllQuestions(w http.ResponseWriter, r *http.Request) {
	var (
		questions []*taskstore.Question
		err       error
	)
	if boolQuery(r, "pending_only", false) {
		questions, err = s.store.GetAllPendingQuestions()
	} else {
		questions, err = s.store.GetAllQuestions()
	}
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, orEmpty(questions))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, scanAgents(s.root))
}

// --- process control ---

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	task, err := s.store.GetTask(chi.URLParam(r, "taskID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if task == nil {
		s.respondError(w, http.StatusNotFound, "Task not found")
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("Use PM: %s", task.Title)
		if task.Description != "" {
			prompt += "\n\n" + task.Description
		}
	}

	if err := s.runner.Spawn(task.ID, prompt); err != nil {
		s.logger.Error("failed to spawn agent process", "task", task.ID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to spawn agent process")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "running", "task_id": task.ID})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	found, err := s.runner.Cancel(taskID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "No running process for task")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "task_id": taskID})
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.runner.GetStatus(chi.URLParam(r, "taskID")))
}

// --- services ---

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.services.List())
}

func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	if !s.services.Start(id) {
		if s.services.GetStatus(id) == nil {
			s.respondError(w, http.StatusNotFound, "Service not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "Failed to start service")
		return
	}
	s.respondJSON(w, http.StatusOK, s.services.GetStatus(id))
}

func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	ok := s.services.Stop(id)
	state := s.services.GetStatus(id)
	if !ok && state == nil {
		s.respondError(w, http.StatusNotFound, "Service not found")
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleRestartService(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	if !s.services.Restart(id) {
		if s.services.GetStatus(id) == nil {
			s.respondError(w, http.StatusNotFound, "Service not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "Failed to restart service")
		return
	}
	s.respondJSON(w, http.StatusOK, s.services.GetStatus(id))
}

func (s *Server) handleServiceLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serviceID")
	if s.services.GetStatus(id) == nil {
		s.respondError(w, http.StatusNotFound, "Service not found")
		return
	}
	limit := intQuery(r, "limit", 200)
	s.respondJSON(w, http.StatusOK, map[string][]string{"logs": s.services.Logs(id, limit)})
}

// --- helpers ---

// requireTask writes a 404 and returns false when the task does not
// exist.
func (s *Server) requireTask(w http.ResponseWriter, taskID string) bool {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		s.storeError(w, err)
		return false
	}
	if task == nil {
		s.respondError(w, http.StatusNotFound, "Task not found")
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", "error", err)
	s.respondError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func int64Query(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(r *http.Request, key string, def bool) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// orEmpty keeps JSON list responses as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// within reports whether target sits at or below base.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}
