package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
	"github.com/agentsmith-labs/agentsmith/internal/testutil"
)

func setupServer(t *testing.T) (*Server, *taskstore.Store, string) {
	t.Helper()

	root := t.TempDir()
	store, err := taskstore.Open(filepath.Join(project.StatePath(root), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(store, root, "test", testutil.NewTestLogger(t))
	return srv, store, root
}

// resultJSON decodes the JSON text block a tool handler returned.
func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "tool results carry a single text block")

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &v))
	return v
}

func overrideQuestionTiming(t *testing.T, timeout, poll time.Duration) {
	t.Helper()
	oldTimeout, oldPoll := questionTimeout, questionPollInterval
	questionTimeout, questionPollInterval = timeout, poll
	t.Cleanup(func() { questionTimeout, questionPollInterval = oldTimeout, oldPoll })
}

// =============================================================================
// task_register
// =============================================================================

func TestRegisterCreatesRootTask(t *testing.T) {
	srv, store, _ := setupServer(t)
	t.Setenv(project.EnvTaskID, "")

	res, _, err := srv.handleRegister(context.Background(), nil, registerParams{
		Title:       "Build user authentication",
		Description: "JWT plus refresh tokens",
	})
	require.NoError(t, err)

	id, _ := resultJSON(t, res)["id"].(string)
	require.NotEmpty(t, id)

	task, err := store.GetTask(id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "Build user authentication", task.Title)
	assert.Equal(t, "orchestrator", task.AssignedAgent)
	assert.Equal(t, "cli", task.Source)
	assert.Equal(t, taskstore.StatusInProgress, task.Status)
}

func TestRegisterResumesDashboardTask(t *testing.T) {
	srv, store, _ := setupServer(t)

	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "Spawned from UI", Source: "dashboard"})
	require.NoError(t, err)
	t.Setenv(project.EnvTaskID, task.ID)

	res, _, err := srv.handleRegister(context.Background(), nil, registerParams{Title: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, task.ID, resultJSON(t, res)["id"])

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, got.Status)
	assert.Equal(t, "Spawned from UI", got.Title, "resume keeps the dashboard title")

	activity, err := store.GetActivity(task.ID, 50, false)
	require.NoError(t, err)
	var started bool
	for _, a := range activity {
		if a.Message == "Orchestrator started" && a.Agent == "orchestrator" {
			started = true
		}
	}
	assert.True(t, started, "resume logs an orchestrator-started entry")
}

func TestRegisterFallsBackWhenEnvTaskGone(t *testing.T) {
	srv, store, _ := setupServer(t)
	t.Setenv(project.EnvTaskID, "zzzzzzzz")

	res, _, err := srv.handleRegister(context.Background(), nil, registerParams{Title: "fresh start"})
	require.NoError(t, err)

	id, _ := resultJSON(t, res)["id"].(string)
	require.NotEmpty(t, id)
	assert.NotEqual(t, "zzzzzzzz", id)

	task, err := store.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, "fresh start", task.Title)
}

// =============================================================================
// task_create_subtask
// =============================================================================

func TestCreateSubtaskInheritsFromParent(t *testing.T) {
	srv, store, _ := setupServer(t)

	parent, err := store.CreateTask(taskstore.CreateTaskParams{
		Title:      "parent",
		AutoAccept: true,
		Source:     "dashboard",
	})
	require.NoError(t, err)

	res, _, err := srv.handleCreateSubtask(context.Background(), nil, createSubtaskParams{
		ParentID:      parent.ID,
		Title:         "wire the API",
		AssignedAgent: "backend-developer",
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, parent.ID, out["parent_id"])

	id, _ := out["id"].(string)
	sub, err := store.GetTask(id)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, taskstore.StatusPending, sub.Status)
	assert.Equal(t, "backend-developer", sub.AssignedAgent)
	assert.True(t, sub.AutoAccept, "inherits auto_accept")
	assert.Equal(t, "dashboard", sub.Source, "inherits source")

	got, err := store.GetTask(parent.ID)
	require.NoError(t, err)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "wire the API", got.Children[0].Title)
}

// =============================================================================
// task_update_status / task_update_phase / task_log
// =============================================================================

func TestUpdateStatus(t *testing.T) {
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "work"})
	require.NoError(t, err)

	res, _, err := srv.handleUpdateStatus(context.Background(), nil, updateStatusParams{
		TaskID: task.ID,
		Status: "completed",
		Result: "All done",
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.Equal(t, "All done", out["result"])

	res, _, err = srv.handleUpdateStatus(context.Background(), nil, updateStatusParams{
		TaskID: task.ID,
		Status: "bogus",
	})
	require.NoError(t, err)
	assert.Equal(t, "Invalid status: bogus", resultJSON(t, res)["error"])

	res, _, err = srv.handleUpdateStatus(context.Background(), nil, updateStatusParams{
		TaskID: "zzzzzzzz",
		Status: "completed",
	})
	require.NoError(t, err)
	assert.Equal(t, "Task zzzzzzzz not found", resultJSON(t, res)["error"])
}

func TestUpdatePhase(t *testing.T) {
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "work"})
	require.NoError(t, err)

	res, _, err := srv.handleUpdatePhase(context.Background(), nil, updatePhaseParams{
		TaskID: task.ID,
		Phase:  "testing",
	})
	require.NoError(t, err)
	assert.Equal(t, "testing", resultJSON(t, res)["phase"])

	res, _, err = srv.handleUpdatePhase(context.Background(), nil, updatePhaseParams{
		TaskID: "zzzzzzzz",
		Phase:  "testing",
	})
	require.NoError(t, err)
	assert.Contains(t, resultJSON(t, res)["error"], "not found")
}

func TestLog(t *testing.T) {
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "work"})
	require.NoError(t, err)

	res, _, err := srv.handleLog(context.Background(), nil, logParams{
		TaskID:  task.ID,
		Message: "Starting on the parser",
		Agent:   "grind",
	})
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, res)["logged"])

	activity, err := store.GetActivity(task.ID, 10, false)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, "Starting on the parser", activity[0].Message)
	assert.Equal(t, "grind", activity[0].Agent)
	assert.Equal(t, "message", activity[0].EventType)
}

// =============================================================================
// task_ask_question
// =============================================================================

func TestAskQuestionAutoAccept(t *testing.T) {
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "trusted", AutoAccept: true})
	require.NoError(t, err)

	res, _, err := srv.handleAskQuestion(context.Background(), nil, askQuestionParams{
		TaskID:       task.ID,
		Question:     "Approve this plan?",
		QuestionType: "plan_review",
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "approved", out["answer"])
	assert.Equal(t, true, out["auto_accepted"])

	res, _, err = srv.handleAskQuestion(context.Background(), nil, askQuestionParams{
		TaskID:   task.ID,
		Question: "Which framework?",
		Options:  []string{"chi", "echo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chi", resultJSON(t, res)["answer"], "first option wins")

	questions, err := store.GetQuestions(task.ID, false, false)
	require.NoError(t, err)
	require.Len(t, questions, 2, "auto-accepted questions still land in the timeline")
	for _, q := range questions {
		assert.True(t, q.AutoAccepted)
		assert.NotNil(t, q.Answer)
	}

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.NotEqual(t, taskstore.StatusBlocked, got.Status, "auto-accept never blocks the task")
}

func TestAskQuestionWaitsForAnswer(t *testing.T) {
	overrideQuestionTiming(t, 10*time.Second, 20*time.Millisecond)
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "careful"})
	require.NoError(t, err)

	observed := make(chan taskstore.TaskStatus, 1)
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			pending, err := store.GetQuestions(task.ID, true, false)
			if err == nil && len(pending) == 1 {
				blocked, _ := store.GetTask(task.ID)
				observed <- blocked.Status
				store.AnswerQuestion(pending[0].ID, "use postgres", false)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		close(observed)
	}()

	res, _, err := srv.handleAskQuestion(context.Background(), nil, askQuestionParams{
		TaskID:   task.ID,
		Question: "Which database?",
		Agent:    "orchestrator",
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "use postgres", out["answer"])
	assert.Equal(t, false, out["auto_accepted"])

	status, ok := <-observed
	require.True(t, ok, "the question never appeared")
	assert.Equal(t, taskstore.StatusBlocked, status, "task blocks while waiting")

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, got.Status, "task resumes once answered")
}

func TestAskQuestionTimeout(t *testing.T) {
	overrideQuestionTiming(t, 60*time.Millisecond, 10*time.Millisecond)
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "ignored"})
	require.NoError(t, err)

	res, _, err := srv.handleAskQuestion(context.Background(), nil, askQuestionParams{
		TaskID:   task.ID,
		Question: "Anyone there?",
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "[TIMEOUT]", out["answer"])
	assert.Equal(t, true, out["timed_out"])

	questions, err := store.GetQuestions(task.ID, false, false)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	require.NotNil(t, questions[0].Answer)
	assert.Equal(t, "[TIMEOUT - no answer received]", *questions[0].Answer)

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, got.Status)
}

func TestAskQuestionCancelled(t *testing.T) {
	overrideQuestionTiming(t, 10*time.Second, 10*time.Millisecond)
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "abandoned"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err = srv.handleAskQuestion(ctx, nil, askQuestionParams{
		TaskID:   task.ID,
		Question: "Still with me?",
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// task_add_artifact / task_get
// =============================================================================

func TestAddArtifactSnapshots(t *testing.T) {
	srv, store, root := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "producer"})
	require.NoError(t, err)

	source := filepath.Join(root, "shot.png")
	require.NoError(t, os.WriteFile(source, []byte("png bytes"), 0o644))

	res, _, err := srv.handleAddArtifact(context.Background(), nil, addArtifactParams{
		TaskID:       task.ID,
		FilePath:     "shot.png",
		ArtifactType: "screenshot",
		Metadata:     map[string]any{"viewport": "1280x800"},
	})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, "shot.png", out["label"], "label defaults to the filename")
	assert.Equal(t, "image/png", out["mime_type"])

	storedPath, _ := out["file_path"].(string)
	require.NotEmpty(t, storedPath)
	assert.True(t, strings.HasPrefix(storedPath, filepath.Join(project.StatePath(root), "artifacts")),
		"snapshot lands under the state directory, got %s", storedPath)

	// Overwriting the source must not change the snapshot.
	require.NoError(t, os.WriteFile(source, []byte("different bytes"), 0o644))
	snap, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(snap))

	artifacts, err := store.GetArtifacts(task.ID, false)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "screenshot", artifacts[0].ArtifactType)
	assert.Equal(t, "1280x800", artifacts[0].Metadata["viewport"])
}

func TestAddArtifactValidation(t *testing.T) {
	srv, store, root := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "producer"})
	require.NoError(t, err)

	res, _, err := srv.handleAddArtifact(context.Background(), nil, addArtifactParams{
		TaskID:   "zzzzzzzz",
		FilePath: "anything.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "Task zzzzzzzz not found", resultJSON(t, res)["error"])

	res, _, err = srv.handleAddArtifact(context.Background(), nil, addArtifactParams{
		TaskID:   task.ID,
		FilePath: "missing.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "File not found: missing.txt", resultJSON(t, res)["error"])

	outside := filepath.Join(t.TempDir(), "escape.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0o644))
	res, _, err = srv.handleAddArtifact(context.Background(), nil, addArtifactParams{
		TaskID:   task.ID,
		FilePath: outside,
	})
	require.NoError(t, err)
	assert.Equal(t, "Access denied: file must be within the project directory", resultJSON(t, res)["error"])

	_ = root
}

func TestGetTask(t *testing.T) {
	srv, store, _ := setupServer(t)
	task, err := store.CreateTask(taskstore.CreateTaskParams{Title: "inspect me"})
	require.NoError(t, err)
	_, err = store.CreateTask(taskstore.CreateTaskParams{Title: "child", ParentID: task.ID})
	require.NoError(t, err)

	res, _, err := srv.handleGetTask(context.Background(), nil, getTaskParams{TaskID: task.ID})
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.Equal(t, task.ID, out["id"])
	children, _ := out["children"].([]any)
	assert.Len(t, children, 1)

	res, _, err = srv.handleGetTask(context.Background(), nil, getTaskParams{TaskID: "zzzzzzzz"})
	require.NoError(t, err)
	assert.Equal(t, "Task zzzzzzzz not found", resultJSON(t, res)["error"])
}
