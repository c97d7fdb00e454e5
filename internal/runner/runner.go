// Package runner spawns and supervises headless agent processes
// working on dashboard tasks. Each process runs the agent CLI in
// non-interactive mode, streams its output into the task's activity
// log, and has its PID persisted so a restarted server can recover or
// cancel work it no longer holds a handle to.
package runner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

const killGrace = 5 * time.Second

// Manager tracks the agent processes spawned for tasks.
type Manager struct {
	store   *taskstore.Store
	root    string
	command string
	log     *slog.Logger

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd       *exec.Cmd
	pid       int
	done      chan struct{}
	exitCode  atomic.Int64
	cancelled atomic.Bool
}

// New creates a Manager that runs processes in the project directory
// root. command is the agent CLI binary, "claude" unless configured
// otherwise. A nil logger discards output.
func New(store *taskstore.Store, root, command string, log *slog.Logger) *Manager {
	if command == "" {
		command = "claude"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:   store,
		root:    root,
		command: command,
		log:     log,
		procs:   make(map[string]*proc),
	}
}

// agentName labels activity entries produced by the spawned process.
func (m *Manager) agentName() string {
	return filepath.Base(m.command)
}

const promptPreamble = `You have been assigned task ID: %s.

FIRST: Read the file .claude/agents/orchestrator.md - it contains your full workflow instructions including how to use the task MCP tools, create subtasks, update phases, and delegate work to specialist agents.

Follow the orchestrator workflow exactly as described in that file. Use task_register to register/resume this task, then follow all phases: planning (with task_ask_question for approval), implementation (with task_create_subtask before each delegation), testing, review, and completion.

%s`

// Spawn starts an agent process for the task and supervises it in the
// background. The task is marked in_progress with the process PID.
func (m *Manager) Spawn(taskID, prompt string) error {
	m.mu.Lock()
	if _, running := m.procs[taskID]; running {
		m.mu.Unlock()
		return fmt.Errorf("a process is already running for task %s", taskID)
	}
	m.mu.Unlock()

	dbPath, err := filepath.Abs(m.store.Path())
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}

	fullPrompt := fmt.Sprintf(promptPreamble, taskID, prompt)

	args := []string{"-p", fullPrompt, "--verbose", "--output-format", "stream-json"}
	if cfgPath, err := m.writeMCPConfig(); err == nil && cfgPath != "" {
		args = append(args, "--mcp-config", cfgPath)
	} else if err != nil {
		m.log.Warn("could not prepare mcp config", "error", err)
	}
	if tools := m.allowedTools(); len(tools) > 0 {
		args = append(args, "--allowedTools", joinTools(tools))
	}

	cmd := exec.Command(m.command, args...)
	cmd.Dir = m.root
	cmd.Env = append(os.Environ(),
		project.EnvTaskID+"="+taskID,
		project.EnvDBPath+"="+dbPath,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		result := fmt.Sprintf("Spawn error: %v", err)
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			result = fmt.Sprintf("Agent CLI not found: %s", m.command)
		}
		if _, uerr := m.store.UpdateTask(taskID, failedUpdate(result)); uerr != nil {
			m.log.Error("could not mark task failed", "task", taskID, "error", uerr)
		}
		return fmt.Errorf("starting agent process: %w", err)
	}

	p := &proc{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	m.mu.Lock()
	m.procs[taskID] = p
	m.mu.Unlock()

	status := taskstore.StatusInProgress
	if _, err := m.store.UpdateTask(taskID, taskstore.UpdateTaskParams{Status: &status, PID: &p.pid}); err != nil {
		m.log.Error("could not mark task in_progress", "task", taskID, "error", err)
	}
	m.logMessage(taskID, "", fmt.Sprintf("Agent process started (PID %d)", p.pid))

	m.log.Info("spawned agent process", "task", taskID, "pid", p.pid)

	go m.monitor(taskID, p, stdout, &stderr)
	return nil
}

// monitor streams process output into the activity log, then records
// the exit outcome. Cancellation paths own their task updates; the
// monitor skips its own when the cancelled flag is set.
func (m *Manager) monitor(taskID string, p *proc, stdout io.Reader, stderr *bytes.Buffer) {
	scanner := bufio.NewScanner(stdout)
	// Single stream-json lines can carry whole tool results; the
	// default 64KB token limit is far too small.
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		m.logStreamLine(taskID, line)
	}
	if err := scanner.Err(); err != nil {
		m.log.Warn("stream read error", "task", taskID, "error", err)
	}

	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	p.exitCode.Store(int64(code))

	if !p.cancelled.Load() {
		if err == nil && code == 0 {
			m.recordSuccess(taskID)
		} else {
			m.recordFailure(taskID, code, stderr.String())
		}
	}

	// Clearing the PID is idempotent with the cancel paths.
	zero := 0
	if _, err := m.store.UpdateTask(taskID, taskstore.UpdateTaskParams{PID: &zero}); err != nil {
		m.log.Error("could not clear task pid", "task", taskID, "error", err)
	}

	m.mu.Lock()
	delete(m.procs, taskID)
	m.mu.Unlock()
	close(p.done)
}

func (m *Manager) recordSuccess(taskID string) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		m.log.Error("could not load task after exit", "task", taskID, "error", err)
		return
	}

	phase := "completion"
	if task != nil && task.Status != taskstore.StatusCompleted {
		status := taskstore.StatusCompleted
		result := "Process completed successfully"
		_, err = m.store.UpdateTask(taskID, taskstore.UpdateTaskParams{
			Status: &status, Phase: &phase, Result: &result,
		})
	} else if task != nil && task.Phase != phase {
		// The agent already set a final status; only the phase is stale.
		_, err = m.store.UpdateTask(taskID, taskstore.UpdateTaskParams{Phase: &phase})
	}
	if err != nil {
		m.log.Error("could not record completion", "task", taskID, "error", err)
	}
	m.logMessage(taskID, "", "Agent process completed")
}

func (m *Manager) recordFailure(taskID string, code int, stderrOut string) {
	tail := stderrOut
	if len(tail) > 500 {
		tail = tail[len(tail)-500:]
	}
	result := strings.TrimSpace(fmt.Sprintf("Process exited with code %d. %s", code, tail))
	if _, err := m.store.UpdateTask(taskID, failedUpdate(result)); err != nil {
		m.log.Error("could not record failure", "task", taskID, "error", err)
	}
	if err := m.store.LogActivity(taskID, "error", "", fmt.Sprintf("Process failed (exit code %d)", code), nil); err != nil {
		m.log.Error("could not log failure", "task", taskID, "error", err)
	}
}

// Cancel terminates the process working on a task. Orphaned processes
// recorded in the database are killed by PID. Reports whether any
// process or stale PID was found.
func (m *Manager) Cancel(taskID string) (bool, error) {
	m.mu.Lock()
	p := m.procs[taskID]
	m.mu.Unlock()

	if p != nil {
		p.cancelled.Store(true)
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(killGrace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}

		if err := m.markCancelled(taskID, "Process cancelled by user"); err != nil {
			return true, err
		}
		m.log.Info("cancelled agent process", "task", taskID)
		return true, nil
	}

	// Fallback: PID-based cancel for processes a previous server spawned.
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return false, err
	}
	if task == nil || task.PID == 0 {
		return false, nil
	}

	if pidAlive(task.PID) {
		_ = syscall.Kill(task.PID, syscall.SIGTERM)
		time.Sleep(2 * time.Second)
		if pidAlive(task.PID) {
			_ = syscall.Kill(task.PID, syscall.SIGKILL)
		}
		if err := m.markCancelled(taskID, "Orphaned process cancelled by user"); err != nil {
			return true, err
		}
		m.log.Info("cancelled orphaned process", "task", taskID, "pid", task.PID)
		return true, nil
	}

	// Stale PID with no live process: just clear it.
	zero := 0
	status := taskstore.StatusFailed
	result := "Cancelled by user"
	_, err = m.store.UpdateTask(taskID, taskstore.UpdateTaskParams{Status: &status, Result: &result, PID: &zero})
	return true, err
}

func (m *Manager) markCancelled(taskID, message string) error {
	if _, err := m.store.UpdateTask(taskID, failedUpdate("Cancelled by user")); err != nil {
		return err
	}
	m.logMessage(taskID, "", message)
	return nil
}

// RecoverOrphans handles tasks left in_progress by a previous server.
// Live processes are left running with a note in the activity log;
// dead ones are marked failed.
func (m *Manager) RecoverOrphans() error {
	orphans, err := m.store.GetOrphanedTasks()
	if err != nil {
		return err
	}

	for _, task := range orphans {
		if pidAlive(task.PID) {
			m.log.Warn("orphaned process still alive, cancel from the dashboard if needed",
				"task", task.ID, "pid", task.PID)
			m.logMessage(task.ID, "", fmt.Sprintf("Server restarted, orphaned process (PID %d) still alive", task.PID))
			continue
		}

		m.log.Info("orphaned process is dead, marking failed", "task", task.ID, "pid", task.PID)
		if _, err := m.store.UpdateTask(task.ID, failedUpdate(fmt.Sprintf("Process (PID %d) died during server restart", task.PID))); err != nil {
			return err
		}
		m.logMessage(task.ID, "", fmt.Sprintf("Server restarted, process (PID %d) no longer running, marked failed", task.PID))
	}

	return nil
}

// Shutdown terminates all running processes, giving each the kill
// grace period to exit cleanly.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	running := make(map[string]*proc, len(m.procs))
	for id, p := range m.procs {
		running[id] = p
	}
	m.mu.Unlock()

	if len(running) == 0 {
		return
	}
	m.log.Info("shutting down running agent processes", "count", len(running))

	for _, p := range running {
		p.cancelled.Store(true)
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}

	deadline := time.After(killGrace)
	for _, p := range running {
		select {
		case <-p.done:
		case <-deadline:
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	}

	for taskID := range running {
		if _, err := m.store.UpdateTask(taskID, failedUpdate("Server shutting down")); err != nil {
			m.log.Error("could not mark task failed", "task", taskID, "error", err)
		}
		m.logMessage(taskID, "", "Process terminated by server shutdown")
	}
}

// Status describes the process state for a task.
type Status struct {
	State    string `json:"status"`
	PID      int    `json:"pid,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Orphaned bool   `json:"orphaned,omitempty"`
}

// GetStatus reports the process status for a task: running, completed,
// failed, or not_found. Orphaned processes are detected through the
// stored PID.
func (m *Manager) GetStatus(taskID string) Status {
	m.mu.Lock()
	p := m.procs[taskID]
	m.mu.Unlock()

	if p != nil {
		select {
		case <-p.done:
			code := int(p.exitCode.Load())
			if code == 0 {
				return Status{State: "completed", PID: p.pid}
			}
			return Status{State: "failed", PID: p.pid, ExitCode: code}
		default:
			return Status{State: "running", PID: p.pid}
		}
	}

	task, err := m.store.GetTask(taskID)
	if err == nil && task != nil && task.Status == taskstore.StatusInProgress && task.PID > 0 && pidAlive(task.PID) {
		return Status{State: "running", PID: task.PID, Orphaned: true}
	}

	return Status{State: "not_found"}
}

// ListRunning returns the task IDs with live processes, including
// orphans from a previous server.
func (m *Manager) ListRunning() []string {
	seen := make(map[string]bool)
	var ids []string

	m.mu.Lock()
	for id := range m.procs {
		seen[id] = true
		ids = append(ids, id)
	}
	m.mu.Unlock()

	orphans, err := m.store.GetOrphanedTasks()
	if err != nil {
		m.log.Error("could not list orphaned tasks", "error", err)
		return ids
	}
	for _, task := range orphans {
		if !seen[task.ID] && pidAlive(task.PID) {
			ids = append(ids, task.ID)
		}
	}

	return ids
}

func (m *Manager) logMessage(taskID, agent, message string) {
	if err := m.store.LogActivity(taskID, "message", agent, message, nil); err != nil {
		m.log.Error("could not log activity", "task", taskID, "error", err)
	}
}

func failedUpdate(result string) taskstore.UpdateTaskParams {
	status := taskstore.StatusFailed
	zero := 0
	return taskstore.UpdateTaskParams{Status: &status, Result: &result, PID: &zero}
}

// pidAlive reports whether a process exists without signalling it.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, syscall.Signal(0))
	if err == nil {
		return true
	}
	// The process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
