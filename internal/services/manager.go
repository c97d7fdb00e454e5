package services

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/agentsmith-labs/agentsmith/internal/project"
)

// ansiEscape matches SGR color codes, which dev servers emit freely.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

const (
	maxLogLines = 500
	stopGrace   = 5 * time.Second
)

// Service lifecycle states.
const (
	StatusStopped  = "stopped"
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusFailed   = "failed"
)

// State is the runtime view of a managed service.
type State struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
	Port    int    `json:"port,omitempty"`
	Status  string `json:"status"`
	PID     int    `json:"pid,omitempty"`
	Uptime  int64  `json:"uptime,omitempty"`
}

type managed struct {
	Service
	status  string
	cmd     *exec.Cmd
	pid     int
	started time.Time
	logs    ringBuffer
	done    chan struct{}
}

// Manager supervises the dev-server processes declared in the project
// services manifest. Configuration is read once at construction.
type Manager struct {
	root string
	log  *slog.Logger

	mu       sync.Mutex
	services map[string]*managed
	order    []string
}

// NewManager loads the services manifest under root's state directory.
// A missing or unreadable manifest yields a manager with no services,
// not an error; the dashboard runs fine without dev servers.
func NewManager(root string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		root:     root,
		log:      log,
		services: make(map[string]*managed),
	}

	cfg, err := LoadConfig(project.StatePath(root))
	if err != nil {
		m.log.Warn("failed to read services manifest", "error", err)
		return m
	}
	for _, svc := range cfg.Services {
		if svc.ID == "" {
			continue
		}
		entry := &managed{Service: svc, status: StatusStopped}
		if entry.Name == "" {
			entry.Name = entry.ID
		}
		if entry.Cwd == "" {
			entry.Cwd = "."
		}
		entry.logs.max = maxLogLines
		m.services[svc.ID] = entry
		m.order = append(m.order, svc.ID)
	}
	if len(m.order) > 0 {
		m.log.Info("loaded services manifest", "count", len(m.order))
	}
	return m
}

// Start launches a service through the shell. Reports false for
// unknown services and spawn failures; an already-running service is
// left alone and reported as success.
func (m *Manager) Start(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc := m.services[id]
	if svc == nil {
		return false
	}
	if svc.status == StatusStarting || svc.status == StatusRunning {
		return true
	}

	svc.status = StatusStarting
	svc.logs.clear()

	cwd := filepath.Join(m.root, svc.Cwd)
	if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
		svc.status = StatusFailed
		svc.logs.append(fmt.Sprintf("[service-manager] cwd does not exist: %s", cwd))
		return false
	}

	pr, pw := io.Pipe()
	cmd := exec.Command("/bin/sh", "-c", svc.Command)
	cmd.Dir = cwd
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		svc.status = StatusFailed
		svc.logs.append(fmt.Sprintf("[service-manager] failed to start: %v", err))
		m.log.Error("failed to start service", "service", id, "error", err)
		return false
	}

	svc.cmd = cmd
	svc.pid = cmd.Process.Pid
	svc.started = time.Now()
	svc.status = StatusRunning
	svc.done = make(chan struct{})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			svc.logs.append(ansiEscape.ReplaceAllString(scanner.Text(), ""))
		}
		if err := scanner.Err(); err != nil {
			svc.logs.append(fmt.Sprintf("[service-manager] reader error: %v", err))
		}
	}()
	go m.supervise(svc, cmd, pw, readerDone)

	m.log.Info("started service", "service", id, "pid", svc.pid)
	return true
}

// supervise waits for the process and records how it ended. An
// explicit Stop overwrites the status afterwards; a self-exit leaves
// the last PID visible until the next start.
func (m *Manager) supervise(svc *managed, cmd *exec.Cmd, pw *io.PipeWriter, readerDone chan struct{}) {
	_ = cmd.Wait()
	pw.Close()
	<-readerDone

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	m.mu.Lock()
	if code != 0 {
		svc.status = StatusFailed
		svc.logs.append(fmt.Sprintf("[service-manager] exited with code %d", code))
	} else if svc.status == StatusRunning {
		svc.status = StatusStopped
	}
	done := svc.done
	m.mu.Unlock()

	close(done)
}

// Stop terminates a service, escalating to SIGKILL after the grace
// period. Reports false when the service is unknown or has no process.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	svc := m.services[id]
	if svc == nil || svc.cmd == nil {
		m.mu.Unlock()
		return false
	}
	if svc.status == StatusStopped {
		m.mu.Unlock()
		return true
	}
	cmd := svc.cmd
	done := svc.done
	m.mu.Unlock()

	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(stopGrace):
		_ = cmd.Process.Kill()
		<-done
	}

	m.mu.Lock()
	svc.status = StatusStopped
	svc.cmd = nil
	svc.pid = 0
	svc.started = time.Time{}
	svc.done = nil
	m.mu.Unlock()

	m.log.Info("stopped service", "service", id)
	return true
}

// Restart stops then starts a service.
func (m *Manager) Restart(id string) bool {
	m.Stop(id)
	return m.Start(id)
}

// GetStatus returns the current state of a service, or nil when the
// ID is not configured.
func (m *Manager) GetStatus(id string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc := m.services[id]
	if svc == nil {
		return nil
	}
	state := m.snapshot(svc)
	return &state
}

// Logs returns up to limit recent log lines for a service. A limit of
// zero or less returns the whole buffer.
func (m *Manager) Logs(id string, limit int) []string {
	m.mu.Lock()
	svc := m.services[id]
	m.mu.Unlock()

	if svc == nil {
		return []string{}
	}
	return svc.logs.tail(limit)
}

// List returns all services in manifest order.
func (m *Manager) List() []State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]State, 0, len(m.order))
	for _, id := range m.order {
		states = append(states, m.snapshot(m.services[id]))
	}
	return states
}

// HasServices reports whether the manifest declared any services.
func (m *Manager) HasServices() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.services) > 0
}

// Shutdown stops every running service.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.Unlock()

	for _, id := range ids {
		m.Stop(id)
	}
	m.log.Info("all services shut down")
}

// snapshot serializes a service. Callers hold m.mu.
func (m *Manager) snapshot(svc *managed) State {
	state := State{
		ID:      svc.ID,
		Name:    svc.Name,
		Command: svc.Command,
		Cwd:     svc.Cwd,
		Port:    svc.Port,
		Status:  svc.status,
		PID:     svc.pid,
	}
	if !svc.started.IsZero() {
		state.Uptime = int64(time.Since(svc.started).Round(time.Second).Seconds())
	}
	return state
}

// ringBuffer keeps the most recent log lines for a service.
type ringBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func (r *ringBuffer) append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.max > 0 && len(r.lines) > r.max {
		// Shift instead of reslicing so the backing array does not
		// pin every line ever logged.
		n := copy(r.lines, r.lines[len(r.lines)-r.max:])
		r.lines = r.lines[:n]
	}
}

func (r *ringBuffer) tail(limit int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := 0
	if limit > 0 && len(r.lines) > limit {
		start = len(r.lines) - limit
	}
	out := make([]string, len(r.lines)-start)
	copy(out, r.lines[start:])
	return out
}

func (r *ringBuffer) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = r.lines[:0]
}
