// Package dashboard serves the task dashboard: a JSON API over the
// task store, an SSE event stream, agent process control, and managed
// dev servers. The UI, the runner, and MCP servers in other processes
// all share the same SQLite database.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/runner"
	"github.com/agentsmith-labs/agentsmith/internal/services"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

// DefaultPort is the dashboard's listen port unless configured.
const DefaultPort = 8420

// Server is the dashboard HTTP server.
type Server struct {
	store    *taskstore.Store
	runner   *runner.Manager
	services *services.Manager
	root     string
	host     string
	port     int
	logger   *slog.Logger
	notifier *notifier
}

// Config holds configuration for the dashboard server.
type Config struct {
	Store    *taskstore.Store
	Runner   *runner.Manager
	Services *services.Manager

	// Root is the project directory the dashboard manages.
	Root string
	Host string
	Port int

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// NewServer creates a dashboard server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return &Server{
		store:    cfg.Store,
		runner:   cfg.Runner,
		services: cfg.Services,
		root:     cfg.Root,
		host:     host,
		port:     port,
		logger:   logger,
		notifier: newNotifier(),
	}
}

// Handler builds the dashboard's HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)

	r.Get("/", s.handleIndex)
	r.Route("/api", func(api chi.Router) {
		api.Get("/tasks", s.handleListTasks)
		api.Post("/tasks", s.handleCreateTask)
		api.Route("/tasks/{taskID}", func(rt chi.Router) {
			rt.Get("/", s.handleGetTask)
			rt.Patch("/", s.handleUpdateTask)
			rt.Delete("/", s.handleDeleteTask)
			rt.Get("/activity", s.handleTaskActivity)
			rt.Get("/questions", s.handleTaskQuestions)
			rt.Get("/artifacts", s.handleTaskArtifacts)
			rt.Post("/questions/{questionID}/answer", s.handleAnswerQuestion)
			rt.Post("/run", s.handleRunTask)
			rt.Post("/cancel", s.handleCancelTask)
			rt.Get("/process", s.handleProcessStatus)
		})
		api.Get("/artifacts/{artifactID}", s.handleGetArtifact)
		api.Get("/artifacts/{artifactID}/content", s.handleArtifactContent)
		api.Get("/activity", s.handleRecentActivity)
		api.Get("/questions", s.handleAllQuestions)
		api.Get("/stats", s.handleStats)
		api.Get("/agents", s.handleListAgents)
		api.Get("/events", s.handleEvents)

		api.Get("/services", s.handleListServices)
		api.Route("/services/{serviceID}", func(sv chi.Router) {
			sv.Post("/start", s.handleStartService)
			sv.Post("/stop", s.handleStopService)
			sv.Post("/restart", s.handleRestartService)
			sv.Get("/logs", s.handleServiceLogs)
		})
	})

	return r
}

// Serve starts the dashboard and blocks until the context is
// cancelled. Orphaned agent processes from a previous run are
// reconciled first; running processes and services are terminated on
// the way out.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("starting dashboard", "addr", fmt.Sprintf("http://%s", addr))

	if err := s.runner.RecoverOrphans(); err != nil {
		s.logger.Warn("orphan recovery failed", "error", err)
	}

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg.Go(func() error {
		return s.watchAgents(egctx)
	})

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down dashboard...")
		return srv.Shutdown(shutdownCtx)
	})

	err := eg.Wait()

	s.services.Shutdown()
	s.runner.Shutdown()
	return err
}

// watchAgents watches the agents directory and pings event-stream
// clients so they refresh the agent list.
func (s *Server) watchAgents(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	agentsDir := filepath.Join(project.ClaudePath(s.root), "agents")
	if err := watcher.Add(agentsDir); err != nil {
		// No agents directory yet; the dashboard still works.
		s.logger.Warn("cannot watch agents directory", "dir", agentsDir, "error", err)
		<-ctx.Done()
		return nil
	}

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-watcher.Events:
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}

			// Debounce
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("agents changed", "file", event.Name)
				s.notifier.broadcast()
			})

		case err := <-watcher.Errors:
			s.logger.Error("watcher error", "error", err)
		}
	}
}
