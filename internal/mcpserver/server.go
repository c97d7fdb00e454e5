// Package mcpserver exposes the task store to agent processes as MCP
// tools over stdio. A spawned orchestrator calls these tools to
// register its task, fan out subtasks, report progress, ask the user
// blocking questions, and attach artifacts; the dashboard observes all
// of it through the shared database.
package mcpserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

// Question polling: an agent blocks on task_ask_question until the
// user answers in the dashboard, up to this long. Vars rather than
// consts so tests can shrink them.
var (
	questionTimeout      = 30 * time.Minute
	questionPollInterval = 2 * time.Second
)

// Server hosts the task tools for one project.
type Server struct {
	store   *taskstore.Store
	root    string
	version string
	log     *slog.Logger
}

// NewServer creates an MCP server backed by store, resolving relative
// artifact paths against root. The logger must not write to stdout;
// the stdio transport owns it. A nil logger discards output.
func NewServer(store *taskstore.Store, root, version string, log *slog.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{store: store, root: root, version: version, log: log}
}

// Run serves the tools over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "agentsmith",
		Version: s.version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_register",
		Description: "Register the root task for this orchestration run. Call this at the start of the workflow. " +
			"A process spawned from the dashboard resumes its pre-assigned task; otherwise a new root task is created. " +
			"Returns the task ID to use for all other task tools.",
	}, s.handleRegister)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_create_subtask",
		Description: "Create a subtask under a parent task. Call this before delegating work to a specialist agent. " +
			"The subtask starts pending and inherits the parent's auto-accept setting.",
	}, s.handleCreateSubtask)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_update_status",
		Description: "Update a task's status (pending, in_progress, completed, failed, blocked), " +
			"with an optional result summary when completing or failing.",
	}, s.handleUpdateStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_update_phase",
		Description: "Update the root task's pipeline phase " +
			"(planning, implementation, testing, review, evaluation, completion).",
	}, s.handleUpdatePhase)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "task_log",
		Description: "Log an activity message that shows up in the task's dashboard timeline.",
	}, s.handleLog)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_ask_question",
		Description: "Ask the user a question through the dashboard and wait for the answer. " +
			"Blocks until answered, polling every 2 seconds with a 30 minute timeout. " +
			"Tasks with auto-accept enabled get a default answer immediately.",
	}, s.handleAskQuestion)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "task_add_artifact",
		Description: "Register a file (screenshot, report, eval result) as a task artifact. " +
			"The file is snapshotted under the state directory so later edits do not change what the dashboard shows.",
	}, s.handleAddArtifact)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "task_get",
		Description: "Get a task's current state including its children and pending question count.",
	}, s.handleGetTask)

	s.log.Info("starting MCP server", "transport", "stdio", "db", s.store.Path())
	return srv.Run(ctx, &mcp.StdioTransport{})
}
