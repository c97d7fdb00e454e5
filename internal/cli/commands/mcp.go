package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/config"
	"github.com/agentsmith-labs/agentsmith/internal/mcpserver"
	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

// NewMCPCommand creates the mcp command.
func NewMCPCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve task tools to agents over stdio",
		Long: fmt.Sprintf(`Run the MCP server that gives agents access to the task store.

Claude Code starts this process itself via the server entry the
installer writes into settings.json; there is normally no reason to
run it by hand. Tools cover task registration, subtasks, status and
phase updates, activity logging, blocking questions, and artifact
capture. The dashboard reads the same database, so everything an
agent reports shows up there live.

The database path comes from %s when set, which is how
the dashboard points orchestrator runs it spawns at its own store.`, project.EnvDBPath),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd, version)
		},
	}
}

func runMCP(cmd *cobra.Command, version string) error {
	cfg := getConfig()

	dbPath := os.Getenv(project.EnvDBPath)
	if dbPath == "" {
		dbPath = cfg.Dashboard.DBPath
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	store, err := taskstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()

	// stdout carries the stdio transport, so logs go to stderr.
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
	srv := mcpserver.NewServer(store, cfg.ProjectRoot, version, logger)

	return srv.Run(cmd.Context())
}
