package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/dashboard"
	"github.com/agentsmith-labs/agentsmith/internal/runner"
	"github.com/agentsmith-labs/agentsmith/internal/services"
	"github.com/agentsmith-labs/agentsmith/internal/taskstore"
)

// DashboardOptions holds options for the dashboard command.
type DashboardOptions struct {
	Host string
	Port int
	DB   string
}

// NewDashboardCommand creates the dashboard command.
func NewDashboardCommand() *cobra.Command {
	opts := &DashboardOptions{}
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the task dashboard",
		Long: `Start the local web dashboard for watching orchestrated tasks.

The dashboard serves the task tree with live updates, streams agent
activity, lets you answer blocked questions, browse artifacts, launch
new orchestrator runs, and start or stop the dev services the active
stacks define.

State lives in a SQLite database under .agentsmith/; the MCP server
agents talk to writes to the same file, so a dashboard started in the
project root sees agent progress as it happens.`,
		Example: `  # Serve on the default port
  agentsmith dashboard

  # Another port, reachable from the local network
  agentsmith dashboard --port 9000 --host 0.0.0.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDashboard(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "", "Interface to bind (default from config)")
	cmd.Flags().IntVar(&opts.Port, "port", 0, "Port to listen on (default from config)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "Task database path (default from config)")

	return cmd
}

func runDashboard(cmd *cobra.Command, opts *DashboardOptions) error {
	c := NewCommandContext(cmd)
	cfg := c.Cfg
	r := c.Renderer

	host := cfg.Dashboard.Host
	if opts.Host != "" {
		host = opts.Host
	}
	port := cfg.Dashboard.Port
	if opts.Port != 0 {
		port = opts.Port
	}
	dbPath := cfg.Dashboard.DBPath
	if opts.DB != "" {
		dbPath = opts.DB
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(cfg.ProjectRoot, dbPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	store, err := taskstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer store.Close()

	srv := dashboard.NewServer(dashboard.Config{
		Store:    store,
		Runner:   runner.New(store, cfg.ProjectRoot, cfg.Dashboard.AgentCommand, c.Logger),
		Services: services.NewManager(cfg.ProjectRoot, c.Logger),
		Root:     cfg.ProjectRoot,
		Host:     host,
		Port:     port,
		Logger:   c.Logger,
	})

	r.Printf("Dashboard running on http://%s:%d\n", host, port)
	r.Println("Press Ctrl+C to stop")

	return srv.Serve(cmd.Context())
}
