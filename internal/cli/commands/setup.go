// Package commands implements the agentsmith subcommands.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/config"
	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
	"github.com/agentsmith-labs/agentsmith/internal/corpus"
	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

// ExitError carries a specific process exit code out of a command.
// The hook command uses it to propagate tool exit codes unchanged;
// main unwraps it instead of printing.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Registry *stack.Registry
}

// NewCommandContext assembles the config, logger, renderer, and stack
// registry for a command invocation.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())

	mode := output.Mode(cfg.OutputFormat)
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
		Registry: stack.NewRegistry(corpus.Stacks(), corpus.Profiles(), cfg.StacksDir),
	}
}

// getConfig returns the current configuration. Commands constructed
// outside the root command (tests, mostly) fall back to defaults.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}

	cwd, _ := os.Getwd()
	return &config.Config{
		ProjectRoot:  cwd,
		OutputFormat: os.Getenv("AGENTSMITH_OUTPUT"),
		Dashboard: config.DashboardConfig{
			Host:         config.DefaultDashboardHost,
			Port:         config.DefaultDashboardPort,
			DBPath:       filepath.Join(cwd, config.DefaultDashboardDB),
			AgentCommand: config.DefaultAgentCommand,
		},
	}
}
