// Package config loads CLI configuration with layered precedence:
// built-in defaults, then agentsmith.yaml, then AGENTSMITH_*
// environment variables, then explicitly set flags.
package config

// Default configuration values.
const (
	DefaultDashboardHost = "127.0.0.1"
	DefaultDashboardPort = 8420
	DefaultDashboardDB   = ".agentsmith/tasks.db"
	DefaultAgentCommand  = "claude"
)

// Config is the resolved CLI configuration.
type Config struct {
	// ProjectRoot is the directory the config file was found in, or
	// the working directory when no file exists. Not user-settable.
	ProjectRoot string `koanf:"-"`

	// StacksDir overlays a local directory of stack definitions on
	// top of the embedded corpus. Stacks found there win by name.
	StacksDir string `koanf:"stacks_dir"`

	// DefaultModel overrides the per-stack default agent model
	// (opus, sonnet, haiku).
	DefaultModel string `koanf:"default_model"`

	// OutputFormat selects text, markdown, or json output.
	OutputFormat string `koanf:"output"`

	// Verbose enables debug logging to stderr.
	Verbose bool `koanf:"verbose"`

	Dashboard DashboardConfig `koanf:"dashboard"`
	Hooks     HooksConfig     `koanf:"hooks"`
}

// DashboardConfig configures the local task dashboard server.
type DashboardConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// DBPath is the SQLite task database. Relative paths resolve
	// against the project root.
	DBPath string `koanf:"db"`

	// AgentCommand is the agent CLI the task runner spawns.
	AgentCommand string `koanf:"agent_command"`
}

// HooksConfig configures the post-edit hook engine.
type HooksConfig struct {
	// Stacks pins the hook stack set, bypassing the lockfile and
	// project detection.
	Stacks []string `koanf:"stacks"`
}

// defaults returns the built-in configuration layer.
func defaults() map[string]any {
	return map[string]any{
		"stacks_dir":              "",
		"default_model":           "",
		"output":                  "auto",
		"verbose":                 false,
		"dashboard.host":          DefaultDashboardHost,
		"dashboard.port":          DefaultDashboardPort,
		"dashboard.db":            DefaultDashboardDB,
		"dashboard.agent_command": DefaultAgentCommand,
	}
}
