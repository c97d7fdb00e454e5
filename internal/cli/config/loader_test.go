package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDashboardHost, cfg.Dashboard.Host)
	assert.Equal(t, DefaultDashboardPort, cfg.Dashboard.Port)
	assert.Equal(t, DefaultAgentCommand, cfg.Dashboard.AgentCommand)
	assert.Equal(t, "auto", cfg.OutputFormat)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, GetConfigFileUsed())
}

func TestLoadConfigFile(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "agentsmith.yaml")
	content := `stacks_dir: custom/stacks
default_model: opus
dashboard:
  port: 9000
hooks:
  stacks:
    - rails
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	chdir(t, tmpDir)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(cfg.ProjectRoot, "custom/stacks"), cfg.StacksDir)
	assert.Equal(t, "opus", cfg.DefaultModel)
	assert.Equal(t, 9000, cfg.Dashboard.Port)
	assert.Equal(t, []string{"rails"}, cfg.Hooks.Stacks)
	// File settings merge over defaults, not replace them.
	assert.Equal(t, DefaultDashboardHost, cfg.Dashboard.Host)
	assert.Equal(t, filepath.Base(cfgPath), filepath.Base(GetConfigFileUsed()))
}

func TestLoadConfigFileUpwardSearch(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "agentsmith.yml"), []byte("default_model: sonnet\n"), 0644))

	nested := filepath.Join(tmpDir, "app", "models")
	require.NoError(t, os.MkdirAll(nested, 0755))
	chdir(t, nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "sonnet", cfg.DefaultModel)
	assert.Equal(t, "agentsmith.yml", filepath.Base(GetConfigFileUsed()))
	// Project root is the directory holding the config file, not the cwd.
	assert.Equal(t, filepath.Dir(GetConfigFileUsed()), cfg.ProjectRoot)
}

func TestLoadExplicitFile(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "other.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("verbose: true\n"), 0644))
	chdir(t, t.TempDir())

	cfg, err := Load(cfgPath, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	_, err := Load("/nonexistent/agentsmith.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoadEnvOverrides(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	require.NoError(t, os.Setenv("AGENTSMITH_DEFAULT_MODEL", "haiku"))
	require.NoError(t, os.Setenv("AGENTSMITH_DASHBOARD_PORT", "7777"))
	defer func() {
		_ = os.Unsetenv("AGENTSMITH_DEFAULT_MODEL")
		_ = os.Unsetenv("AGENTSMITH_DASHBOARD_PORT")
	}()

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "haiku", cfg.DefaultModel)
	assert.Equal(t, 7777, cfg.Dashboard.Port)
}

func TestLoadFlagOverrides(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "agentsmith.yaml"), []byte("output: json\n"), 0644))
	chdir(t, tmpDir)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output", "", "output format")
	flags.String("default-model", "", "model")
	flags.Bool("verbose", false, "verbose")
	require.NoError(t, flags.Parse([]string{"--output=text", "--default-model=opus"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	// Changed flags win over the file.
	assert.Equal(t, "text", cfg.OutputFormat)
	assert.Equal(t, "opus", cfg.DefaultModel)
	// Unchanged flags do not clobber anything.
	assert.False(t, cfg.Verbose)
}

func TestLoadInvalidOutputFormat(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "agentsmith.yaml"), []byte("output: xml\n"), 0644))
	chdir(t, tmpDir)

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid output format")
}

func TestLoadInvalidPort(t *testing.T) {
	ResetConfig()
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "agentsmith.yaml"), []byte("dashboard:\n  port: 99999\n"), 0644))
	chdir(t, tmpDir)

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid dashboard port")
}

func TestGetCurrentConfig(t *testing.T) {
	ResetConfig()
	assert.Nil(t, GetCurrentConfig())

	chdir(t, t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, GetCurrentConfig())

	ResetConfig()
	assert.Nil(t, GetCurrentConfig())
}

func TestEnvKeyTransform(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"AGENTSMITH_STACKS_DIR", "stacks_dir"},
		{"AGENTSMITH_DEFAULT_MODEL", "default_model"},
		{"AGENTSMITH_OUTPUT", "output"},
		{"AGENTSMITH_DASHBOARD_PORT", "dashboard.port"},
		{"AGENTSMITH_DASHBOARD_AGENT_COMMAND", "dashboard.agent_command"},
		{"AGENTSMITH_HOOKS_STACKS", "hooks.stacks"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, envKeyTransform(tt.in))
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("TEST_STACKS_HOME", "/opt/stacks"))
	defer func() { _ = os.Unsetenv("TEST_STACKS_HOME") }()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single variable", "${TEST_STACKS_HOME}", "/opt/stacks"},
		{"variable in path", "${TEST_STACKS_HOME}/custom", "/opt/stacks/custom"},
		{"unset variable stays as-is", "${UNSET_VARIABLE}", "${UNSET_VARIABLE}"},
		{"no variables", "plain string", "plain string"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestGetLoggerFallback(t *testing.T) {
	logger := GetLogger(t.Context())
	require.NotNil(t, logger)
	// Must not panic when logging without a context logger.
	logger.Info("discarded")
}
