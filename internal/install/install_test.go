package install_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith-labs/agentsmith/internal/compose"
	"github.com/agentsmith-labs/agentsmith/internal/corpus"
	"github.com/agentsmith-labs/agentsmith/internal/install"
	"github.com/agentsmith-labs/agentsmith/internal/lockfile"
	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/render"
	"github.com/agentsmith-labs/agentsmith/internal/services"
	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

func renderStacks(t *testing.T, dashboard bool, names ...string) (*render.Output, *compose.Result) {
	t.Helper()
	reg := stack.NewRegistry(corpus.Stacks(), corpus.Profiles(), "")
	res, err := compose.Compose(reg, compose.Params{Names: names})
	require.NoError(t, err)
	out, err := render.Render(corpus.Base(), res, dashboard)
	require.NoError(t, err)
	return out, res
}

func installRails(t *testing.T, target string, opts install.Options) *install.Result {
	t.Helper()
	out, res := renderStacks(t, false, "rails")
	opts.Target = target
	opts.Stacks = []string{"rails"}
	if opts.Selected == nil {
		opts.Selected = res.SelectedOptions
	}
	if opts.Version == "" {
		opts.Version = "2.0.0"
	}
	result, err := install.Install(out, opts)
	require.NoError(t, err)
	return result
}

func TestInstallWritesTree(t *testing.T) {
	target := t.TempDir()
	result := installRails(t, target, install.Options{})

	for _, dir := range []string{
		".claude/agents",
		".claude/skills",
		".claude/hooks",
		".claude/context/features",
		".claude/context/patterns",
		".claude/context/styles",
	} {
		info, err := os.Stat(filepath.Join(target, dir))
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}

	assert.Equal(t, 7, result.Agents)
	assert.Greater(t, result.Skills, 4)
	assert.Equal(t, 3, result.Hooks)
	assert.Greater(t, result.Patterns, 0)
	assert.Greater(t, result.Styles, 0)

	for _, file := range []string{
		"CLAUDE.md",
		".claude/README.md",
		".claude/settings.json",
		".claude/settings.local.json",
		".claude/agents/orchestrator.md",
		".claude/agents/backend-developer.md",
		".claude/hooks/post-edit-format.sh",
		".claude/context/patterns/backend-patterns.md",
		".claude/context/styles/backend-ruby.md",
		".claude/context/features/.gitkeep",
		".claude/agentsmith.lock",
	} {
		_, err := os.Stat(filepath.Join(target, file))
		assert.NoError(t, err, file)
	}
}

func TestInstallHooksAreExecutable(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	for _, hook := range []string{"post-edit-format.sh", "post-edit-lint.sh", "post-edit-test.sh"} {
		info, err := os.Stat(filepath.Join(target, ".claude", "hooks", hook))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o111, "%s must be executable", hook)
	}
}

func TestInstallCreatesLock(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{
		Selected: map[string]map[string]string{"rails": {"jobs": "sidekiq"}},
	})

	lock, err := lockfile.Load(target)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "2.0.0", lock.Version)
	assert.True(t, lock.HasStack("rails"))
	assert.Equal(t, "sidekiq", lock.Stacks["rails"].Options["jobs"])

	assert.NotEmpty(t, lock.FileChecksums)
	assert.Contains(t, lock.FileChecksums, "CLAUDE.md")
	assert.Contains(t, lock.FileChecksums, ".claude/settings.json")
	assert.NotContains(t, lock.FileChecksums, ".claude/README.md")
	assert.NotContains(t, lock.FileChecksums, ".claude/settings.local.json")
}

func TestInstallRecordsProfile(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{Profile: "api-only"})

	lock, err := lockfile.Load(target)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "api-only", lock.Profile)
}

func TestInstallRefusesExistingInstall(t *testing.T) {
	target := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(target, ".claude"), 0o755))

	out, res := renderStacks(t, false, "rails")
	_, err := install.Install(out, install.Options{
		Target:   target,
		Stacks:   []string{"rails"},
		Selected: res.SelectedOptions,
		Version:  "2.0.0",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "use --force to overwrite")
}

func TestInstallMissingTarget(t *testing.T) {
	out, _ := renderStacks(t, false, "rails")
	_, err := install.Install(out, install.Options{
		Target: filepath.Join(t.TempDir(), "nope"),
		Stacks: []string{"rails"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestInstallForceReplacesGeneratedFiles(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	stale := filepath.Join(target, ".claude", "agents", "stale.md")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	installRails(t, target, install.Options{Force: true})

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "forced reinstall must drop stale agents")
	_, err = os.Stat(filepath.Join(target, ".claude", "agents", "orchestrator.md"))
	assert.NoError(t, err)
}

func TestInstallForceKeepsLocalSettings(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	local := filepath.Join(target, ".claude", "settings.local.json")
	custom := []byte(`{"permissions":{"allow":["Bash(ls:*)"],"deny":[]}}` + "\n")
	require.NoError(t, os.WriteFile(local, custom, 0o644))

	installRails(t, target, install.Options{Force: true})

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func TestInstallPreserveContext(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	notes := filepath.Join(target, ".claude", "context", "notes.md")
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0o644))

	installRails(t, target, install.Options{Force: true, PreserveContext: true})

	got, err := os.ReadFile(notes)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(got))
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	target := t.TempDir()
	out, res := renderStacks(t, false, "rails")
	result, err := install.Install(out, install.Options{
		Target:   target,
		Stacks:   []string{"rails"},
		Selected: res.SelectedOptions,
		Version:  "2.0.0",
		DryRun:   true,
	})
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Nil(t, result.Lock)
	assert.Contains(t, result.Files, "CLAUDE.md")
	assert.Contains(t, result.Files, ".claude/settings.json")
	assert.Equal(t, 7, result.Agents)

	entries, err := os.ReadDir(target)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run must not touch the target")
}

func TestInstallGitignore(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	data, err := os.ReadFile(filepath.Join(target, ".gitignore"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Claude Code agent directories")
	assert.Contains(t, content, project.StateDir+"/")
	assert.Contains(t, content, ".claude/settings.local.json")

	// A reinstall appends nothing new.
	installRails(t, target, install.Options{Force: true})
	again, err := os.ReadFile(filepath.Join(target, ".gitignore"))
	require.NoError(t, err)
	assert.Equal(t, content, string(again))
}

func TestInstallGitignoreAppendsToExisting(t *testing.T) {
	target := t.TempDir()
	seed := "node_modules/\n" + project.StateDir + "/\n"
	require.NoError(t, os.WriteFile(filepath.Join(target, ".gitignore"), []byte(seed), 0o644))

	installRails(t, target, install.Options{})

	data, err := os.ReadFile(filepath.Join(target, ".gitignore"))
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasPrefix(content, seed), "existing entries stay put")
	assert.Equal(t, 1, strings.Count(content, project.StateDir+"/"))
	assert.Contains(t, content, ".claude/settings.local.json")
}

func TestInstallServicesManifest(t *testing.T) {
	target := t.TempDir()
	out, res := renderStacks(t, true, "rails", "nextjs")
	require.NotNil(t, out.Services)

	_, err := install.Install(out, install.Options{
		Target:   target,
		Stacks:   []string{"rails", "nextjs"},
		Selected: res.SelectedOptions,
		Version:  "2.0.0",
	})
	require.NoError(t, err)

	cfg, err := services.LoadConfig(project.StatePath(target))
	require.NoError(t, err)
	require.Len(t, cfg.Services, 2)
	assert.Equal(t, "rails", cfg.Services[0].ID)
	assert.Equal(t, 3000, cfg.Services[0].Port)
}

func TestInstallNoServicesWithoutDashboard(t *testing.T) {
	target := t.TempDir()
	installRails(t, target, install.Options{})

	_, err := os.Stat(project.StatePath(target))
	assert.True(t, os.IsNotExist(err), "state dir only appears when the dashboard is enabled")
}
