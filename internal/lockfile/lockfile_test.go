package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLock(t *testing.T) {
	l := New("0.2.0", []string{"rails", "nextjs"}, map[string]map[string]string{
		"rails":  {"jobs": "sidekiq"},
		"nextjs": {"ui": "mantine", "state": "zustand"},
	}, "saas")

	assert.Equal(t, "0.2.0", l.Version)
	assert.Equal(t, "saas", l.Profile)
	assert.True(t, strings.HasSuffix(l.InstalledAt, "Z"), "timestamp must be UTC")
	assert.Equal(t, []string{"nextjs", "rails"}, l.StackNames())
	assert.Equal(t, "sidekiq", l.Stacks["rails"].Options["jobs"])
	assert.Equal(t, "mantine", l.Stacks["nextjs"].Options["ui"])
}

func TestLoadMissingReturnsNil(t *testing.T) {
	l, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestLoadCorruptReturnsError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".claude"), 0o755))
	require.NoError(t, os.WriteFile(Path(dir), []byte("{not: [valid"), 0o644))

	l, err := Load(dir)
	require.Error(t, err)
	assert.Nil(t, l)
	assert.Contains(t, err.Error(), "parsing lock file")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	l := New("0.2.0", []string{"rails"}, map[string]map[string]string{
		"rails": {"jobs": "good_job"},
	}, "")
	l.FileChecksums["CLAUDE.md"] = "abc123"

	require.NoError(t, Save(dir, l))

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, l.Version, loaded.Version)
	assert.Equal(t, l.InstalledAt, loaded.InstalledAt)
	assert.Empty(t, loaded.Profile)
	assert.Equal(t, "good_job", loaded.Stacks["rails"].Options["jobs"])
	assert.Equal(t, "abc123", loaded.FileChecksums["CLAUDE.md"])
}

func TestSetOption(t *testing.T) {
	l := New("0.2.0", []string{"nextjs"}, nil, "")

	require.NoError(t, l.SetOption("nextjs", "ui", "tailwind"))
	assert.Equal(t, "tailwind", l.Stacks["nextjs"].Options["ui"])

	err := l.SetOption("rails", "jobs", "sidekiq")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stack "rails" not installed`)
}

func TestMerge(t *testing.T) {
	l := New("0.1.0", []string{"rails"}, map[string]map[string]string{
		"rails": {"jobs": "sidekiq"},
	}, "")
	before := l.InstalledAt

	l.Merge("0.2.0", []string{"nextjs"}, map[string]map[string]string{
		"rails":  {"jobs": "solid_queue"},
		"nextjs": {"ui": "tailwind"},
	})

	assert.Equal(t, "0.2.0", l.Version)
	assert.GreaterOrEqual(t, l.InstalledAt, before)
	assert.Equal(t, []string{"nextjs", "rails"}, l.StackNames())
	assert.Equal(t, "solid_queue", l.Stacks["rails"].Options["jobs"])
	assert.Equal(t, "tailwind", l.Stacks["nextjs"].Options["ui"])
}

func TestMergeKeepsExistingStacks(t *testing.T) {
	l := New("0.1.0", []string{"rails"}, map[string]map[string]string{
		"rails": {"jobs": "sidekiq", "db": "postgresql"},
	}, "")

	// Re-adding an installed stack must not reset its options.
	l.Merge("0.2.0", []string{"rails"}, map[string]map[string]string{
		"rails": {"jobs": "good_job"},
	})

	assert.Equal(t, "good_job", l.Stacks["rails"].Options["jobs"])
	assert.Equal(t, "postgresql", l.Stacks["rails"].Options["db"])
}

func TestChecksums(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("beta"), 0o644))

	sums := Checksums(dir, []string{"a.md", "b.md", "missing.md"})

	assert.Len(t, sums, 2)
	assert.Len(t, sums["a.md"], 64)
	assert.NotEqual(t, sums["a.md"], sums["b.md"])
	assert.NotContains(t, sums, "missing.md")
}

func TestModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("intact.md", "same")
	write("changed.md", "original")
	write("deleted.md", "here for now")

	l := New("0.2.0", []string{"rails"}, nil, "")
	l.FileChecksums = Checksums(dir, []string{"intact.md", "changed.md", "deleted.md"})

	write("changed.md", "user edit")
	require.NoError(t, os.Remove(filepath.Join(dir, "deleted.md")))

	modified := ModifiedFiles(dir, l)

	assert.Equal(t, []string{"changed.md"}, modified, "deleted files are not modified")
}
