package compose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

func writeStack(t *testing.T, root, name, config string, extras map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stack.yaml"), []byte(config), 0644))
	for rel, content := range extras {
		full := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func newTestRegistry(t *testing.T) *stack.Registry {
	t.Helper()
	root := t.TempDir()

	writeStack(t, root, "rails", `name: rails
display_name: Ruby on Rails API
default_model: sonnet
compatible_with: [nextjs]
agents:
  - name: backend-developer
    template: agents/backend-developer.md.tmpl
    tools: [Read, Write, Edit, Bash]
  - name: backend-tester
    template: agents/backend-tester.md.tmpl
    tools: [Read, Bash]
    model: haiku
skills: [test, review, new-model]
quality_gates:
  lint:
    command: bundle exec rubocop
    fix_command: bundle exec rubocop -a
  tests:
    command: bundle exec rspec
patterns: [patterns/backend-patterns.md]
styles: [styles/backend-ruby.md]
variables:
  framework: Rails
options:
  jobs:
    description: Background job system
    default: sidekiq
    choices:
      sidekiq:
        patterns: [patterns/sidekiq.md]
        variables:
          jobs_library: Sidekiq
      good_job:
        patterns: [patterns/good_job.md]
        variables:
          jobs_library: GoodJob
`, map[string]string{
		"patterns/backend-patterns.md": "# Backend\n",
		"patterns/sidekiq.md":          "# Sidekiq\n",
		"patterns/good_job.md":         "# GoodJob\n",
		"styles/backend-ruby.md":       "# Ruby\n",
	})

	writeStack(t, root, "nextjs", `name: nextjs
display_name: Next.js
default_model: sonnet
compatible_with: [rails]
agents:
  - name: frontend-developer
    template: agents/frontend-developer.md.tmpl
    tools: [Read, Write, Edit]
skills: [test, review, new-component]
quality_gates:
  lint:
    command: npm run lint
  tests:
    command: npx vitest run
patterns: [patterns/frontend-patterns.md]
styles: [styles/frontend-typescript.md]
variables:
  framework: Next.js
`, map[string]string{
		"patterns/frontend-patterns.md": "# Frontend\n",
		"styles/frontend-typescript.md": "# TS\n",
	})

	writeStack(t, root, "loner", `name: loner
agents:
  - name: backend-developer
    template: agents/dev.md.tmpl
    tools: [Read]
`, nil)

	return stack.NewRegistry(os.DirFS(root), nil, "")
}

func TestComposeSingleStack(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails"}})
	require.NoError(t, err)

	require.Len(t, result.Stacks, 1)
	assert.Equal(t, "rails", result.Stacks[0].Name)
	assert.Equal(t, "sonnet", result.DefaultModel)

	// Single stack keeps its working dir and bare gate commands.
	assert.Equal(t, ".", result.Stacks[0].WorkingDir)
	assert.Equal(t, "bundle exec rubocop", result.QualityGates["rails"]["lint"].Command)
}

func TestComposeResolvesAgentModels(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails"}})
	require.NoError(t, err)

	byName := make(map[string]stack.Agent)
	for _, a := range result.Agents {
		byName[a.Name] = a
	}
	// Unset model takes the stack default; explicit model survives.
	assert.Equal(t, "sonnet", byName["backend-developer"].Model)
	assert.Equal(t, "haiku", byName["backend-tester"].Model)
}

func TestComposeDefaultModelOverride(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails"}, DefaultModel: "opus"})
	require.NoError(t, err)

	byName := make(map[string]stack.Agent)
	for _, a := range result.Agents {
		byName[a.Name] = a
	}
	assert.Equal(t, "opus", byName["backend-developer"].Model)
	// Explicit per-agent model still wins over the CLI override.
	assert.Equal(t, "haiku", byName["backend-tester"].Model)
	assert.Equal(t, "opus", result.DefaultModel)
}

func TestComposeMultipleStacks(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails", "nextjs"}})
	require.NoError(t, err)

	require.Len(t, result.Stacks, 2)

	names := make([]string, 0, len(result.Agents))
	for _, a := range result.Agents {
		names = append(names, a.Name)
	}
	assert.Contains(t, names, "backend-developer")
	assert.Contains(t, names, "frontend-developer")

	// Skills merge deduplicated and sorted.
	assert.Equal(t, []string{"new-component", "new-model", "review", "test"}, result.Skills)

	// Gates are grouped per stack.
	assert.Contains(t, result.QualityGates, "rails")
	assert.Contains(t, result.QualityGates, "nextjs")

	// Patterns and styles from both stacks, keyed by filename.
	assert.Contains(t, result.Patterns, "backend-patterns.md")
	assert.Contains(t, result.Patterns, "frontend-patterns.md")
	assert.Contains(t, result.Styles, "backend-ruby.md")
	assert.Contains(t, result.Styles, "frontend-typescript.md")
}

func TestComposeMultiStackWorkingDirs(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails", "nextjs"}})
	require.NoError(t, err)

	byName := make(map[string]*stack.Stack)
	for _, st := range result.Stacks {
		byName[st.Name] = st
	}
	assert.Equal(t, "backend", byName["rails"].WorkingDir)
	assert.Equal(t, "web", byName["nextjs"].WorkingDir)

	// Gate commands run from each stack's directory.
	assert.Equal(t, "cd backend && bundle exec rubocop", result.QualityGates["rails"]["lint"].Command)
	assert.Equal(t, "cd backend && bundle exec rubocop -a", result.QualityGates["rails"]["lint"].FixCommand)
	assert.Equal(t, "cd web && npm run lint", result.QualityGates["nextjs"]["lint"].Command)
}

func TestComposeIncompatibleStacks(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := Compose(reg, Params{Names: []string{"rails", "loner"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stack "rails" is not compatible with "loner"`)
	assert.Contains(t, err.Error(), `Add "loner" to compatible_with in rails's stack.yaml`)
}

func TestComposeAgentConflictWarns(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "one", `name: one
compatible_with: [two]
agents:
  - name: shared-agent
    template: agents/a.md.tmpl
    tools: [Read]
`, nil)
	writeStack(t, root, "two", `name: two
compatible_with: [one]
agents:
  - name: shared-agent
    template: agents/b.md.tmpl
    tools: [Read, Write]
`, nil)
	reg := stack.NewRegistry(os.DirFS(root), nil, "")

	result, err := Compose(reg, Params{Names: []string{"one", "two"}})
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], `agent "shared-agent" defined in both "one" and "two"; the latter wins`)

	// The later stack's definition wins.
	require.Len(t, result.Agents, 1)
	assert.Equal(t, "agents/b.md.tmpl", result.Agents[0].Template)
}

func TestComposeDefaultOptions(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{Names: []string{"rails"}})
	require.NoError(t, err)

	assert.Equal(t, "sidekiq", result.SelectedOptions["rails"]["jobs"])
	assert.Contains(t, result.Patterns, "sidekiq.md")
	assert.NotContains(t, result.Patterns, "good_job.md")
	assert.Equal(t, "Sidekiq", result.Variables["jobs_library"])
}

func TestComposeExplicitOptionWins(t *testing.T) {
	reg := newTestRegistry(t)

	result, err := Compose(reg, Params{
		Names:   []string{"rails"},
		Options: map[string]map[string]string{"rails": {"jobs": "good_job"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "good_job", result.SelectedOptions["rails"]["jobs"])
	assert.Contains(t, result.Patterns, "good_job.md")
	assert.NotContains(t, result.Patterns, "sidekiq.md")
	assert.Equal(t, "GoodJob", result.Variables["jobs_library"])
}

func TestComposeProfileOptionsApplied(t *testing.T) {
	reg := newTestRegistry(t)

	profile := &stack.Profile{
		Name:    "saas",
		Stacks:  []string{"rails"},
		Options: map[string]map[string]string{"rails": {"jobs": "good_job"}},
		Variables: map[string]any{
			"product": "SaaS",
		},
	}

	result, err := Compose(reg, Params{Names: []string{"rails"}, Profile: profile})
	require.NoError(t, err)

	assert.Equal(t, "good_job", result.SelectedOptions["rails"]["jobs"])
	assert.Equal(t, "SaaS", result.Variables["product"])
}

func TestComposeExplicitBeatsProfile(t *testing.T) {
	reg := newTestRegistry(t)

	profile := &stack.Profile{
		Name:    "saas",
		Options: map[string]map[string]string{"rails": {"jobs": "good_job"}},
	}

	result, err := Compose(reg, Params{
		Names:   []string{"rails"},
		Profile: profile,
		Options: map[string]map[string]string{"rails": {"jobs": "sidekiq"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "sidekiq", result.SelectedOptions["rails"]["jobs"])
}

func TestComposeInvalidOptionChoice(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := Compose(reg, Params{
		Names:   []string{"rails"},
		Options: map[string]map[string]string{"rails": {"jobs": "resque"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid choice "resque" for option "jobs" in stack "rails"`)
	assert.Contains(t, err.Error(), "Available: good_job, sidekiq")
}

func TestComposeNoStacks(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := Compose(reg, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one stack is required")
}
