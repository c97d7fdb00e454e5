package stack

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const javascriptStackYAML = `name: javascript
display_name: JavaScript
description: Shared JS tooling
default_model: sonnet
compatible_with: [rails]
agents:
  - name: frontend-developer
    template: agents/frontend-developer.md.tmpl
    tools: [Read, Write]
  - name: frontend-reviewer
    template: agents/frontend-reviewer.md.tmpl
    tools: [Read]
skills: [test, review]
quality_gates:
  typecheck:
    command: npx tsc --noEmit
  lint:
    command: npx eslint .
patterns: [patterns/typescript-patterns.md]
variables:
  language: TypeScript
  package_manager: npm
`

const nextjsChildYAML = `name: nextjs
display_name: Next.js App
extends: javascript
compatible_with: [react-native]
agents:
  - name: frontend-developer
    template: agents/nextjs-developer.md.tmpl
    tools: [Read, Write, Edit]
  - name: frontend-tester
    template: agents/frontend-tester.md.tmpl
    tools: [Read, Bash]
skills: [test, new-component]
quality_gates:
  tests:
    command: npx vitest run
patterns: [patterns/frontend-patterns.md]
variables:
  framework: Next.js
`

func newInheritanceRegistry(t *testing.T) *Registry {
	t.Helper()
	root := t.TempDir()
	writeStack(t, root, "javascript", javascriptStackYAML, map[string]string{
		"patterns/typescript-patterns.md":  "# TypeScript\n",
		"agents/frontend-reviewer.md.tmpl": "reviewer template\n",
		"skills/shared-skill/skill.md":     "shared\n",
	})
	writeStack(t, root, "nextjs", nextjsChildYAML, map[string]string{
		"patterns/frontend-patterns.md": "# Frontend\n",
	})
	return NewRegistry(os.DirFS(root), nil, "")
}

func TestInheritanceMergesParent(t *testing.T) {
	r := newInheritanceRegistry(t)

	s, err := r.Load("nextjs")
	require.NoError(t, err)

	// Child wins on scalars it sets; parent fills the rest.
	assert.Equal(t, "nextjs", s.Name)
	assert.Equal(t, "Next.js App", s.DisplayName)
	assert.Equal(t, "Shared JS tooling", s.Description)
	assert.Equal(t, "sonnet", s.DefaultModel)

	// compatible_with is the union, sorted.
	assert.Equal(t, []string{"rails", "react-native"}, s.CompatibleWith)

	// Agents: parent order preserved, child override in place, child
	// additions appended with source tracking.
	require.Len(t, s.Agents, 3)
	assert.Equal(t, "frontend-developer", s.Agents[0].Name)
	assert.Equal(t, "agents/nextjs-developer.md.tmpl", s.Agents[0].Template)
	assert.Equal(t, "nextjs", s.Agents[0].SourceStack)
	assert.Equal(t, "frontend-reviewer", s.Agents[1].Name)
	assert.Equal(t, "javascript", s.Agents[1].SourceStack)
	assert.Equal(t, "frontend-tester", s.Agents[2].Name)
	assert.Equal(t, "nextjs", s.Agents[2].SourceStack)

	// Skills dedupe parent-first.
	assert.Equal(t, []string{"test", "review", "new-component"}, s.Skills)

	// Gates overlay per name.
	assert.Equal(t, "npx tsc --noEmit", s.QualityGates["typecheck"].Command)
	assert.Equal(t, "npx vitest run", s.QualityGates["tests"].Command)

	// Patterns merge parent-first.
	assert.Equal(t, []string{"patterns/typescript-patterns.md", "patterns/frontend-patterns.md"}, s.Patterns)

	// Variables overlay with child winning per key.
	assert.Equal(t, "TypeScript", s.Variables["language"])
	assert.Equal(t, "Next.js", s.Variables["framework"])
}

func TestInheritanceChildGateOverride(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "javascript", javascriptStackYAML, nil)
	writeStack(t, root, "nextjs", `name: nextjs
extends: javascript
quality_gates:
  lint:
    command: npx next lint
`, nil)

	r := NewRegistry(os.DirFS(root), nil, "")
	s, err := r.Load("nextjs")
	require.NoError(t, err)

	assert.Equal(t, "npx next lint", s.QualityGates["lint"].Command)
	assert.Equal(t, "npx tsc --noEmit", s.QualityGates["typecheck"].Command)
}

func TestInheritedFileFallback(t *testing.T) {
	r := newInheritanceRegistry(t)

	s, err := r.Load("nextjs")
	require.NoError(t, err)

	// Own file resolves from the child directory.
	data, err := s.ReadFile("patterns/frontend-patterns.md")
	require.NoError(t, err)
	assert.Equal(t, "# Frontend\n", string(data))

	// Inherited file falls back to the parent directory.
	data, err = s.ReadFile("patterns/typescript-patterns.md")
	require.NoError(t, err)
	assert.Equal(t, "# TypeScript\n", string(data))

	// Inherited agent templates resolve the same way.
	data, err = s.ReadFile("agents/frontend-reviewer.md.tmpl")
	require.NoError(t, err)
	assert.Equal(t, "reviewer template\n", string(data))

	// Skill trees in the parent are findable too.
	_, ok := s.FindDir("skills/shared-skill")
	assert.True(t, ok)
}

func TestSelfExtensionRejected(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "loop", "name: loop\nextends: loop\n", nil)

	r := NewRegistry(os.DirFS(root), nil, "")
	_, err := r.Load("loop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `stack "loop" cannot extend itself`)
}

func TestMultiLevelInheritanceRejected(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "base", "name: base\n", nil)
	writeStack(t, root, "middle", "name: middle\nextends: base\n", nil)
	writeStack(t, root, "leaf", "name: leaf\nextends: middle\n", nil)

	r := NewRegistry(os.DirFS(root), nil, "")
	_, err := r.Load("leaf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multi-level inheritance is not supported")
	assert.Contains(t, err.Error(), `parent stack "middle" also extends "base"`)
}

func TestMissingParentRejected(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "orphan", "name: orphan\nextends: ghost\n", nil)

	r := NewRegistry(os.DirFS(root), nil, "")
	_, err := r.Load("orphan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `parent stack "ghost" not found`)
}
