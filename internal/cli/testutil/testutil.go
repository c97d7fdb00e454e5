// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
)

// SetupRailsProject creates a temporary Rails-shaped project with a
// model, its spec, and a Gemfile so stack detection finds it.
func SetupRailsProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	dirs := []string{
		filepath.Join(tmpDir, "app", "models"),
		filepath.Join(tmpDir, "app", "controllers", "api", "v1"),
		filepath.Join(tmpDir, "app", "services"),
		filepath.Join(tmpDir, "spec", "models"),
		filepath.Join(tmpDir, "spec", "requests", "api", "v1"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	gemfile := `source "https://rubygems.org"

gem "rails", "~> 7.1"
gem "rspec-rails", group: [:development, :test]
`
	if err := os.WriteFile(filepath.Join(tmpDir, "Gemfile"), []byte(gemfile), 0644); err != nil {
		t.Fatalf("failed to create Gemfile: %v", err)
	}

	userModel := `class User < ApplicationRecord
  validates :email, presence: true
end
`
	if err := os.WriteFile(filepath.Join(tmpDir, "app", "models", "user.rb"),
		[]byte(userModel), 0644); err != nil {
		t.Fatalf("failed to create user.rb: %v", err)
	}

	userSpec := `require "rails_helper"

RSpec.describe User do
  it "requires an email" do
    expect(User.new).not_to be_valid
  end
end
`
	if err := os.WriteFile(filepath.Join(tmpDir, "spec", "models", "user_spec.rb"),
		[]byte(userSpec), 0644); err != nil {
		t.Fatalf("failed to create user_spec.rb: %v", err)
	}

	return tmpDir
}

// SetupNodeProject creates a temporary Node-shaped project with a
// package.json and a source file so stack detection finds it.
func SetupNodeProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, "src", "components"), 0755); err != nil {
		t.Fatalf("failed to create src directory: %v", err)
	}

	packageJSON := `{
  "name": "testapp",
  "private": true,
  "dependencies": {
    "next": "^15.0.0",
    "react": "^19.0.0"
  }
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, "package.json"), []byte(packageJSON), 0644); err != nil {
		t.Fatalf("failed to create package.json: %v", err)
	}

	component := `export function Badge({ label }: { label: string }) {
  return <span>{label}</span>;
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, "src", "components", "Badge.tsx"),
		[]byte(component), 0644); err != nil {
		t.Fatalf("failed to create Badge.tsx: %v", err)
	}

	return tmpDir
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererAuto creates a new test renderer with auto mode detection.
// In tests, non-TTY defaults to markdown output.
func NewTestRendererAuto() *TestRenderer {
	return NewTestRenderer(output.ModeAuto, false)
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the combined stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset clears both output buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertContains checks that the string contains the expected substring.
func AssertContains(t *testing.T, s, expected string) {
	t.Helper()
	if !strings.Contains(s, expected) {
		t.Errorf("string %q does not contain expected %q", s, expected)
	}
}

// AssertNotContains checks that the string does not contain the substring.
func AssertNotContains(t *testing.T, s, unexpected string) {
	t.Helper()
	if strings.Contains(s, unexpected) {
		t.Errorf("string %q unexpectedly contains %q", s, unexpected)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and basic structure.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	// Check for balanced code fences
	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	// Check that headers have content
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
