// Package project names the files and directories an installation
// manages inside a target repository.
package project

import "path/filepath"

const (
	// ClaudeDir is the generated agent configuration tree.
	ClaudeDir = ".claude"

	// StateDir holds runtime state: the task database, the services
	// manifest, and run artifacts. It is gitignored on install.
	StateDir = ".agentsmith"

	// RootDoc is the orchestration entrypoint written to the
	// repository root.
	RootDoc = "CLAUDE.md"
)

// ClaudePath returns the .claude directory inside target.
func ClaudePath(target string) string {
	return filepath.Join(target, ClaudeDir)
}

// StatePath returns the state directory inside target.
func StatePath(target string) string {
	return filepath.Join(target, StateDir)
}
