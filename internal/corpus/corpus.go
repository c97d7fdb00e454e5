// Package corpus embeds the configuration corpus shipped inside the
// binary: the base agent templates and universal skills, the stack
// definitions with their patterns, styles, and skills, and the profile
// presets. Everything the installer writes into a target repository
// originates here or is rendered from here.
package corpus

import (
	"embed"
	"io/fs"
)

//go:embed all:base all:stacks all:profiles
var corpusFS embed.FS

// Base returns the base template tree: agent templates, CLAUDE.md and
// README templates, settings.json, hook scripts, and universal skills.
func Base() fs.FS {
	fsys, _ := fs.Sub(corpusFS, "base")
	return fsys
}

// Stacks returns the embedded stack definitions, one directory per
// stack with a stack.yaml at its root.
func Stacks() fs.FS {
	fsys, _ := fs.Sub(corpusFS, "stacks")
	return fsys
}

// Profiles returns the embedded profile presets.
func Profiles() fs.FS {
	fsys, _ := fs.Sub(corpusFS, "profiles")
	return fsys
}
