// Package hooks implements the post-edit automation installed into
// target repositories: format, lint, and test-on-edit. Each run takes
// the list of edited files, filters it per installed stack, and
// shells out to that stack's tool at most once on the surviving
// subset. Output stays plain because the agent pipeline consumes it.
package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/agentsmith-labs/agentsmith/internal/lockfile"
)

// Kind is one of the three post-edit hooks.
type Kind string

const (
	Format Kind = "post-edit-format"
	Lint   Kind = "post-edit-lint"
	Test   Kind = "post-edit-test"
)

// ParseKind accepts the full hook name or its short form.
func ParseKind(s string) (Kind, error) {
	switch s {
	case string(Format), "format":
		return Format, nil
	case string(Lint), "lint":
		return Lint, nil
	case string(Test), "test":
		return Test, nil
	}
	return "", fmt.Errorf("unknown hook kind %q (want format, lint, or test)", s)
}

// RunFunc executes argv in dir, streaming the tool's output, and
// returns its exit code. The error is reserved for failures to run
// the tool at all.
type RunFunc func(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) (int, error)

func execRun(ctx context.Context, dir string, argv []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}

// rule is the per-stack tool wiring.
type rule struct {
	// formatExt and lintExt select input files by extension;
	// basenames adds exact-name matches (Gemfile, Rakefile).
	formatExt []string
	lintExt   []string
	basenames []string

	// format, lint, and test are argv prefixes; the surviving file
	// subset is appended.
	format []string
	lint   []string
	test   []string

	// specsFor maps a source path to its candidate test files.
	specsFor func(path string) []string
}

var rules = map[string]rule{
	"rails": {
		formatExt: []string{".rb", ".rake"},
		lintExt:   []string{".rb", ".rake"},
		basenames: []string{"Gemfile", "Rakefile"},
		format:    []string{"bundle", "exec", "rubocop", "-a"},
		lint:      []string{"bundle", "exec", "rubocop"},
		test:      []string{"bundle", "exec", "rspec"},
		specsFor:  railsSpecs,
	},
	"nextjs": {
		formatExt: []string{".ts", ".tsx", ".js", ".jsx", ".json", ".css", ".md"},
		lintExt:   jsSourceExt,
		format:    []string{"npx", "prettier", "--write"},
		lint:      []string{"npx", "eslint"},
		test:      []string{"npx", "vitest", "run"},
		specsFor:  jsSpecs,
	},
	"react-native": {
		formatExt: jsSourceExt,
		lintExt:   jsSourceExt,
		format:    []string{"npx", "prettier", "--write"},
		lint:      []string{"npx", "eslint"},
		test:      []string{"npx", "jest"},
		specsFor:  jsSpecs,
	},
}

// Engine runs post-edit hooks for one project directory.
type Engine struct {
	// Dir is the project root.
	Dir string

	// Stacks overrides stack resolution when non-empty.
	Stacks []string

	// DryRun prints each tool command instead of executing it.
	DryRun bool

	Stdout io.Writer
	Stderr io.Writer

	// Run executes external tools; nil uses os/exec.
	Run RunFunc
}

// Hook executes one hook over the edited files and returns the exit
// code for the process. Tool failures surface as nonzero codes;
// errors are reserved for the engine's own failures.
func (e *Engine) Hook(ctx context.Context, kind Kind, files []string) (int, error) {
	stdout, stderr := e.writers()
	run := e.Run
	if run == nil {
		run = execRun
	}

	stacks := e.resolveStacks(stderr)
	files = e.normalize(files)

	for _, name := range stacks {
		r, ok := rules[name]
		if !ok {
			continue
		}
		argv, err := e.command(kind, r, files)
		if err != nil {
			return 0, err
		}
		if argv == nil {
			continue
		}

		if e.DryRun {
			fmt.Fprintln(stdout, strings.Join(argv, " "))
			continue
		}

		code, err := run(ctx, e.Dir, argv, stdout, stderr)
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				// A machine without the stack toolchain must not
				// block edits.
				fmt.Fprintf(stderr, "warning: %s not available, skipping %s\n", argv[0], kind)
				continue
			}
			return 0, err
		}
		switch {
		case code == 0:
		case kind == Format && code == 1:
			// The formatter applied what it could; remaining offenses
			// need a human.
			fmt.Fprintln(stderr, "warning: some files could not be fully formatted")
		default:
			return code, nil
		}
	}
	return 0, nil
}

// command builds the tool argv for one stack, or nil when no input
// file survives the filter.
func (e *Engine) command(kind Kind, r rule, files []string) ([]string, error) {
	var argv, matched []string
	switch kind {
	case Format:
		argv = r.format
		matched = e.existing(matchFiles(files, r.formatExt, r.basenames))
	case Lint:
		argv = r.lint
		matched = e.existing(matchFiles(files, r.lintExt, r.basenames))
	case Test:
		argv = r.test
		matched = e.specs(r, files)
	default:
		return nil, fmt.Errorf("unknown hook kind %q", kind)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return append(slices.Clone(argv), matched...), nil
}

// specs expands edited files to their deduplicated, on-disk test
// candidates.
func (e *Engine) specs(r rule, files []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range files {
		for _, spec := range r.specsFor(f) {
			if seen[spec] {
				continue
			}
			seen[spec] = true
			out = append(out, spec)
		}
	}
	return e.existing(out)
}

// normalize dedupes the input and rewrites absolute paths under Dir
// to project-relative slash form, which the mapping rules expect.
func (e *Engine) normalize(files []string) []string {
	seen := make(map[string]bool, len(files))
	var out []string
	for _, f := range files {
		p := f
		if filepath.IsAbs(f) {
			if rel, err := filepath.Rel(e.Dir, f); err == nil && !strings.HasPrefix(rel, "..") {
				p = rel
			}
		}
		p = path.Clean(filepath.ToSlash(p))
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// existing drops paths no longer on disk; a post-edit hook can fire
// for a file deleted in the same change.
func (e *Engine) existing(paths []string) []string {
	var out []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(e.Dir, filepath.FromSlash(p))); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// resolveStacks prefers the lock file, then explicit stacks, then
// project sniffing. An unreadable lock warns and falls through.
func (e *Engine) resolveStacks(stderr io.Writer) []string {
	if len(e.Stacks) > 0 {
		return e.Stacks
	}
	lock, err := lockfile.Load(e.Dir)
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	if lock != nil {
		return lock.StackNames()
	}
	return sniffStacks(e.Dir)
}

// sniffStacks guesses the stack set from project markers when no
// installation is recorded.
func sniffStacks(dir string) []string {
	var found []string
	if _, err := os.Stat(filepath.Join(dir, "Gemfile")); err == nil {
		found = append(found, "rails")
	}
	deps := packageDeps(filepath.Join(dir, "package.json"))
	switch {
	case deps["react-native"] || deps["expo"]:
		found = append(found, "react-native")
	case deps["next"]:
		found = append(found, "nextjs")
	}
	return found
}

func packageDeps(path string) map[string]bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil
	}
	deps := make(map[string]bool, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name := range pkg.Dependencies {
		deps[name] = true
	}
	for name := range pkg.DevDependencies {
		deps[name] = true
	}
	return deps
}

func (e *Engine) writers() (io.Writer, io.Writer) {
	stdout, stderr := e.Stdout, e.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
