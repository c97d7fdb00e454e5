// Package install writes a rendered configuration into a target
// repository and records the installation in the lock file.
package install

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentsmith-labs/agentsmith/internal/lockfile"
	"github.com/agentsmith-labs/agentsmith/internal/project"
	"github.com/agentsmith-labs/agentsmith/internal/render"
	"github.com/agentsmith-labs/agentsmith/internal/services"
)

// Options control a single installation.
type Options struct {
	// Target is the repository the configuration is installed into.
	Target string

	// Stacks are the stack names recorded in the lock file.
	Stacks []string

	// Force replaces an existing .claude directory.
	Force bool

	// PreserveContext keeps .claude/context when forcing.
	PreserveContext bool

	// DryRun collects the file list without writing anything.
	DryRun bool

	// Selected holds the effective option choice per stack.
	Selected map[string]map[string]string

	// Profile is the profile the stacks came from, if any.
	Profile string

	// Version is recorded in the lock file.
	Version string
}

// Result summarizes an installation.
type Result struct {
	Target string
	DryRun bool

	Agents   int
	Skills   int
	Hooks    int
	Patterns int
	Styles   int

	// Files lists every path written, or that would be written under
	// dry run, relative to the target.
	Files []string

	// Lock is the saved lock file. Nil under dry run.
	Lock *lockfile.Lock
}

// Install writes the rendered output into opts.Target.
func Install(out *render.Output, opts Options) (*Result, error) {
	info, err := os.Stat(opts.Target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("target path does not exist: %s", opts.Target)
		}
		return nil, fmt.Errorf("checking target: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target path is not a directory: %s", opts.Target)
	}

	in := &installer{
		out:       out,
		opts:      opts,
		claudeDir: project.ClaudePath(opts.Target),
		res:       &Result{Target: opts.Target, DryRun: opts.DryRun},
	}

	if err := in.clearExisting(); err != nil {
		return nil, err
	}
	if err := in.createDirs(); err != nil {
		return nil, err
	}
	if err := in.writeAgents(); err != nil {
		return nil, err
	}
	if err := in.copySkills(); err != nil {
		return nil, err
	}
	if err := in.writeHooks(); err != nil {
		return nil, err
	}
	if err := in.writeContextDocs(); err != nil {
		return nil, err
	}
	if err := in.writeSettings(); err != nil {
		return nil, err
	}
	if err := in.writeDocs(); err != nil {
		return nil, err
	}
	if err := in.writeServices(); err != nil {
		return nil, err
	}
	if err := in.finalize(); err != nil {
		return nil, err
	}
	return in.res, nil
}

type installer struct {
	out       *render.Output
	opts      Options
	claudeDir string
	res       *Result

	// tracked files get checksummed into the lock.
	tracked []string
}

func (in *installer) clearExisting() error {
	if _, err := os.Stat(in.claudeDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking %s: %w", in.claudeDir, err)
	}
	if !in.opts.Force {
		return fmt.Errorf("%s already exists, use --force to overwrite", in.claudeDir)
	}
	if in.opts.DryRun {
		return nil
	}

	// settings.local.json is the user's file and survives a reinstall.
	keep := map[string]bool{"settings.local.json": true}
	if in.opts.PreserveContext {
		keep["context"] = true
	}
	entries, err := os.ReadDir(in.claudeDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", in.claudeDir, err)
	}
	for _, e := range entries {
		if keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(in.claudeDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (in *installer) createDirs() error {
	if in.opts.DryRun {
		return nil
	}
	dirs := []string{
		in.claudeDir,
		filepath.Join(in.claudeDir, "agents"),
		filepath.Join(in.claudeDir, "skills"),
		filepath.Join(in.claudeDir, "hooks"),
		filepath.Join(in.claudeDir, "context"),
		filepath.Join(in.claudeDir, "context", "features"),
	}
	if len(in.out.Patterns) > 0 {
		dirs = append(dirs, filepath.Join(in.claudeDir, "context", "patterns"))
	}
	if len(in.out.Styles) > 0 {
		dirs = append(dirs, filepath.Join(in.claudeDir, "context", "styles"))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", d, err)
		}
	}
	return nil
}

// write stores data at rel, a slash-separated path under the target,
// and records it in the result. Tracked files are checksummed into
// the lock file so a later upgrade can detect local edits.
func (in *installer) write(rel string, data []byte, mode os.FileMode, track bool) error {
	in.res.Files = append(in.res.Files, rel)
	if track {
		in.tracked = append(in.tracked, rel)
	}
	if in.opts.DryRun {
		return nil
	}
	dst := filepath.Join(in.opts.Target, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	return nil
}

func (in *installer) writeAgents() error {
	for _, name := range sortedKeys(in.out.Agents) {
		rel := path.Join(project.ClaudeDir, "agents", name)
		if err := in.write(rel, []byte(in.out.Agents[name]), 0o644, true); err != nil {
			return err
		}
		in.res.Agents++
	}
	return nil
}

func (in *installer) copySkills() error {
	for _, name := range sortedKeys(in.out.Skills) {
		src := in.out.Skills[name]
		root := path.Join(project.ClaudeDir, "skills", name)
		err := fs.WalkDir(src, ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			data, err := fs.ReadFile(src, p)
			if err != nil {
				return fmt.Errorf("reading skill %s/%s: %w", name, p, err)
			}
			return in.write(path.Join(root, p), data, fileMode(p), true)
		})
		if err != nil {
			return err
		}
		in.res.Skills++
	}
	return nil
}

func (in *installer) writeHooks() error {
	for _, name := range sortedKeys(in.out.Hooks) {
		rel := path.Join(project.ClaudeDir, "hooks", name)
		if err := in.write(rel, in.out.Hooks[name], fileMode(name), true); err != nil {
			return err
		}
		in.res.Hooks++
	}
	return nil
}

func (in *installer) writeContextDocs() error {
	for _, name := range sortedKeys(in.out.Patterns) {
		rel := path.Join(project.ClaudeDir, "context", "patterns", name)
		if err := in.write(rel, in.out.Patterns[name], 0o644, true); err != nil {
			return err
		}
		in.res.Patterns++
	}
	for _, name := range sortedKeys(in.out.Styles) {
		rel := path.Join(project.ClaudeDir, "context", "styles", name)
		if err := in.write(rel, in.out.Styles[name], 0o644, true); err != nil {
			return err
		}
		in.res.Styles++
	}
	return nil
}

func (in *installer) writeSettings() error {
	data, err := json.MarshalIndent(in.out.Settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings.json: %w", err)
	}
	rel := path.Join(project.ClaudeDir, "settings.json")
	return in.write(rel, append(data, '\n'), 0o644, true)
}

func (in *installer) writeDocs() error {
	if err := in.write(project.RootDoc, []byte(in.out.ClaudeMD), 0o644, true); err != nil {
		return err
	}
	rel := path.Join(project.ClaudeDir, "README.md")
	if err := in.write(rel, []byte(in.out.Readme), 0o644, false); err != nil {
		return err
	}
	keep := path.Join(project.ClaudeDir, "context", "features", ".gitkeep")
	return in.write(keep, nil, 0o644, false)
}

func (in *installer) writeServices() error {
	if in.out.Services == nil {
		return nil
	}
	data, err := json.MarshalIndent(in.out.Services, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", services.ConfigFileName, err)
	}
	rel := path.Join(project.StateDir, services.ConfigFileName)
	return in.write(rel, append(data, '\n'), 0o644, false)
}

func (in *installer) finalize() error {
	if in.opts.DryRun {
		return nil
	}
	if err := in.writeLocalSettings(); err != nil {
		return err
	}
	if err := updateGitignore(in.opts.Target); err != nil {
		return err
	}

	lock := lockfile.New(in.opts.Version, in.opts.Stacks, in.opts.Selected, in.opts.Profile)
	lock.FileChecksums = lockfile.Checksums(in.opts.Target, in.tracked)
	if err := lockfile.Save(in.opts.Target, lock); err != nil {
		return err
	}
	in.res.Lock = lock
	return nil
}

// writeLocalSettings drops the settings.local.json template unless
// the user already has one.
func (in *installer) writeLocalSettings() error {
	dst := filepath.Join(in.claudeDir, "settings.local.json")
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	local := map[string]any{
		"permissions": map[string]any{
			"allow": []string{},
			"deny":  []string{},
		},
	}
	data, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dst, append(data, '\n'), 0o644)
}

// gitignoreHeader precedes the entries the installer appends.
const gitignoreHeader = "# Claude Code agent directories"

var gitignoreEntries = []string{
	project.StateDir + "/",
	project.ClaudeDir + "/settings.local.json",
}

// updateGitignore appends the runtime entries missing from the
// target's .gitignore. Lines already present are left alone.
func updateGitignore(target string) error {
	name := filepath.Join(target, ".gitignore")

	data, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading .gitignore: %w", err)
	}
	existing := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		existing[strings.TrimSpace(line)] = true
	}

	var missing []string
	for _, e := range gitignoreEntries {
		if !existing[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.Write(data)
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		b.WriteByte('\n')
	}
	if len(data) > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(gitignoreHeader)
	b.WriteByte('\n')
	for _, e := range missing {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	return os.WriteFile(name, []byte(b.String()), 0o644)
}

func fileMode(name string) os.FileMode {
	if strings.HasSuffix(name, ".sh") {
		return 0o755
	}
	return 0o644
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
