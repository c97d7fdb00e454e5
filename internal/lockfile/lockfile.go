// Package lockfile tracks what an installation wrote into a target
// repository: the tool version, the stacks with their selected
// options, and checksums of the generated files so later runs can
// tell user edits apart from pristine files.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the lock file name under the target's .claude directory.
const FileName = "agentsmith.lock"

// StackInfo records one installed stack and its option selections.
type StackInfo struct {
	Name    string            `yaml:"name"`
	Options map[string]string `yaml:"options"`
}

// Lock is the lock file document.
type Lock struct {
	Version       string                `yaml:"version"`
	InstalledAt   string                `yaml:"installed_at"`
	Profile       string                `yaml:"profile,omitempty"`
	Stacks        map[string]*StackInfo `yaml:"stacks"`
	FileChecksums map[string]string     `yaml:"file_checksums"`
}

// Path returns the lock file location for a target directory.
func Path(target string) string {
	return filepath.Join(target, ".claude", FileName)
}

// New creates a lock for a fresh installation.
func New(version string, stackNames []string, selected map[string]map[string]string, profile string) *Lock {
	l := &Lock{
		Version:       version,
		InstalledAt:   timestamp(),
		Profile:       profile,
		Stacks:        make(map[string]*StackInfo, len(stackNames)),
		FileChecksums: make(map[string]string),
	}
	for _, name := range stackNames {
		l.AddStack(name, selected[name])
	}
	return l
}

// Load reads the lock from a target directory. A missing lock is not
// an error: it returns (nil, nil). A present but unreadable lock
// returns the error; callers treat that as absent after warning.
func Load(target string) (*Lock, error) {
	data, err := os.ReadFile(Path(target))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading lock file: %w", err)
	}

	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parsing lock file: %w", err)
	}
	if l.Stacks == nil {
		l.Stacks = make(map[string]*StackInfo)
	}
	if l.FileChecksums == nil {
		l.FileChecksums = make(map[string]string)
	}
	return &l, nil
}

// Save writes the lock into the target's .claude directory.
func Save(target string, l *Lock) error {
	path := Path(target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	data, err := yaml.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding lock file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// StackNames returns the installed stack names, sorted.
func (l *Lock) StackNames() []string {
	names := make([]string, 0, len(l.Stacks))
	for name := range l.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options returns every stack's option selections.
func (l *Lock) Options() map[string]map[string]string {
	opts := make(map[string]map[string]string, len(l.Stacks))
	for name, info := range l.Stacks {
		opts[name] = info.Options
	}
	return opts
}

// HasStack reports whether a stack is recorded as installed.
func (l *Lock) HasStack(name string) bool {
	_, ok := l.Stacks[name]
	return ok
}

// AddStack records a stack. A nil options map is stored as empty.
func (l *Lock) AddStack(name string, options map[string]string) {
	if options == nil {
		options = make(map[string]string)
	}
	l.Stacks[name] = &StackInfo{Name: name, Options: options}
}

// SetOption updates one option on an installed stack.
func (l *Lock) SetOption(stackName, option, value string) error {
	info, ok := l.Stacks[stackName]
	if !ok {
		return fmt.Errorf("stack %q not installed", stackName)
	}
	if info.Options == nil {
		info.Options = make(map[string]string)
	}
	info.Options[option] = value
	return nil
}

// Merge folds newly installed stacks and option updates into the
// lock and refreshes the version and timestamp.
func (l *Lock) Merge(version string, newStacks []string, newOptions map[string]map[string]string) {
	for _, name := range newStacks {
		if !l.HasStack(name) {
			l.AddStack(name, newOptions[name])
		}
	}
	for stackName, opts := range newOptions {
		if !l.HasStack(stackName) {
			continue
		}
		for opt, value := range opts {
			_ = l.SetOption(stackName, opt, value)
		}
	}
	l.Version = version
	l.InstalledAt = timestamp()
}

// Checksum returns the SHA-256 hex digest of a file, or "" when the
// file does not exist.
func Checksum(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Checksums computes digests for files relative to target. Missing
// files are skipped.
func Checksums(target string, files []string) map[string]string {
	sums := make(map[string]string, len(files))
	for _, rel := range files {
		full := filepath.Join(target, rel)
		if _, err := os.Stat(full); err != nil {
			continue
		}
		sums[rel] = Checksum(full)
	}
	return sums
}

// ModifiedFiles returns the recorded files whose content changed
// since installation, sorted. Deleted files are not modified.
func ModifiedFiles(target string, l *Lock) []string {
	var modified []string
	for rel, original := range l.FileChecksums {
		full := filepath.Join(target, rel)
		if _, err := os.Stat(full); err != nil {
			continue
		}
		if Checksum(full) != original {
			modified = append(modified, rel)
		}
	}
	sort.Strings(modified)
	return modified
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
