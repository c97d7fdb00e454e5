package stack

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry resolves stacks and profiles. Embedded definitions are the
// default; an overlay directory, when set, wins by stack name.
type Registry struct {
	stacks   fs.FS
	profiles fs.FS
	overlay  string
}

// NewRegistry creates a registry over the given stack and profile
// filesystems. overlayDir may be empty.
func NewRegistry(stacksFS, profilesFS fs.FS, overlayDir string) *Registry {
	return &Registry{stacks: stacksFS, profiles: profilesFS, overlay: overlayDir}
}

// List returns all available stack names, sorted. A directory counts
// as a stack when it contains a stack.yaml.
func (r *Registry) List() []string {
	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	if r.stacks != nil {
		entries, err := fs.ReadDir(r.stacks, ".")
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if _, err := fs.Stat(r.stacks, path.Join(e.Name(), "stack.yaml")); err == nil {
					add(e.Name())
				}
			}
		}
	}

	if r.overlay != "" {
		entries, err := os.ReadDir(r.overlay)
		if err == nil {
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if _, err := os.Stat(filepath.Join(r.overlay, e.Name(), "stack.yaml")); err == nil {
					add(e.Name())
				}
			}
		}
	}

	sort.Strings(names)
	return names
}

// Load loads and validates a single stack, resolving inheritance.
func (r *Registry) Load(name string) (*Stack, error) {
	s, err := r.load(name)
	if err != nil {
		return nil, err
	}
	if errs := Validate(s); len(errs) > 0 {
		return nil, fmt.Errorf("invalid stack %q: %s", name, errs[0])
	}
	s.normalize()
	return s, nil
}

// LoadAll loads multiple stacks in order.
func (r *Registry) LoadAll(names []string) ([]*Stack, error) {
	stacks := make([]*Stack, 0, len(names))
	for _, name := range names {
		s, err := r.Load(name)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, s)
	}
	return stacks, nil
}

// Validate loads a stack without failing fast and returns every
// structural problem found. The load error itself (missing stack,
// broken YAML, bad inheritance) is returned as err.
func (r *Registry) Validate(name string) ([]string, error) {
	s, err := r.load(name)
	if err != nil {
		return nil, err
	}
	return Validate(s), nil
}

// load reads and inheritance-resolves a stack without validating it.
func (r *Registry) load(name string) (*Stack, error) {
	src, err := r.find(name)
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(src, "stack.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read stack %q: %w", name, err)
	}

	var s Stack
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s/stack.yaml: %w", name, err)
	}
	s.source = src

	if s.Extends != "" {
		if err := r.applyInheritance(&s); err != nil {
			return nil, err
		}
	}

	return &s, nil
}

// find locates the stack directory, overlay first.
func (r *Registry) find(name string) (fs.FS, error) {
	if r.overlay != "" {
		dir := filepath.Join(r.overlay, name)
		if info, err := os.Stat(filepath.Join(dir, "stack.yaml")); err == nil && !info.IsDir() {
			return os.DirFS(dir), nil
		}
	}

	if r.stacks != nil {
		if sub, err := fs.Sub(r.stacks, name); err == nil {
			if _, err := fs.Stat(sub, "stack.yaml"); err == nil {
				return sub, nil
			}
		}
	}

	available := r.List()
	return nil, fmt.Errorf("stack %q not found. Available stacks: %s",
		name, strings.Join(available, ", "))
}

// applyInheritance merges the parent definition into s. Only one level
// of extends is allowed.
func (r *Registry) applyInheritance(s *Stack) error {
	parentName := s.Extends

	if parentName == s.Name {
		return fmt.Errorf("stack %q cannot extend itself", s.Name)
	}

	parentFS, err := r.find(parentName)
	if err != nil {
		return fmt.Errorf("parent stack %q not found", parentName)
	}

	data, err := fs.ReadFile(parentFS, "stack.yaml")
	if err != nil {
		return fmt.Errorf("failed to read parent stack %q: %w", parentName, err)
	}

	var parent Stack
	if err := yaml.Unmarshal(data, &parent); err != nil {
		return fmt.Errorf("failed to parse %s/stack.yaml: %w", parentName, err)
	}

	if parent.Extends != "" {
		return fmt.Errorf("multi-level inheritance is not supported: parent stack %q also extends %q",
			parentName, parent.Extends)
	}

	mergeInherited(s, &parent, parentName)
	s.parent = parentFS
	return nil
}

// ProfileNames returns available profile names, sorted.
func (r *Registry) ProfileNames() []string {
	var names []string
	if r.profiles != nil {
		matches, err := fs.Glob(r.profiles, "*.yaml")
		if err == nil {
			for _, m := range matches {
				names = append(names, strings.TrimSuffix(m, ".yaml"))
			}
		}
	}
	sort.Strings(names)
	return names
}

// LoadProfile loads a profile by name.
func (r *Registry) LoadProfile(name string) (*Profile, error) {
	if r.profiles == nil {
		return nil, fmt.Errorf("profile %q not found. No profiles available", name)
	}

	data, err := fs.ReadFile(r.profiles, name+".yaml")
	if err != nil {
		available := r.ProfileNames()
		if len(available) > 0 {
			return nil, fmt.Errorf("profile %q not found. Available profiles: %s",
				name, strings.Join(available, ", "))
		}
		return nil, fmt.Errorf("profile %q not found. No profiles available", name)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	return &p, nil
}
