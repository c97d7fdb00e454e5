// Package stack loads and validates stack definitions. A stack is a
// directory holding a stack.yaml plus the agent templates, pattern and
// style documents, and skill trees it references. Stacks ship embedded
// in the binary; a local directory can overlay them by name.
package stack

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Stack is a resolved stack definition. When the definition extends a
// parent, the parent's fields are already merged in.
type Stack struct {
	Name           string                  `yaml:"name"`
	DisplayName    string                  `yaml:"display_name"`
	Description    string                  `yaml:"description"`
	DefaultModel   string                  `yaml:"default_model"`
	CompatibleWith []string                `yaml:"compatible_with"`
	Extends        string                  `yaml:"extends"`
	Agents         []Agent                 `yaml:"agents"`
	Skills         []string                `yaml:"skills"`
	QualityGates   map[string]*QualityGate `yaml:"quality_gates"`
	WorkingDir     string                  `yaml:"working_dir"`
	Patterns       []string                `yaml:"patterns"`
	Styles         []string                `yaml:"styles"`
	Variables      map[string]any          `yaml:"variables"`
	Options        map[string]*Option      `yaml:"options"`
	Verification   *Verification           `yaml:"verification"`

	source fs.FS
	parent fs.FS
}

// Agent is one agent definition within a stack.
type Agent struct {
	Name        string   `yaml:"name"`
	Template    string   `yaml:"template"`
	Tools       []string `yaml:"tools"`
	Description string   `yaml:"description"`

	// Model is empty when the agent uses the stack default.
	Model string `yaml:"model"`

	Skills []string `yaml:"skills"`
	Memory string   `yaml:"memory"`

	// SourceStack names the stack directory that owns this agent's
	// template. Inherited agents keep their parent as the source.
	SourceStack string `yaml:"-"`
}

// QualityGate is a named check the orchestrator runs before accepting
// work, e.g. lint or tests.
type QualityGate struct {
	Name        string `yaml:"-"`
	Command     string `yaml:"command"`
	FixCommand  string `yaml:"fix_command"`
	Description string `yaml:"description"`
}

// Option is a configurable axis of a stack, such as the state
// management library or the background job system.
type Option struct {
	Name        string                   `yaml:"-"`
	Description string                   `yaml:"description"`
	Default     string                   `yaml:"default"`
	Choices     map[string]*OptionChoice `yaml:"choices"`
}

// OptionChoice is what a single option value contributes to the
// composed configuration.
type OptionChoice struct {
	Name         string                  `yaml:"-"`
	Description  string                  `yaml:"description"`
	Patterns     []string                `yaml:"patterns"`
	Styles       []string                `yaml:"styles"`
	Skills       []string                `yaml:"skills"`
	Variables    map[string]any          `yaml:"variables"`
	QualityGates map[string]*QualityGate `yaml:"quality_gates"`
}

// Verification describes how to check the stack's app is alive.
type Verification struct {
	DevServer *DevServer `yaml:"dev_server"`
}

// DevServer is the development server a stack runs locally.
type DevServer struct {
	Command string `yaml:"command"`
	Port    int    `yaml:"port"`
}

// Profile is a named stack combination with pre-selected options.
type Profile struct {
	Name        string                       `yaml:"name"`
	DisplayName string                       `yaml:"display_name"`
	Description string                       `yaml:"description"`
	Stacks      []string                     `yaml:"stacks"`
	Options     map[string]map[string]string `yaml:"options"`
	Variables   map[string]any               `yaml:"variables"`
}

// ReadFile reads a file from the stack directory, falling back to the
// parent stack's directory for inherited resources.
func (s *Stack) ReadFile(rel string) ([]byte, error) {
	if s.source != nil {
		if data, err := fs.ReadFile(s.source, rel); err == nil {
			return data, nil
		}
	}
	if s.parent != nil {
		if data, err := fs.ReadFile(s.parent, rel); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("stack %q: %s: %w", s.Name, rel, os.ErrNotExist)
}

// HasFile reports whether rel exists in the stack or parent directory.
func (s *Stack) HasFile(rel string) bool {
	_, err := s.ReadFile(rel)
	return err == nil
}

// FindDir returns the filesystem holding rel as a directory, checking
// the stack directory first and then the parent. Used to copy skill
// trees.
func (s *Stack) FindDir(rel string) (fs.FS, bool) {
	for _, fsys := range []fs.FS{s.source, s.parent} {
		if fsys == nil {
			continue
		}
		if info, err := fs.Stat(fsys, rel); err == nil && info.IsDir() {
			return fsys, true
		}
	}
	return nil, false
}

// normalize fills in derived fields after YAML decoding: map keys
// become names, defaults apply, and agents inherit the stack as their
// source when inheritance did not set one.
func (s *Stack) normalize() {
	if s.DefaultModel == "" {
		s.DefaultModel = "sonnet"
	}
	if s.WorkingDir == "" {
		s.WorkingDir = "."
	}
	for name, gate := range s.QualityGates {
		if gate != nil {
			gate.Name = name
		}
	}
	for name, opt := range s.Options {
		if opt == nil {
			continue
		}
		opt.Name = name
		for choiceName, choice := range opt.Choices {
			if choice != nil {
				choice.Name = choiceName
			}
		}
	}
	for i := range s.Agents {
		if s.Agents[i].SourceStack == "" {
			s.Agents[i].SourceStack = s.Name
		}
	}
}

// ParseNames splits a stack argument like "rails", "rails+nextjs", or
// "rails,nextjs" into individual names.
func ParseNames(arg string) []string {
	sep := ","
	if strings.Contains(arg, "+") {
		sep = "+"
	}
	var names []string
	for _, part := range strings.Split(arg, sep) {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}
