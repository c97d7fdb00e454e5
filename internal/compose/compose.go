// Package compose merges one or more stacks into a single installable
// configuration: agents with resolved models, deduplicated skills,
// quality gates per stack, pattern and style documents, and merged
// template variables.
package compose

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

// multiStackWorkingDirs assigns each stack its subdirectory in a
// multi-stack repository so gates and dev servers target the right
// folder.
var multiStackWorkingDirs = map[string]string{
	"nextjs":       "web",
	"nuxt":         "web",
	"rails":        "backend",
	"ruby":         "backend",
	"sinatra":      "backend",
	"fastapi":      "backend",
	"python":       "backend",
	"flask":        "backend",
	"django":       "backend",
	"javascript":   "backend",
	"express":      "backend",
	"go":           "backend",
	"gin":          "backend",
	"fiber":        "backend",
	"chi":          "backend",
	"elixir":       "backend",
	"phoenix":      "backend",
	"react-native": "mobile",
	"scraping":     "scraping",
}

// Params controls a composition.
type Params struct {
	// Names is the ordered list of stacks to compose.
	Names []string

	// DefaultModel overrides every stack's default agent model.
	DefaultModel string

	// Options holds explicit selections: stack -> option -> choice.
	// Explicit selections win over the profile's.
	Options map[string]map[string]string

	// Profile contributes default option selections and variables.
	Profile *stack.Profile
}

// Result is a composed configuration ready for rendering.
type Result struct {
	Stacks []*stack.Stack

	// Agents is the merged agent list; on name conflicts the later
	// stack wins, keeping the first stack's position.
	Agents []stack.Agent

	// Skills is sorted and deduplicated across stacks and options.
	Skills []string

	// QualityGates maps stack name -> gate name -> gate.
	QualityGates map[string]map[string]*stack.QualityGate

	// Patterns and Styles map document filename -> content.
	Patterns map[string][]byte
	Styles   map[string][]byte

	Variables    map[string]any
	DefaultModel string

	// SelectedOptions records the effective choice for every option:
	// stack -> option -> choice.
	SelectedOptions map[string]map[string]string

	// Warnings are non-fatal composition notes, e.g. agent conflicts.
	Warnings []string
}

// Compose loads the named stacks and merges them.
func Compose(reg *stack.Registry, p Params) (*Result, error) {
	if len(p.Names) == 0 {
		return nil, errors.New("at least one stack is required")
	}

	merged := mergeOptionSelections(p.Profile, p.Options)

	stacks, err := reg.LoadAll(p.Names)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Stacks:          stacks,
		QualityGates:    make(map[string]map[string]*stack.QualityGate),
		Patterns:        make(map[string][]byte),
		Styles:          make(map[string][]byte),
		Variables:       make(map[string]any),
		SelectedOptions: make(map[string]map[string]string),
	}

	if len(stacks) > 1 {
		if err := checkCompatibility(stacks); err != nil {
			return nil, err
		}
		result.Warnings = agentConflictWarnings(stacks)
	}

	mergeAgents(result, stacks, p.DefaultModel)

	skillSet := make(map[string]bool)
	for _, st := range stacks {
		for _, skill := range st.Skills {
			skillSet[skill] = true
		}
	}

	for _, st := range stacks {
		for _, rel := range st.Patterns {
			addDocument(result.Patterns, st, rel)
		}
		for _, rel := range st.Styles {
			addDocument(result.Styles, st, rel)
		}
		for k, v := range st.Variables {
			result.Variables[k] = v
		}

		if len(st.Options) > 0 {
			if err := applyOptions(result, st, merged[st.Name], skillSet); err != nil {
				return nil, err
			}
		}

		// After option overrides so the result sees the final map.
		result.QualityGates[st.Name] = st.QualityGates
	}

	if p.Profile != nil {
		for k, v := range p.Profile.Variables {
			result.Variables[k] = v
		}
	}

	if len(stacks) > 1 {
		assignWorkingDirs(stacks)
	}

	result.Skills = sortedKeys(skillSet)

	result.DefaultModel = p.DefaultModel
	if result.DefaultModel == "" {
		result.DefaultModel = stacks[0].DefaultModel
	}

	return result, nil
}

// mergeOptionSelections overlays explicit selections on the profile's.
func mergeOptionSelections(profile *stack.Profile, explicit map[string]map[string]string) map[string]map[string]string {
	merged := make(map[string]map[string]string)
	if profile != nil {
		for stackName, opts := range profile.Options {
			merged[stackName] = make(map[string]string, len(opts))
			for k, v := range opts {
				merged[stackName][k] = v
			}
		}
	}
	for stackName, opts := range explicit {
		if merged[stackName] == nil {
			merged[stackName] = make(map[string]string, len(opts))
		}
		for k, v := range opts {
			merged[stackName][k] = v
		}
	}
	return merged
}

// checkCompatibility requires every stack to list every other in its
// compatible_with.
func checkCompatibility(stacks []*stack.Stack) error {
	var problems []string
	for _, st := range stacks {
		compat := make(map[string]bool, len(st.CompatibleWith))
		for _, name := range st.CompatibleWith {
			compat[name] = true
		}
		for _, other := range stacks {
			if other.Name == st.Name || compat[other.Name] {
				continue
			}
			problems = append(problems,
				fmt.Sprintf("stack %q is not compatible with %q. Add %q to compatible_with in %s's stack.yaml",
					st.Name, other.Name, other.Name, st.Name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("stack compatibility errors:\n%s", strings.Join(problems, "\n"))
	}
	return nil
}

// agentConflictWarnings reports agents defined by more than one stack.
// Conflicts are allowed; the later stack wins.
func agentConflictWarnings(stacks []*stack.Stack) []string {
	var warnings []string
	sources := make(map[string]string)
	for _, st := range stacks {
		for _, a := range st.Agents {
			if prev, ok := sources[a.Name]; ok {
				warnings = append(warnings,
					fmt.Sprintf("agent %q defined in both %q and %q; the latter wins", a.Name, prev, st.Name))
			}
			sources[a.Name] = st.Name
		}
	}
	return warnings
}

// mergeAgents resolves each agent's model and merges across stacks,
// later stacks winning by name. Models are resolved on the stack's
// own agents too so per-stack rendering sees them.
func mergeAgents(result *Result, stacks []*stack.Stack, defaultModel string) {
	index := make(map[string]int)
	for _, st := range stacks {
		for i := range st.Agents {
			a := &st.Agents[i]
			if a.Model == "" {
				if defaultModel != "" {
					a.Model = defaultModel
				} else {
					a.Model = st.DefaultModel
				}
			}
			if j, ok := index[a.Name]; ok {
				result.Agents[j] = *a
				continue
			}
			index[a.Name] = len(result.Agents)
			result.Agents = append(result.Agents, *a)
		}
	}
}

// addDocument reads rel from the stack (with parent fallback) and
// stores it by base filename. Missing documents are skipped.
func addDocument(docs map[string][]byte, st *stack.Stack, rel string) {
	data, err := st.ReadFile(rel)
	if err != nil {
		return
	}
	docs[path.Base(rel)] = data
}

// applyOptions validates the selections for one stack and folds the
// chosen contributions into the result.
func applyOptions(result *Result, st *stack.Stack, selections map[string]string, skillSet map[string]bool) error {
	chosen := make(map[string]string, len(st.Options))

	for _, optName := range sortedOptionNames(st.Options) {
		opt := st.Options[optName]

		choiceName := opt.Default
		if sel, ok := selections[optName]; ok {
			choiceName = sel
		}

		choice, ok := opt.Choices[choiceName]
		if !ok {
			available := make([]string, 0, len(opt.Choices))
			for name := range opt.Choices {
				available = append(available, name)
			}
			sort.Strings(available)
			return fmt.Errorf("invalid choice %q for option %q in stack %q. Available: %s",
				choiceName, optName, st.Name, strings.Join(available, ", "))
		}

		for _, rel := range choice.Patterns {
			addDocument(result.Patterns, st, rel)
		}
		for _, rel := range choice.Styles {
			addDocument(result.Styles, st, rel)
		}
		for _, skill := range choice.Skills {
			skillSet[skill] = true
			if !slices.Contains(st.Skills, skill) {
				st.Skills = append(st.Skills, skill)
			}
		}
		for k, v := range choice.Variables {
			result.Variables[k] = v
		}
		for gateName, gate := range choice.QualityGates {
			if gate == nil {
				continue
			}
			if st.QualityGates == nil {
				st.QualityGates = make(map[string]*stack.QualityGate)
			}
			override := *gate
			override.Name = gateName
			st.QualityGates[gateName] = &override
		}

		chosen[optName] = choiceName
	}

	result.SelectedOptions[st.Name] = chosen
	return nil
}

// assignWorkingDirs gives each stack its multi-repo subdirectory and
// prefixes gate commands so they run from it.
func assignWorkingDirs(stacks []*stack.Stack) {
	for _, st := range stacks {
		if dir, ok := multiStackWorkingDirs[st.Name]; ok {
			st.WorkingDir = dir
		}
	}
	for _, st := range stacks {
		if st.WorkingDir == "." {
			continue
		}
		for _, gate := range st.QualityGates {
			gate.Command = fmt.Sprintf("cd %s && %s", st.WorkingDir, gate.Command)
			if gate.FixCommand != "" {
				gate.FixCommand = fmt.Sprintf("cd %s && %s", st.WorkingDir, gate.FixCommand)
			}
		}
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedOptionNames(opts map[string]*stack.Option) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
