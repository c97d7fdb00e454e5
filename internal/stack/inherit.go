package stack

import "sort"

// mergeInherited resolves single-level inheritance by folding parent
// into child. Child wins on scalars; lists merge parent-first with
// dedup; maps overlay per key with child winning.
func mergeInherited(child, parent *Stack, parentName string) {
	if child.DisplayName == "" {
		child.DisplayName = parent.DisplayName
	}
	if child.Description == "" {
		child.Description = parent.Description
	}
	if child.DefaultModel == "" {
		child.DefaultModel = parent.DefaultModel
	}
	if child.WorkingDir == "" {
		child.WorkingDir = parent.WorkingDir
	}

	child.CompatibleWith = unionSorted(parent.CompatibleWith, child.CompatibleWith)
	child.Agents = mergeAgents(parent.Agents, child.Agents, parentName, child.Name)
	child.Skills = dedupeConcat(parent.Skills, child.Skills)
	child.QualityGates = overlayGates(parent.QualityGates, child.QualityGates)
	child.Patterns = dedupeConcat(parent.Patterns, child.Patterns)
	child.Styles = dedupeConcat(parent.Styles, child.Styles)
	child.Variables = overlayVariables(parent.Variables, child.Variables)
	child.Options = overlayOptions(parent.Options, child.Options)

	if child.Verification == nil {
		child.Verification = parent.Verification
	}
}

// mergeAgents keeps parent order, replaces parent agents the child
// overrides by name, and appends agents only the child defines. Each
// agent is tagged with the stack that owns its template.
func mergeAgents(parentAgents, childAgents []Agent, parentName, childName string) []Agent {
	childByName := make(map[string]Agent, len(childAgents))
	for _, a := range childAgents {
		a.SourceStack = childName
		childByName[a.Name] = a
	}

	merged := make([]Agent, 0, len(parentAgents)+len(childAgents))
	fromParent := make(map[string]bool, len(parentAgents))
	for _, a := range parentAgents {
		fromParent[a.Name] = true
		if override, ok := childByName[a.Name]; ok {
			merged = append(merged, override)
			continue
		}
		a.SourceStack = parentName
		merged = append(merged, a)
	}

	for _, a := range childAgents {
		if !fromParent[a.Name] {
			merged = append(merged, childByName[a.Name])
		}
	}

	return merged
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func dedupeConcat(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func overlayGates(base, override map[string]*QualityGate) map[string]*QualityGate {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]*QualityGate, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func overlayVariables(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func overlayOptions(base, override map[string]*Option) map[string]*Option {
	if base == nil && override == nil {
		return nil
	}
	out := make(map[string]*Option, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
