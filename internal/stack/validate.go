package stack

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	validModels = map[string]bool{"opus": true, "sonnet": true, "haiku": true}
)

// Validate checks a resolved stack definition for structural problems.
// Each message is formatted as "[path] message" so callers can print
// them directly.
func Validate(s *Stack) []string {
	var errs []string

	if s.Name == "" {
		errs = append(errs, "[name] is required")
	} else if !slugPattern.MatchString(s.Name) {
		errs = append(errs, fmt.Sprintf("[name] %q must be a lowercase slug (letters, digits, hyphens)", s.Name))
	}

	if s.DefaultModel != "" && !validModels[s.DefaultModel] {
		errs = append(errs, fmt.Sprintf("[default_model] %q must be one of opus, sonnet, haiku", s.DefaultModel))
	}

	for i, agent := range s.Agents {
		if agent.Name == "" {
			errs = append(errs, fmt.Sprintf("[agents -> %d -> name] is required", i))
		}
		if agent.Template == "" {
			errs = append(errs, fmt.Sprintf("[agents -> %d -> template] is required", i))
		}
		if agent.Model != "" && !validModels[agent.Model] {
			errs = append(errs, fmt.Sprintf("[agents -> %d -> model] %q must be one of opus, sonnet, haiku", i, agent.Model))
		}
	}

	for _, name := range sortedGateNames(s.QualityGates) {
		gate := s.QualityGates[name]
		if gate == nil || gate.Command == "" {
			errs = append(errs, fmt.Sprintf("[quality_gates -> %s -> command] is required", name))
		}
	}

	for _, name := range sortedOptionNames(s.Options) {
		opt := s.Options[name]
		if opt == nil || len(opt.Choices) == 0 {
			errs = append(errs, fmt.Sprintf("[options -> %s -> choices] at least one choice is required", name))
			continue
		}
		if opt.Default == "" {
			errs = append(errs, fmt.Sprintf("[options -> %s -> default] is required", name))
			continue
		}
		if _, ok := opt.Choices[opt.Default]; !ok {
			choices := make([]string, 0, len(opt.Choices))
			for c := range opt.Choices {
				choices = append(choices, c)
			}
			sort.Strings(choices)
			errs = append(errs, fmt.Sprintf("[options -> %s -> default] %q is not one of the choices (%s)",
				name, opt.Default, strings.Join(choices, ", ")))
		}
	}

	return errs
}

func sortedGateNames(gates map[string]*QualityGate) []string {
	names := make([]string, 0, len(gates))
	for name := range gates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedOptionNames(opts map[string]*Option) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
