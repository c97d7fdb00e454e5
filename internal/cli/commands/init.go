package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
	"github.com/agentsmith-labs/agentsmith/internal/compose"
	"github.com/agentsmith-labs/agentsmith/internal/corpus"
	"github.com/agentsmith-labs/agentsmith/internal/install"
	"github.com/agentsmith-labs/agentsmith/internal/render"
	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

// InitOptions holds options for the init command.
type InitOptions struct {
	Profile         string
	Force           bool
	PreserveContext bool
	DryRun          bool
	Set             []string
}

// NewInitCommand creates the init command.
func NewInitCommand(version string) *cobra.Command {
	opts := &InitOptions{}

	cmd := &cobra.Command{
		Use:   "init <stack>[+<stack>...] [target]",
		Short: "Install agent configuration into a repository",
		Long: `Compose one or more stacks and install the result into a repository:
agent definitions under .claude/agents, pattern and style documents
under .claude/context, skills, post-edit hooks, settings.json, and a
CLAUDE.md entry point.

A lock file (.claude/agentsmith.lock) records the installed stacks,
their option selections, and file checksums so doctor can tell your
edits apart from pristine files.`,
		Example: `  # Install the Rails stack into the current repository
  agentsmith init rails

  # Next.js frontend plus Rails API in one repository
  agentsmith init nextjs+rails

  # A profile with pre-selected stacks and options
  agentsmith init --profile saas .

  # Pick the state management option explicitly
  agentsmith init nextjs --set nextjs.state=redux

  # See what would be written without touching anything
  agentsmith init rails --dry-run`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts, args, version)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "", "Install a named profile instead of listing stacks")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Replace an existing .claude directory")
	cmd.Flags().BoolVar(&opts.PreserveContext, "preserve-context", false, "Keep .claude/context when forcing")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the files that would be written without writing them")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "Option selection as stack.option=choice (repeatable)")

	return cmd
}

// initJSON is the machine-readable init result.
type initJSON struct {
	Target   string                       `json:"target"`
	DryRun   bool                         `json:"dry_run"`
	Stacks   []string                     `json:"stacks"`
	Profile  string                       `json:"profile,omitempty"`
	Options  map[string]map[string]string `json:"options"`
	Agents   int                          `json:"agents"`
	Skills   int                          `json:"skills"`
	Patterns int                          `json:"patterns"`
	Styles   int                          `json:"styles"`
	Hooks    int                          `json:"hooks"`
	Files    []string                     `json:"files"`
	Warnings []string                     `json:"warnings,omitempty"`
}

func runInit(cmd *cobra.Command, opts *InitOptions, args []string, version string) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	names, target, err := initArgs(opts, args)
	if err != nil {
		return err
	}

	var profile *stack.Profile
	if opts.Profile != "" {
		profile, err = c.Registry.LoadProfile(opts.Profile)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			names = profile.Stacks
		}
	}

	selections, err := parseSetFlags(opts.Set)
	if err != nil {
		return err
	}

	res, err := compose.Compose(c.Registry, compose.Params{
		Names:        names,
		DefaultModel: c.Cfg.DefaultModel,
		Options:      selections,
		Profile:      profile,
	})
	if err != nil {
		return err
	}

	out, err := render.Render(corpus.Base(), res, true)
	if err != nil {
		return err
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving target: %w", err)
	}

	result, err := install.Install(out, install.Options{
		Target:          absTarget,
		Stacks:          names,
		Force:           opts.Force,
		PreserveContext: opts.PreserveContext,
		DryRun:          opts.DryRun,
		Selected:        res.SelectedOptions,
		Profile:         opts.Profile,
		Version:         version,
	})
	if err != nil {
		return err
	}

	warnings := append(append([]string{}, res.Warnings...), out.Warnings...)

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(initJSON{
			Target:   result.Target,
			DryRun:   result.DryRun,
			Stacks:   names,
			Profile:  opts.Profile,
			Options:  res.SelectedOptions,
			Agents:   result.Agents,
			Skills:   result.Skills,
			Patterns: result.Patterns,
			Styles:   result.Styles,
			Hooks:    result.Hooks,
			Files:    result.Files,
			Warnings: warnings,
		})
	}

	renderInitReport(r, names, target, opts, warnings, result)
	return nil
}

func renderInitReport(r *output.Renderer, names []string, target string, opts *InitOptions, warnings []string, result *install.Result) {
	r.Header(1, "Bootstrapping: "+strings.Join(names, " + "))
	r.Printf("Target: %s\n", result.Target)
	if opts.Profile != "" {
		r.Printf("Profile: %s\n", opts.Profile)
	}
	if result.DryRun {
		r.Println("Mode: DRY RUN")
	}
	r.Println("")

	for _, w := range warnings {
		r.Warning(w)
	}

	if result.DryRun {
		r.Header(2, fmt.Sprintf("Would write %d files", len(result.Files)))
		for _, f := range result.Files {
			r.StatusLine(f, "skipped", "")
		}
		return
	}

	r.Header(2, "Installed")
	r.Printf("  %-10s %d\n", "agents", result.Agents)
	r.Printf("  %-10s %d\n", "skills", result.Skills)
	r.Printf("  %-10s %d\n", "patterns", result.Patterns)
	r.Printf("  %-10s %d\n", "styles", result.Styles)
	r.Printf("  %-10s %d\n", "hooks", result.Hooks)
	r.Println("")

	r.Success("Agent configuration installed!")
	r.Println("")
	r.Println("Next steps:")
	step := 1
	if target != "." {
		r.Printf("  %d. cd %s\n", step, target)
		step++
	}
	r.Printf("  %d. Review the conventions under .claude/context/\n", step)
	r.Printf("  %d. Run 'claude' and ask: Use PM: build your first feature\n", step+1)
	r.Printf("  %d. Run 'agentsmith dashboard' to watch tasks and answer questions\n", step+2)
}

// initArgs resolves the positional arguments. Without --profile the
// first argument is the stack list; with --profile a single argument
// is the target directory.
func initArgs(opts *InitOptions, args []string) ([]string, string, error) {
	target := "."
	var names []string

	switch len(args) {
	case 0:
		if opts.Profile == "" {
			return nil, "", errors.New("a stack argument or --profile is required")
		}
	case 1:
		if opts.Profile != "" {
			target = args[0]
		} else {
			names = stack.ParseNames(args[0])
		}
	case 2:
		names = stack.ParseNames(args[0])
		target = args[1]
	}

	if opts.Profile == "" && len(names) == 0 {
		return nil, "", errors.New("a stack argument or --profile is required")
	}
	return names, target, nil
}

// parseSetFlags turns --set rails.jobs=sidekiq entries into nested
// selections: stack -> option -> choice.
func parseSetFlags(entries []string) (map[string]map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	selections := make(map[string]map[string]string)
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		stackName, option, dotted := strings.Cut(key, ".")
		if !ok || !dotted || stackName == "" || option == "" || value == "" {
			return nil, fmt.Errorf("invalid --set %q (expected stack.option=choice)", entry)
		}
		if selections[stackName] == nil {
			selections[stackName] = make(map[string]string)
		}
		selections[stackName][option] = value
	}
	return selections, nil
}
