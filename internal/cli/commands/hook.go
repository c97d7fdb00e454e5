package commands

import (
	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/hooks"
)

// HookOptions holds options for the hook command.
type HookOptions struct {
	Stacks []string
	DryRun bool
}

// NewHookCommand creates the hook command.
func NewHookCommand() *cobra.Command {
	opts := &HookOptions{}
	cmd := &cobra.Command{
		Use:   "hook <kind> [file...]",
		Short: "Run a post-edit hook over changed files",
		Long: `Run one of the post-edit hooks (format, lint, test) over a set of
edited files. The installed .claude/hooks shim scripts call this after
every edit; it resolves the project's stacks from the lock file,
filters the files each stack cares about, and runs that stack's tool
once over the surviving subset.

The process exit code is the tool's exit code, so a failing linter
blocks the pipeline the same way it would from a shell.`,
		Example: `  # Format two edited files
  agentsmith hook format app/models/user.rb app/models/order.rb

  # Show what the lint hook would run
  agentsmith hook lint --dry-run src/pages/index.tsx

  # Force the stack instead of reading the lock file
  agentsmith hook test --stack rails spec/models/user_spec.rb`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, opts, args)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Stacks, "stack", nil, "Stack to run tools for (repeatable, overrides the lock file)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print tool commands without executing them")

	return cmd
}

func runHook(cmd *cobra.Command, opts *HookOptions, args []string) error {
	c := NewCommandContext(cmd)

	kind, err := hooks.ParseKind(args[0])
	if err != nil {
		return err
	}

	stacks := opts.Stacks
	if len(stacks) == 0 {
		stacks = c.Cfg.Hooks.Stacks
	}

	eng := &hooks.Engine{
		Dir:    c.Cfg.ProjectRoot,
		Stacks: stacks,
		DryRun: opts.DryRun,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}

	code, err := eng.Hook(cmd.Context(), kind, args[1:])
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
