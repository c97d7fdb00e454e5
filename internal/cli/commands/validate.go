package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <stack>",
		Short: "Validate a stack definition",
		Long: `Check a stack.yaml for structural problems: missing names or
templates, gates without commands, options whose default is not among
the choices, and invalid extends chains.

Exits 1 when the definition has errors, which makes it usable in CI
for local stack directories.`,
		Example: `  agentsmith validate rails
  agentsmith validate my-stack --stacks-dir ./my-stacks`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
}

func runValidate(cmd *cobra.Command, name string) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	issues, err := c.Registry.Validate(name)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(map[string]any{
			"stack":  name,
			"valid":  len(issues) == 0,
			"issues": issues,
		}); err != nil {
			return err
		}
		if len(issues) > 0 {
			return &ExitError{Code: 1}
		}
		return nil
	}

	if len(issues) == 0 {
		r.Success(fmt.Sprintf("Stack %s is valid", name))
		return nil
	}

	r.Header(1, fmt.Sprintf("Stack %s has %d problems", name, len(issues)))
	for _, issue := range issues {
		r.StatusLine(issue, "failed", "")
	}
	return &ExitError{Code: 1}
}
