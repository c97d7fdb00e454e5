package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
)

// NewOptionsCommand creates the options command.
func NewOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options <stack>",
		Short: "Show a stack's configurable options",
		Long: `Show the options a stack exposes, their default choices, and the
alternatives. Select a choice at install time with
'agentsmith init <stack> --set <stack>.<option>=<choice>'.`,
		Example: `  agentsmith options nextjs
  agentsmith options rails --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptions(cmd, args[0])
		},
	}
}

type optionSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Default     string   `json:"default"`
	Choices     []string `json:"choices"`
}

func runOptions(cmd *cobra.Command, name string) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	st, err := c.Registry.Load(name)
	if err != nil {
		return err
	}

	summaries := make([]optionSummary, 0, len(st.Options))
	for _, optName := range sortedMapKeys(st.Options) {
		opt := st.Options[optName]
		summaries = append(summaries, optionSummary{
			Name:        optName,
			Description: opt.Description,
			Default:     opt.Default,
			Choices:     sortedMapKeys(opt.Choices),
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"stack": st.Name, "options": summaries})
	}

	if len(summaries) == 0 {
		r.Printf("Stack %s has no configurable options.\n", st.Name)
		return nil
	}

	r.Header(1, fmt.Sprintf("Options for %s", st.Name))

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Option", "Default", "Choices", "Description"})
	for _, o := range summaries {
		t.AppendRow(table.Row{o.Name, o.Default, strings.Join(o.Choices, ", "), o.Description})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}

	r.Println("")
	r.Printf("Select one with 'agentsmith init %s --set %s.<option>=<choice>'.\n", st.Name, st.Name)
	return nil
}
