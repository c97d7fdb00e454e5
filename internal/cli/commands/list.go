package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
	"github.com/agentsmith-labs/agentsmith/internal/stack"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available stacks",
		Long: `List every stack the binary ships plus any found in a local stacks
directory (--stacks-dir or stacks_dir in agentsmith.yaml).

Output adapts to environment:
  - Terminal: styled table
  - Piped/Scripted: markdown table
  - JSON: machine-readable format`,
		Example: `  # List all stacks
  agentsmith list

  # List stacks as JSON
  agentsmith list --output json

  # Include a local stack directory
  agentsmith list --stacks-dir ./my-stacks`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd)
		},
	}

	return cmd
}

// stackSummary is one row of the stacks listing.
type stackSummary struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Extends     string   `json:"extends,omitempty"`
	Agents      []string `json:"agents"`
	Gates       []string `json:"quality_gates"`
	Options     []string `json:"options,omitempty"`
}

func runList(cmd *cobra.Command) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	summaries := make([]stackSummary, 0)
	for _, name := range c.Registry.List() {
		st, err := c.Registry.Load(name)
		if err != nil {
			r.Warning(fmt.Sprintf("skipping %s: %v", name, err))
			continue
		}
		summaries = append(summaries, summarizeStack(st))
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"stacks": summaries})
	}

	r.Header(1, fmt.Sprintf("Stacks (%d available)", len(summaries)))

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Display Name", "Agents", "Gates"})
	for _, s := range summaries {
		t.AppendRow(table.Row{s.Name, s.DisplayName, strings.Join(s.Agents, ", "), strings.Join(s.Gates, ", ")})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}

	r.Println("")
	r.Println("Run 'agentsmith options <stack>' to see configurable options.")
	return nil
}

func summarizeStack(st *stack.Stack) stackSummary {
	s := stackSummary{
		Name:        st.Name,
		DisplayName: st.DisplayName,
		Description: st.Description,
		Extends:     st.Extends,
		Agents:      make([]string, 0, len(st.Agents)),
		Gates:       make([]string, 0, len(st.QualityGates)),
	}
	for _, a := range st.Agents {
		s.Agents = append(s.Agents, a.Name)
	}
	s.Gates = sortedMapKeys(st.QualityGates)
	s.Options = sortedMapKeys(st.Options)
	return s
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
