package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
)

// NewProfilesCommand creates the profiles command.
func NewProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List installable profiles",
		Long: `List the named profiles: pre-selected stack combinations with their
option choices, installable via 'agentsmith init --profile <name>'.`,
		Example: `  agentsmith profiles
  agentsmith profiles --output json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProfiles(cmd)
		},
	}
}

type profileSummary struct {
	Name        string                       `json:"name"`
	DisplayName string                       `json:"display_name"`
	Description string                       `json:"description"`
	Stacks      []string                     `json:"stacks"`
	Options     map[string]map[string]string `json:"options,omitempty"`
}

func runProfiles(cmd *cobra.Command) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	summaries := make([]profileSummary, 0)
	for _, name := range c.Registry.ProfileNames() {
		p, err := c.Registry.LoadProfile(name)
		if err != nil {
			r.Warning(fmt.Sprintf("skipping %s: %v", name, err))
			continue
		}
		summaries = append(summaries, profileSummary{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			Stacks:      p.Stacks,
			Options:     p.Options,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"profiles": summaries})
	}

	r.Header(1, fmt.Sprintf("Profiles (%d available)", len(summaries)))

	t := table.NewWriter()
	t.SetOutputMirror(r.Writer())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Display Name", "Stacks", "Description"})
	for _, p := range summaries {
		t.AppendRow(table.Row{p.Name, p.DisplayName, strings.Join(p.Stacks, " + "), p.Description})
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		t.RenderMarkdown()
	} else {
		t.Render()
	}

	r.Println("")
	r.Println("Install one with 'agentsmith init --profile <name>'.")
	return nil
}
