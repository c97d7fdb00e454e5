package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used across commands.
// In plain modes the styles carry no attributes, so Render is a
// pass-through and output stays free of ANSI codes.
type Styles struct {
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style
	Header1 lipgloss.Style
	Header2 lipgloss.Style

	// StackName styles stack identifiers in listings.
	StackName lipgloss.Style

	// StatusSuccess and StatusFailed render as fixed icons.
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

func newStyles(styled bool) *Styles {
	if !styled {
		plain := lipgloss.NewStyle()
		return &Styles{
			Bold:          plain,
			Muted:         plain,
			Error:         plain,
			Warning:       plain,
			Info:          plain,
			Success:       plain,
			Header1:       plain,
			Header2:       plain,
			StackName:     plain,
			StatusSuccess: plain.SetString("+"),
			StatusFailed:  plain.SetString("x"),
		}
	}
	return &Styles{
		Bold:          lipgloss.NewStyle().Bold(true),
		Muted:         lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		Warning:       lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Info:          lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		Success:       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Header1:       lipgloss.NewStyle().Bold(true).Underline(true),
		Header2:       lipgloss.NewStyle().Bold(true),
		StackName:     lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).SetString("✓"),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).SetString("✗"),
	}
}
