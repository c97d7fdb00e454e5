package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentsmith-labs/agentsmith/internal/cli/output"
	"github.com/agentsmith-labs/agentsmith/internal/lockfile"
	"github.com/agentsmith-labs/agentsmith/internal/project"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor [target]",
		Short: "Check the health of an installation",
		Long: `Inspect an installed target directory and report problems.

The doctor command reads the lock file and verifies the installation:
- Lock file presence and recorded stacks
- Generated files that were modified or deleted since install
- Hook scripts that lost their executable bit
- settings.json validity and agent definitions

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Check the current directory
  agentsmith doctor

  # Check another project as JSON
  agentsmith doctor ../my-app -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}
			return runDoctor(cmd, target)
		},
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Target      string        `json:"target"`
	Installed   bool          `json:"installed"`
	Version     string        `json:"version,omitempty"`
	InstalledAt string        `json:"installed_at,omitempty"`
	Profile     string        `json:"profile,omitempty"`
	Stacks      []string      `json:"stacks,omitempty"`
	Checks      []HealthCheck `json:"checks"`
	Modified    []string      `json:"modified_files,omitempty"`
	Missing     []string      `json:"missing_files,omitempty"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string   `json:"name"`
	Group   string   `json:"group"`
	Status  string   `json:"status"` // "pass", "warn", "error"
	Detail  string   `json:"detail,omitempty"`
	Details []string `json:"details,omitempty"`
}

func runDoctor(cmd *cobra.Command, target string) error {
	c := NewCommandContext(cmd)
	r := c.Renderer

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolving target path: %w", err)
	}

	doctorOutput, err := buildDoctorOutput(c, absTarget)
	if err != nil {
		return err
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(doctorOutput)
	case output.ModeMarkdown:
		return renderDoctorMarkdown(r, doctorOutput)
	default:
		return renderDoctorText(r, doctorOutput)
	}
}

func buildDoctorOutput(c *CommandContext, target string) (*DoctorOutput, error) {
	out := &DoctorOutput{Target: target}

	lock, err := lockfile.Load(target)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		out.Checks = append(out.Checks, HealthCheck{
			Name:   "Lock File",
			Group:  "installation",
			Status: "error",
			Detail: "not installed - run agentsmith init",
		})
		return out, nil
	}

	out.Installed = true
	out.Version = lock.Version
	out.InstalledAt = lock.InstalledAt
	out.Profile = lock.Profile
	out.Stacks = lock.StackNames()

	out.Checks = append(out.Checks, HealthCheck{
		Name:   "Lock File",
		Group:  "installation",
		Status: "pass",
		Detail: fmt.Sprintf("version %s, installed %s", lock.Version, lock.InstalledAt),
	})
	out.Checks = append(out.Checks, checkStacksResolvable(c, lock))
	out.Checks = append(out.Checks, checkTrackedFiles(lock))

	modified, missing := fileDrift(target, lock)
	out.Modified = modified
	out.Missing = missing
	out.Checks = append(out.Checks, checkModifiedFiles(modified))
	out.Checks = append(out.Checks, checkMissingFiles(missing))
	out.Checks = append(out.Checks, checkSettings(target))
	out.Checks = append(out.Checks, checkAgents(target))
	out.Checks = append(out.Checks, checkHookScripts(target))

	return out, nil
}

func checkStacksResolvable(c *CommandContext, lock *lockfile.Lock) HealthCheck {
	var unresolved []string
	for _, name := range lock.StackNames() {
		if _, err := c.Registry.Load(name); err != nil {
			unresolved = append(unresolved, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(unresolved) > 0 {
		return HealthCheck{
			Name:    "Stacks",
			Group:   "installation",
			Status:  "warn",
			Detail:  fmt.Sprintf("%d installed stacks no longer resolve", len(unresolved)),
			Details: unresolved,
		}
	}
	return HealthCheck{
		Name:   "Stacks",
		Group:  "installation",
		Status: "pass",
		Detail: fmt.Sprintf("%d stacks resolvable (%s)", len(lock.Stacks), strings.Join(lock.StackNames(), ", ")),
	}
}

func checkTrackedFiles(lock *lockfile.Lock) HealthCheck {
	return HealthCheck{
		Name:   "Tracked Files",
		Group:  "files",
		Status: "pass",
		Detail: fmt.Sprintf("%d files recorded", len(lock.FileChecksums)),
	}
}

// fileDrift compares the target against the recorded checksums.
// A changed digest means modified; a stat failure means missing.
func fileDrift(target string, lock *lockfile.Lock) (modified, missing []string) {
	modified = lockfile.ModifiedFiles(target, lock)
	for rel := range lock.FileChecksums {
		if _, err := os.Stat(filepath.Join(target, rel)); err != nil {
			missing = append(missing, rel)
		}
	}
	sort.Strings(missing)
	return modified, missing
}

func checkModifiedFiles(modified []string) HealthCheck {
	if len(modified) > 0 {
		return HealthCheck{
			Name:    "Modified Files",
			Group:   "files",
			Status:  "warn",
			Detail:  fmt.Sprintf("%d files changed since install", len(modified)),
			Details: modified,
		}
	}
	return HealthCheck{
		Name:   "Modified Files",
		Group:  "files",
		Status: "pass",
		Detail: "no generated files were edited",
	}
}

func checkMissingFiles(missing []string) HealthCheck {
	if len(missing) > 0 {
		return HealthCheck{
			Name:    "Missing Files",
			Group:   "files",
			Status:  "warn",
			Detail:  fmt.Sprintf("%d recorded files were deleted", len(missing)),
			Details: missing,
		}
	}
	return HealthCheck{
		Name:   "Missing Files",
		Group:  "files",
		Status: "pass",
		Detail: "all recorded files present",
	}
}

func checkSettings(target string) HealthCheck {
	settingsPath := filepath.Join(project.ClaudePath(target), "settings.json")
	data, err := os.ReadFile(settingsPath)
	if os.IsNotExist(err) {
		return HealthCheck{
			Name:   "Settings",
			Group:  "files",
			Status: "warn",
			Detail: "settings.json not found",
		}
	}
	if err != nil {
		return HealthCheck{
			Name:   "Settings",
			Group:  "files",
			Status: "error",
			Detail: err.Error(),
		}
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return HealthCheck{
			Name:   "Settings",
			Group:  "files",
			Status: "error",
			Detail: fmt.Sprintf("settings.json is not valid JSON: %v", err),
		}
	}
	return HealthCheck{
		Name:   "Settings",
		Group:  "files",
		Status: "pass",
		Detail: "settings.json parses",
	}
}

func checkAgents(target string) HealthCheck {
	agentsDir := filepath.Join(project.ClaudePath(target), "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return HealthCheck{
			Name:   "Agents",
			Group:  "files",
			Status: "error",
			Detail: "no agent definitions found",
		}
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			count++
		}
	}
	if count == 0 {
		return HealthCheck{
			Name:   "Agents",
			Group:  "files",
			Status: "error",
			Detail: "no agent definitions found",
		}
	}
	return HealthCheck{
		Name:   "Agents",
		Group:  "files",
		Status: "pass",
		Detail: fmt.Sprintf("%d agent definitions", count),
	}
}

func checkHookScripts(target string) HealthCheck {
	hooksDir := filepath.Join(project.ClaudePath(target), "hooks")
	entries, err := os.ReadDir(hooksDir)
	if err != nil {
		return HealthCheck{
			Name:   "Hook Scripts",
			Group:  "hooks",
			Status: "pass",
			Detail: "none installed",
		}
	}

	var scripts, broken []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sh") {
			continue
		}
		scripts = append(scripts, e.Name())
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			broken = append(broken, e.Name())
		}
	}
	if len(broken) > 0 {
		return HealthCheck{
			Name:    "Hook Scripts",
			Group:   "hooks",
			Status:  "error",
			Detail:  fmt.Sprintf("%d scripts are not executable", len(broken)),
			Details: broken,
		}
	}
	if len(scripts) == 0 {
		return HealthCheck{
			Name:   "Hook Scripts",
			Group:  "hooks",
			Status: "pass",
			Detail: "none installed",
		}
	}
	return HealthCheck{
		Name:   "Hook Scripts",
		Group:  "hooks",
		Status: "pass",
		Detail: fmt.Sprintf("%d scripts executable", len(scripts)),
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) error {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Agentsmith Installation Health"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	r.Printf("   Target: %s\n", out.Target)
	if out.Installed {
		line := strings.Join(out.Stacks, " + ")
		if out.Profile != "" {
			line += fmt.Sprintf(" (profile %s)", out.Profile)
		}
		r.Printf("   Stacks: %s\n", line)
	}
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.StatusSuccess.String()
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render("!")
		case "error":
			icon = styles.StatusFailed.String()
		}

		line := fmt.Sprintf("%s %s", icon, check.Name)
		if check.Detail != "" {
			line += ": " + check.Detail
		}
		r.Println("   " + line)

		for i, detail := range check.Details {
			if i >= 5 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-5)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Printf("   %s\n", doctorVerdict(out, styles))
	r.Println("")

	return nil
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) error {
	r.Println("# Agentsmith Installation Health")
	r.Println("")
	r.Printf("- **Target**: %s\n", out.Target)
	r.Printf("- **Installed**: %v\n", out.Installed)
	if out.Installed {
		r.Printf("- **Stacks**: %s\n", strings.Join(out.Stacks, " + "))
		if out.Profile != "" {
			r.Printf("- **Profile**: %s\n", out.Profile)
		}
	}
	r.Println("")

	r.Println("## Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		status := strings.ToUpper(check.Status)
		r.Printf("- **[%s]** %s", status, check.Name)
		if check.Detail != "" {
			r.Printf(": %s", check.Detail)
		}
		r.Println("")
		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	return nil
}

// doctorVerdict summarizes the checks into one line for text mode.
func doctorVerdict(out *DoctorOutput, styles *output.Styles) string {
	errors, warns := 0, 0
	for _, check := range out.Checks {
		switch check.Status {
		case "error":
			errors++
		case "warn":
			warns++
		}
	}
	switch {
	case errors > 0:
		return styles.Error.Render(fmt.Sprintf("%d problems found", errors+warns))
	case warns > 0:
		return styles.Warning.Render(fmt.Sprintf("Healthy with %d warnings", warns))
	default:
		return styles.Success.Render("Installation healthy")
	}
}
