package dashboard

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentsmith-labs/agentsmith/internal/project"
)

// AgentInfo describes one agent definition file.
type AgentInfo struct {
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

// descriptionPattern pulls the description out of an agent file's
// frontmatter. It handles inline values and the first line of a block
// scalar (description: |).
var descriptionPattern = regexp.MustCompile(`(?m)^description:\s*\|?\s*\n?\s*(.+?)$`)

// scanAgents lists the agent definitions under the agents directory,
// sorted by filename. A missing directory yields an empty list.
func scanAgents(root string) []AgentInfo {
	agents := []AgentInfo{}

	dir := filepath.Join(project.ClaudePath(root), "agents")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return agents
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}

		description := ""
		if m := descriptionPattern.FindSubmatch(content); m != nil {
			description = strings.TrimSpace(string(m[1]))
		}

		agents = append(agents, AgentInfo{
			Name:        strings.TrimSuffix(entry.Name(), ".md"),
			Filename:    entry.Name(),
			Description: description,
		})
	}

	return agents
}
