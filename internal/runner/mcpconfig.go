package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentsmith-labs/agentsmith/internal/project"
)

// requiredTools are pre-authorized for every spawned process. In
// headless (-p) mode there is no terminal to approve permission
// prompts, so the orchestrator and its subagents would hang without
// these.
var requiredTools = []string{
	"Read",
	"Write",
	"Edit",
	"Bash",
	"Glob",
	"Grep",
	"Task",
	"TodoWrite",
	"WebFetch",
	"WebSearch",
	"mcp__agentsmith__task_register",
	"mcp__agentsmith__task_create_subtask",
	"mcp__agentsmith__task_update_status",
	"mcp__agentsmith__task_update_phase",
	"mcp__agentsmith__task_log",
	"mcp__agentsmith__task_ask_question",
	"mcp__agentsmith__task_get",
	"mcp__agentsmith__task_add_artifact",
}

// allowedTools merges the required set with the project's
// .claude/settings.json allow list. Settings entries may carry
// restrictive patterns like Bash(git *); merging keeps the broad
// required entries alongside them.
func (m *Manager) allowedTools() []string {
	set := make(map[string]bool, len(requiredTools))
	for _, tool := range requiredTools {
		set[tool] = true
	}

	if settings, err := readSettings(m.root); err == nil {
		if perms, ok := settings["permissions"].(map[string]any); ok {
			if allow, ok := perms["allow"].([]any); ok {
				for _, entry := range allow {
					if tool, ok := entry.(string); ok && tool != "" {
						set[tool] = true
					}
				}
			}
		}
	}

	tools := make([]string, 0, len(set))
	for tool := range set {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

func joinTools(tools []string) string {
	return strings.Join(tools, ",")
}

// writeMCPConfig generates an MCP config with absolute paths for
// headless mode. The agent CLI's -p mode does not auto-load MCP
// servers from .claude/settings.json, so the server list is copied
// out with relative commands and env values resolved against the
// project root. Returns "" when no servers are configured.
func (m *Manager) writeMCPConfig() (string, error) {
	settings, err := readSettings(m.root)
	if err != nil {
		return "", nil
	}
	servers, ok := settings["mcpServers"].(map[string]any)
	if !ok || len(servers) == 0 {
		return "", nil
	}

	resolved := make(map[string]any, len(servers))
	for name, raw := range servers {
		config, ok := raw.(map[string]any)
		if !ok {
			resolved[name] = raw
			continue
		}
		copied := make(map[string]any, len(config))
		for k, v := range config {
			copied[k] = v
		}
		if cmd, ok := copied["command"].(string); ok && relPathLike(cmd) {
			copied["command"] = filepath.Join(m.root, cmd)
		}
		if env, ok := copied["env"].(map[string]any); ok {
			resolvedEnv := make(map[string]any, len(env))
			for key, val := range env {
				if s, ok := val.(string); ok && relPathLike(s) {
					resolvedEnv[key] = filepath.Join(m.root, s)
				} else {
					resolvedEnv[key] = val
				}
			}
			copied["env"] = resolvedEnv
		}
		resolved[name] = copied
	}

	data, err := json.MarshalIndent(map[string]any{"mcpServers": resolved}, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	stateDir := project.StatePath(m.root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(stateDir, "mcp-config.json")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

// relPathLike reports whether a value is a relative path rather than
// a bare executable name or an absolute path. Bare names stay as-is
// so PATH lookup still applies.
func relPathLike(s string) bool {
	return s != "" && !filepath.IsAbs(s) && strings.Contains(s, "/")
}

func readSettings(root string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(project.ClaudePath(root), "settings.json"))
	if err != nil {
		return nil, err
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}
