package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// logStreamLine parses one stream-json line from the agent process and
// logs meaningful content to the task's activity feed. The structure
// varies by event type; unknown shapes fall back to raw text.
func (m *Manager) logStreamLine(taskID string, line []byte) {
	var data map[string]any
	if err := json.Unmarshal(line, &data); err != nil {
		text := string(line)
		if len(text) > 10 {
			m.logStream(taskID, clip(text, 300))
		}
		return
	}

	switch str(data["type"]) {
	case "assistant":
		m.logAssistantMessage(taskID, data)

	case "result":
		if result := str(data["result"]); strings.TrimSpace(result) != "" {
			m.logStream(taskID, "Result: "+clip(result, 300))
		}
		// Nested agent runs report through subResult.
		if sub := str(data["subResult"]); strings.TrimSpace(sub) != "" {
			m.logStream(taskID, "Agent result: "+clip(sub, 300))
		}

	case "tool_use":
		tool := str(data["tool"])
		if tool == "" {
			tool = str(data["name"])
		}
		if tool == "" {
			tool = "unknown"
		}
		msg := "Using tool: " + tool
		if tool == "Task" {
			if input, ok := data["input"].(map[string]any); ok {
				if desc := str(input["description"]); desc != "" {
					msg += " - " + desc
				}
			}
		}
		m.logStream(taskID, clip(msg, 300))

	case "tool_result":
		tool := str(data["tool"])
		if tool == "" {
			tool = str(data["name"])
		}
		prefix := "Tool result: "
		if tool != "" {
			prefix = fmt.Sprintf("Tool result (%s): ", tool)
		}
		switch content := data["content"].(type) {
		case string:
			if len(strings.TrimSpace(content)) > 10 {
				m.logStream(taskID, prefix+clip(content, 250))
			}
		case []any:
			for _, snippet := range textBlocks(content, 250) {
				m.logStream(taskID, prefix+snippet)
			}
		}

	case "system":
		msg := str(data["message"])
		if msg == "" {
			msg = str(data["text"])
		}
		if strings.TrimSpace(msg) != "" {
			if err := m.store.LogActivity(taskID, "message", "system", clip(msg, 300), nil); err != nil {
				m.log.Error("could not log activity", "task", taskID, "error", err)
			}
		}
	}
}

// logAssistantMessage extracts the text of a complete assistant turn.
func (m *Manager) logAssistantMessage(taskID string, data map[string]any) {
	message := data
	if nested, ok := data["message"].(map[string]any); ok {
		message = nested
	}

	hasContent := false
	switch content := message["content"].(type) {
	case []any:
		hasContent = len(content) > 0
		for _, snippet := range textBlocks(content, 300) {
			m.logStream(taskID, snippet)
		}
	case string:
		hasContent = content != ""
		if strings.TrimSpace(content) != "" {
			m.logStream(taskID, clip(content, 300))
		}
	}

	// Some formats carry the turn text at the top level instead.
	if !hasContent {
		if text := str(data["text"]); strings.TrimSpace(text) != "" {
			m.logStream(taskID, clip(text, 300))
		}
	}
}

// logStream records agent output under the CLI's name.
func (m *Manager) logStream(taskID, message string) {
	if err := m.store.LogActivity(taskID, "message", m.agentName(), message, nil); err != nil {
		m.log.Error("could not log activity", "task", taskID, "error", err)
	}
}

// textBlocks collects the non-blank text blocks of a content list,
// each clipped to n characters.
func textBlocks(content []any, n int) []string {
	var out []string
	for _, raw := range content {
		block, ok := raw.(map[string]any)
		if !ok || str(block["type"]) != "text" {
			continue
		}
		snippet := clip(str(block["text"]), n)
		if strings.TrimSpace(snippet) != "" {
			out = append(out, snippet)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// clip truncates to n characters, not bytes, so multibyte output is
// never split mid-rune.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
