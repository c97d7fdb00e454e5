package config

import (
	"fmt"
	"strings"
)

var validOutputFormats = []string{"auto", "text", "markdown", "json"}

func validate(cfg *Config) error {
	if cfg.OutputFormat != "" {
		ok := false
		for _, f := range validOutputFormats {
			if cfg.OutputFormat == f {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("invalid output format %q (valid: %s)",
				cfg.OutputFormat, strings.Join(validOutputFormats, ", "))
		}
	}

	if cfg.Dashboard.Port < 1 || cfg.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard port %d (must be 1-65535)", cfg.Dashboard.Port)
	}

	if cfg.Dashboard.AgentCommand == "" {
		return fmt.Errorf("dashboard agent_command must not be empty")
	}

	return nil
}
