// Package services manages project dev-server processes for the
// dashboard: discovery from services.json, start/stop lifecycle, and
// a ring buffer of recent log lines per service.
package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the services manifest the installer writes under
// the project state directory when the dashboard is enabled.
const ConfigFileName = "services.json"

// Config is the services.json document.
type Config struct {
	Services []Service `json:"services"`
}

// Service is one managed dev server.
type Service struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
	Port    int    `json:"port"`
}

// LoadConfig reads the services manifest from stateDir. A missing
// file is not an error; it yields an empty config.
func LoadConfig(stateDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, ConfigFileName))
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", ConfigFileName, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ConfigFileName, err)
	}
	return &cfg, nil
}
