package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. AGENTSMITH_STACKS_DIR -> stacks_dir.
const envPrefix = "AGENTSMITH_"

// configFileNames are searched in order, walking up from the working
// directory.
var configFileNames = []string{"agentsmith.yaml", "agentsmith.yml"}

var (
	mu             sync.Mutex
	currentConfig  *Config
	configFileUsed string
)

// Load resolves configuration. explicitFile wins over discovery;
// flags contribute only values the user actually set.
func Load(explicitFile string, flags *pflag.FlagSet) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	k := koanf.New(".")

	// 1. Built-in defaults.
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file, searched upward from the working directory.
	configFileUsed = ""
	projectRoot, _ := os.Getwd()
	if found, root := findConfigFile(explicitFile); found != "" {
		configFileUsed = found
		projectRoot = root
		if err := k.Load(file.Provider(found), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", found, err)
		}
	}

	// 3. Environment variables: AGENTSMITH_DASHBOARD_PORT -> dashboard.port
	// for known nested keys, otherwise flat snake_case.
	if err := k.Load(env.Provider(envPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, highest precedence. Only flags the user changed.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	cfg.StacksDir = expandEnvVars(cfg.StacksDir)
	if cfg.StacksDir != "" && !filepath.IsAbs(cfg.StacksDir) {
		cfg.StacksDir = filepath.Join(projectRoot, cfg.StacksDir)
	}
	if !filepath.IsAbs(cfg.Dashboard.DBPath) {
		cfg.Dashboard.DBPath = filepath.Join(projectRoot, cfg.Dashboard.DBPath)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	currentConfig = &cfg
	return &cfg, nil
}

// GetCurrentConfig returns the last loaded config, or nil.
func GetCurrentConfig() *Config {
	mu.Lock()
	defer mu.Unlock()
	return currentConfig
}

// GetConfigFileUsed returns the config file path that Load resolved.
func GetConfigFileUsed() string {
	mu.Lock()
	defer mu.Unlock()
	return configFileUsed
}

// ResetConfig clears cached state. Tests use this between cases.
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	currentConfig = nil
	configFileUsed = ""
}

// findConfigFile returns the config file path and its directory.
// An explicit path is used as-is; otherwise the standard names are
// searched upward from the working directory.
func findConfigFile(explicit string) (string, string) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return explicit, filepath.Dir(explicit)
		}
		return abs, filepath.Dir(abs)
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", ""
	}

	// Walk up a bounded number of levels so a stray config high in the
	// tree cannot hijack unrelated projects.
	for i := 0; i < 10; i++ {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", ""
}

// envKeyTransform maps AGENTSMITH_FOO_BAR to a config key. Keys under
// a known section become nested (dashboard.port); the rest stay flat
// snake_case (stacks_dir).
func envKeyTransform(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range []string{"dashboard", "hooks"} {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
