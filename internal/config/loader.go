package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".portalpilot"
	GlobalConfigDir = ".config/portalpilot"
)

// ErrNotFound is returned when no config file exists in the search path
var ErrNotFound = errors.New("no config file found")

// Loader handles configuration loading and discovery
type Loader struct {
	startDir string
	path     string
	getenv   func(string) string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}
	return &Loader{startDir: startDir, getenv: os.Getenv}
}

// WithPath pins the config file instead of searching for one
func (l *Loader) WithPath(path string) *Loader {
	l.path = path
	return l
}

// Load loads the configuration with environment variable overrides. Values
// missing from the file keep their defaults. Without any config file the
// defaults are used, rooted at the start directory.
func (l *Loader) Load() (*Config, string, error) {
	config := DefaultConfig()
	root := l.startDir

	configPath, err := l.findConfigFile()
	switch {
	case err == nil:
		if err := l.loadFromFile(configPath, config); err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		root = projectRoot(configPath)
	case errors.Is(err, ErrNotFound) && l.path == "":
	default:
		return nil, "", err
	}

	if err := l.applyEnvOverrides(config); err != nil {
		return nil, "", fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	config.Resolve(root)

	if err := config.Validate(); err != nil {
		return nil, "", fmt.Errorf("config validation failed: %w", err)
	}
	return config, root, nil
}

// projectRoot returns the directory holding .portalpilot for a project
// config, or the config file's directory otherwise.
func projectRoot(configPath string) string {
	dir := filepath.Dir(configPath)
	if filepath.Base(dir) == ConfigDirName {
		return filepath.Dir(dir)
	}
	return dir
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return "", fmt.Errorf("config file %s: %w", l.path, err)
		}
		return l.path, nil
	}

	dir := l.startDir
	for {
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", fmt.Errorf("%w (searched upward from %s)", ErrNotFound, l.startDir)
}

// loadFromFile decodes a YAML file over config
func (l *Loader) loadFromFile(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PORTALPILOT_* environment overrides
func (l *Loader) applyEnvOverrides(config *Config) error {
	if apiKey := l.getenv("PORTALPILOT_AI_API_KEY"); apiKey != "" {
		config.AI.APIKey = apiKey
	} else if config.AI.APIKey == "" {
		switch config.AI.Provider {
		case "openai":
			config.AI.APIKey = l.getenv("OPENAI_API_KEY")
		case "openrouter":
			config.AI.APIKey = l.getenv("OPENROUTER_API_KEY")
		}
	}
	if provider := l.getenv("PORTALPILOT_AI_PROVIDER"); provider != "" {
		config.AI.Provider = provider
	}
	if model := l.getenv("PORTALPILOT_AI_MODEL"); model != "" {
		config.AI.Model = model
	}
	if endpoint := l.getenv("PORTALPILOT_AI_ENDPOINT"); endpoint != "" {
		config.AI.Endpoint = endpoint
	}
	if v := l.getenv("PORTALPILOT_AI_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PORTALPILOT_AI_ENABLED: %w", err)
		}
		config.AI.Enabled = b
	}
	if v := l.getenv("PORTALPILOT_AI_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PORTALPILOT_AI_TIMEOUT: %w", err)
		}
		config.AI.Timeout = d
	}

	if v := l.getenv("PORTALPILOT_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PORTALPILOT_HEADLESS: %w", err)
		}
		config.Browser.Headless = b
	}
	if path := l.getenv("PORTALPILOT_CHROME_PATH"); path != "" {
		config.Browser.ExecPath = path
	}

	config.Storage.MasterKey = l.getenv("PORTALPILOT_MASTER_KEY")
	if path := l.getenv("PORTALPILOT_DATABASE"); path != "" {
		config.Storage.DatabasePath = path
	}
	if dir := l.getenv("PORTALPILOT_TARGETS_DIR"); dir != "" {
		config.Targets.Dir = dir
	}
	return nil
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	config.Meta.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the path where a project config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}
