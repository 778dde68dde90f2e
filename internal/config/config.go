package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lance13c/portalpilot/internal/browser"
	"github.com/lance13c/portalpilot/internal/llm"
)

// Config represents the complete portalpilot configuration
type Config struct {
	AI      AIConfig      `yaml:"ai"`
	Browser BrowserConfig `yaml:"browser"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Targets TargetsConfig `yaml:"targets"`
	Metrics MetricsConfig `yaml:"metrics"`
	Meta    MetaConfig    `yaml:"meta"`
}

// AIConfig holds the decision service used for recovery advice
type AIConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Provider  string        `yaml:"provider"` // openai, openrouter, local, mock
	APIKey    string        `yaml:"api_key,omitempty"`
	Model     string        `yaml:"model"`
	Endpoint  string        `yaml:"endpoint,omitempty"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxWait   time.Duration `yaml:"max_wait"`
	MaxTokens int           `yaml:"max_tokens"`
}

// BrowserConfig holds headless browser settings
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ExecPath          string        `yaml:"exec_path,omitempty"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	WindowWidth       int           `yaml:"window_width"`
	WindowHeight      int           `yaml:"window_height"`
	UserAgent         string        `yaml:"user_agent,omitempty"`
	ScreenshotQuality int           `yaml:"screenshot_quality"`
}

// EngineConfig holds workflow execution limits
type EngineConfig struct {
	RetryBudget int           `yaml:"retry_budget"`
	RetryWait   time.Duration `yaml:"retry_wait"`
	Concurrency int           `yaml:"concurrency"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// StorageConfig holds where records and screenshots live
type StorageConfig struct {
	DatabasePath  string `yaml:"database_path"`
	ScreenshotDir string `yaml:"screenshot_dir"`
	// MasterKey unseals target credentials; only read from the environment
	MasterKey string `yaml:"-"`
}

// TargetsConfig holds where target definitions are loaded from
type TargetsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MetaConfig holds metadata about the configuration
type MetaConfig struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// DefaultConfig returns settings that work for an unattended headless run
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Enabled:   false,
			Provider:  string(llm.OpenAI),
			Model:     "gpt-4o-mini",
			Timeout:   20 * time.Second,
			MaxWait:   10 * time.Second,
			MaxTokens: 400,
		},
		Browser: BrowserConfig{
			Headless:          true,
			ActionTimeout:     10 * time.Second,
			NavigationTimeout: 30 * time.Second,
			WindowWidth:       1920,
			WindowHeight:      1080,
			ScreenshotQuality: 90,
		},
		Engine: EngineConfig{
			RetryBudget: 3,
			RetryWait:   time.Second,
			Concurrency: 2,
			SettleDelay: 300 * time.Millisecond,
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join(ConfigDirName, "portalpilot.db"),
			ScreenshotDir: filepath.Join(ConfigDirName, "screenshots"),
		},
		Targets: TargetsConfig{
			Dir: filepath.Join(ConfigDirName, "targets"),
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Meta: MetaConfig{Version: "1"},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var problems []string

	if c.AI.Enabled {
		switch llm.Provider(c.AI.Provider) {
		case llm.OpenAI, llm.OpenRouter:
			if c.AI.APIKey == "" {
				problems = append(problems, "ai.api_key is required for provider: "+c.AI.Provider)
			}
		case llm.Local, llm.Mock:
		default:
			problems = append(problems, "ai.provider is not supported: "+c.AI.Provider)
		}
		if c.AI.Timeout <= 0 {
			problems = append(problems, "ai.timeout must be positive")
		}
	}
	if c.Browser.ActionTimeout <= 0 {
		problems = append(problems, "browser.action_timeout must be positive")
	}
	if c.Browser.ScreenshotQuality < 0 || c.Browser.ScreenshotQuality > 100 {
		problems = append(problems, "browser.screenshot_quality must be between 0 and 100")
	}
	if c.Engine.RetryBudget < 0 {
		problems = append(problems, "engine.retry_budget cannot be negative")
	}
	if c.Engine.Concurrency < 1 {
		problems = append(problems, "engine.concurrency must be at least 1")
	}
	if c.Storage.DatabasePath == "" {
		problems = append(problems, "storage.database_path is required")
	}
	if c.Targets.Dir == "" {
		problems = append(problems, "targets.dir is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		problems = append(problems, "metrics.addr is required when metrics are enabled")
	}

	if len(problems) > 0 {
		return NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

// Resolve makes relative storage and target paths absolute under root
func (c *Config) Resolve(root string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Storage.DatabasePath = abs(c.Storage.DatabasePath)
	c.Storage.ScreenshotDir = abs(c.Storage.ScreenshotDir)
	c.Targets.Dir = abs(c.Targets.Dir)
}

// BrowserOptions converts browser settings for the launcher
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:      c.Browser.Headless,
		ExecPath:      c.Browser.ExecPath,
		ActionTimeout: c.Browser.ActionTimeout,
		NavTimeout:    c.Browser.NavigationTimeout,
		WindowWidth:   c.Browser.WindowWidth,
		WindowHeight:  c.Browser.WindowHeight,
		UserAgent:     c.Browser.UserAgent,
		ScreenQuality: c.Browser.ScreenshotQuality,
	}
}

// LLMOptions converts AI settings for the client
func (c *Config) LLMOptions() llm.Options {
	return llm.Options{
		Model:     c.AI.Model,
		BaseURL:   c.AI.Endpoint,
		MaxTokens: c.AI.MaxTokens,
		Timeout:   c.AI.Timeout,
	}
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s", e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
