package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(dir string, env map[string]string) *Loader {
	l := NewLoader(dir)
	l.getenv = func(k string) string { return env[k] }
	return l
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigDirName, ConfigFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFindsProjectConfigUpward(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
ai:
  enabled: true
  provider: local
  model: llama3.1
  timeout: 5s
engine:
  retry_budget: 5
targets:
  dir: portals
`)
	nested := filepath.Join(root, "declarations", "2024")
	require.NoError(t, os.MkdirAll(nested, 0755))

	cfg, gotRoot, err := testLoader(nested, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, root, gotRoot)
	assert.True(t, cfg.AI.Enabled)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 5, cfg.Engine.RetryBudget)
	assert.Equal(t, 2, cfg.Engine.Concurrency, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(root, "portals"), cfg.Targets.Dir)
	assert.Equal(t, filepath.Join(root, ".portalpilot", "portalpilot.db"), cfg.Storage.DatabasePath)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	cfg, root, err := testLoader(dir, nil).Load()
	require.NoError(t, err)
	assert.Equal(t, dir, root)
	assert.Equal(t, 3, cfg.Engine.RetryBudget)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	dir := t.TempDir()
	_, _, err := testLoader(dir, nil).WithPath(filepath.Join(dir, "nope.yaml")).Load()
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "ai:\n  provider: openai\n")

	cfg, _, err := testLoader(dir, map[string]string{
		"OPENAI_API_KEY":          "sk-env",
		"PORTALPILOT_AI_ENABLED":  "true",
		"PORTALPILOT_HEADLESS":    "false",
		"PORTALPILOT_MASTER_KEY":  "master",
		"PORTALPILOT_DATABASE":    "/var/lib/portalpilot.db",
		"PORTALPILOT_TARGETS_DIR": "/etc/portalpilot/targets",
	}).WithPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.AI.APIKey)
	assert.True(t, cfg.AI.Enabled)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "master", cfg.Storage.MasterKey)
	assert.Equal(t, "/var/lib/portalpilot.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "/etc/portalpilot/targets", cfg.Targets.Dir)

	_, _, err = testLoader(dir, map[string]string{"PORTALPILOT_HEADLESS": "maybe"}).WithPath(path).Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"ai needs key", func(c *Config) { c.AI.Enabled = true }, "ai.api_key"},
		{"ai local needs no key", func(c *Config) { c.AI.Enabled, c.AI.Provider = true, "local" }, ""},
		{"unknown provider", func(c *Config) { c.AI.Enabled, c.AI.Provider = true, "gemini" }, "not supported"},
		{"negative budget", func(c *Config) { c.Engine.RetryBudget = -1 }, "retry_budget"},
		{"zero concurrency", func(c *Config) { c.Engine.Concurrency = 0 }, "concurrency"},
		{"metrics addr", func(c *Config) { c.Metrics.Enabled, c.Metrics.Addr = true, "" }, "metrics.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Message, tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := testLoader(dir, nil)
	cfg := DefaultConfig()
	cfg.Engine.RetryBudget = 7
	cfg.Storage.MasterKey = "never-written"

	require.NoError(t, l.Save(cfg, l.GetConfigPath()))
	data, err := os.ReadFile(l.GetConfigPath())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")

	loaded, _, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Engine.RetryBudget)
}

func TestConversions(t *testing.T) {
	c := DefaultConfig()
	c.Browser.ExecPath = "/usr/bin/chromium"
	c.AI.Endpoint = "http://localhost:11434/v1"

	assert.Equal(t, "/usr/bin/chromium", c.BrowserOptions().ExecPath)
	assert.Equal(t, 30*time.Second, c.BrowserOptions().NavTimeout)
	assert.Equal(t, "http://localhost:11434/v1", c.LLMOptions().BaseURL)
}
