package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/hostaudit/pkg/checks"
	"github.com/user/hostaudit/pkg/engine"
)

func load(t *testing.T, file string) (*Config, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	v := viper.New()
	Setup(v, file)
	return Load(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultModuleTimeout, cfg.ModuleTimeout)
	assert.Equal(t, DefaultLockWait, cfg.LockWait)
	assert.Equal(t, engine.DefaultWeights, cfg.Weights)
	assert.Equal(t, checks.PolicyAllOrNothing, cfg.Policy())
	assert.Equal(t, DefaultProvider, cfg.SelectedProvider)
	assert.Equal(t, "history.db", filepath.Base(cfg.HistoryDB))
	assert.NotNil(t, cfg.Providers)
}

func TestFileAndEnvironmentLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 2
fix-timeout: 90s
weights:
  high: 20
cloud-agent-policy: proportional
fix-classes:
  - docker.generate_proxy_template=confirm-required
providers:
  gemini:
    api_key: secret-key
`), 0o600))
	t.Setenv("HOSTAUDIT_WORKERS", "8")

	cfg, err := load(t, path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers, "environment wins over the file")
	assert.Equal(t, 90*time.Second, cfg.FixTimeout)
	assert.Equal(t, engine.Weights{High: 20, Medium: 7, Low: 2}, cfg.Weights)
	assert.Equal(t, checks.PolicyProportional, cfg.Policy())
	assert.Equal(t, "secret-key", cfg.GetAPIKey("gemini"))

	overrides, err := cfg.ClassOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[string]engine.DangerClass{"docker.generate_proxy_template": engine.ConfirmRequired}, overrides)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Workers: 1, ModuleTimeout: time.Second, ProbeTimeout: time.Second,
			FixTimeout: time.Second, LockWait: time.Second, HistoryDB: "/tmp/h.db",
			CloudAgentPolicy: "all-or-nothing",
		}
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"timeout", func(c *Config) { c.FixTimeout = 0 }},
		{"port", func(c *Config) { c.ManagementPort = 70000 }},
		{"weights", func(c *Config) { c.Weights.Low = -1 }},
		{"policy", func(c *Config) { c.CloudAgentPolicy = "sometimes" }},
		{"class", func(c *Config) { c.FixClasses = []string{"ufw.enable=risky"} }},
		{"class format", func(c *Config) { c.FixClasses = []string{"ufw.enable"} }},
	}
	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestFileKeepsUnmanagedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	f, err := OpenFile(path)
	require.NoError(t, err)
	f.Set("workers", 3)
	f.SetAPIKey("gemini", "abc")
	require.NoError(t, f.Save())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	f, err = OpenFile(path)
	require.NoError(t, err)
	f.Set("selected_model", "gemini-1.5-pro")
	require.NoError(t, f.Save())

	f, err = OpenFile(path)
	require.NoError(t, err)
	workers, ok := f.Get("workers")
	require.True(t, ok)
	assert.Equal(t, 3, workers)
	key, ok := f.Get("providers.gemini.api_key")
	require.True(t, ok)
	assert.Equal(t, "abc", key)
	_, ok = f.Get("providers.openai.api_key")
	assert.False(t, ok)
}

func TestRedacted(t *testing.T) {
	c := Config{Providers: map[string]ProviderConfig{"gemini": {APIKey: "abcdefgh"}, "x": {APIKey: "ab"}}}
	r := c.Redacted()
	assert.Equal(t, "****efgh", r.Providers["gemini"].APIKey)
	assert.Equal(t, "****", r.Providers["x"].APIKey)
	assert.Equal(t, "abcdefgh", c.Providers["gemini"].APIKey)
}
