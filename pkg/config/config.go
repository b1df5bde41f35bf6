// Package config resolves hostaudit settings from defaults, the config file,
// HOSTAUDIT_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/user/hostaudit/pkg/checks"
	"github.com/user/hostaudit/pkg/engine"
)

const (
	DefaultWorkers       = 4
	DefaultModuleTimeout = 30 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
	DefaultFixTimeout    = 10 * time.Minute
	DefaultLockWait      = 2 * time.Minute
	DefaultBackupDir     = "/var/lib/hostaudit/backups"
	DefaultProfilesDir   = "/etc/hostaudit/profiles"
	DefaultProvider      = "gemini"
	DefaultModel         = "gemini-1.5-flash"
	EnvPrefix            = "HOSTAUDIT"
)

// ProviderConfig holds credentials for one AI provider.
type ProviderConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// Config is the resolved configuration.
type Config struct {
	Workers          int                       `mapstructure:"workers" yaml:"workers,omitempty"`
	ModuleTimeout    time.Duration             `mapstructure:"module-timeout" yaml:"module-timeout,omitempty"`
	ProbeTimeout     time.Duration             `mapstructure:"probe-timeout" yaml:"probe-timeout,omitempty"`
	FixTimeout       time.Duration             `mapstructure:"fix-timeout" yaml:"fix-timeout,omitempty"`
	LockWait         time.Duration             `mapstructure:"lock-wait" yaml:"lock-wait,omitempty"`
	BackupDir        string                    `mapstructure:"backup-dir" yaml:"backup-dir,omitempty"`
	HistoryDB        string                    `mapstructure:"history-db" yaml:"history-db,omitempty"`
	ProfilesDir      string                    `mapstructure:"profiles-dir" yaml:"profiles-dir,omitempty"`
	ProxyTemplate    string                    `mapstructure:"proxy-template" yaml:"proxy-template,omitempty"`
	ManagementPort   int                       `mapstructure:"management-port" yaml:"management-port,omitempty"`
	Weights          engine.Weights            `mapstructure:"weights" yaml:"weights,omitempty"`
	CloudAgentPolicy string                    `mapstructure:"cloud-agent-policy" yaml:"cloud-agent-policy,omitempty"`
	FixClasses       []string                  `mapstructure:"fix-classes" yaml:"fix-classes,omitempty"`
	Modules          []string                  `mapstructure:"modules" yaml:"modules,omitempty"`
	SelectedProvider string                    `mapstructure:"selected_provider" yaml:"selected_provider"`
	SelectedModel    string                    `mapstructure:"selected_model" yaml:"selected_model"`
	Providers        map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// Dir returns ~/.hostaudit.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hostaudit"), nil
}

// Path returns the default config file path, creating its directory.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workers", DefaultWorkers)
	v.SetDefault("module-timeout", DefaultModuleTimeout)
	v.SetDefault("probe-timeout", DefaultProbeTimeout)
	v.SetDefault("fix-timeout", DefaultFixTimeout)
	v.SetDefault("lock-wait", DefaultLockWait)
	v.SetDefault("backup-dir", DefaultBackupDir)
	v.SetDefault("history-db", "")
	v.SetDefault("profiles-dir", DefaultProfilesDir)
	v.SetDefault("proxy-template", checks.DefaultProxyTemplatePath)
	v.SetDefault("management-port", 0)
	v.SetDefault("weights.high", engine.DefaultWeights.High)
	v.SetDefault("weights.medium", engine.DefaultWeights.Medium)
	v.SetDefault("weights.low", engine.DefaultWeights.Low)
	v.SetDefault("cloud-agent-policy", string(checks.PolicyAllOrNothing))
	v.SetDefault("selected_provider", DefaultProvider)
	v.SetDefault("selected_model", DefaultModel)
}

// Setup points v at the config file and the environment. An empty file means
// ~/.hostaudit/config.yaml.
func Setup(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads the config file if present, unmarshals every layer and
// validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and fills derived defaults.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	for name, d := range map[string]time.Duration{
		"module-timeout": c.ModuleTimeout,
		"probe-timeout":  c.ProbeTimeout,
		"fix-timeout":    c.FixTimeout,
		"lock-wait":      c.LockWait,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ManagementPort < 0 || c.ManagementPort > 65535 {
		return fmt.Errorf("management-port out of range: %d", c.ManagementPort)
	}
	if c.Weights.High < 0 || c.Weights.Medium < 0 || c.Weights.Low < 0 {
		return fmt.Errorf("weights must not be negative: %+v", c.Weights)
	}
	if _, err := checks.ParseCloudAgentPolicy(c.CloudAgentPolicy); err != nil {
		return err
	}
	if _, err := c.ClassOverrides(); err != nil {
		return err
	}
	if c.HistoryDB == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.HistoryDB = filepath.Join(dir, "history.db")
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	return nil
}

// Policy returns the parsed cloud agent policy.
func (c *Config) Policy() checks.CloudAgentPolicy {
	p, err := checks.ParseCloudAgentPolicy(c.CloudAgentPolicy)
	if err != nil {
		return checks.PolicyAllOrNothing
	}
	return p
}

// ClassOverrides parses fix-classes entries of the form "fixID=class". Fix
// IDs contain dots, which viper treats as key separators, so the overrides
// are a list rather than a map.
func (c *Config) ClassOverrides() (map[string]engine.DangerClass, error) {
	if len(c.FixClasses) == 0 {
		return nil, nil
	}
	out := make(map[string]engine.DangerClass, len(c.FixClasses))
	for _, entry := range c.FixClasses {
		id, name, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("fix-classes: %q is not fixID=class", entry)
		}
		class, err := engine.ParseDangerClass(name)
		if err != nil {
			return nil, fmt.Errorf("fix-classes %s: %w", id, err)
		}
		out[id] = class
	}
	return out, nil
}

// GetAPIKey returns the stored key for a provider.
func (c *Config) GetAPIKey(provider string) string {
	return c.Providers[provider].APIKey
}

// File is the persisted config file edited by the config commands. Keys the
// commands do not manage are kept as they are.
type File struct {
	path string
	doc  map[string]any
}

// OpenFile reads path, or starts an empty document if it does not exist.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, doc: make(map[string]any)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &f.doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.doc == nil {
		f.doc = make(map[string]any)
	}
	return f, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Set stores a dotted key such as "providers.gemini.api_key".
func (f *File) Set(key string, value any) {
	parts := strings.Split(key, ".")
	m := f.doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// Get returns a dotted key.
func (f *File) Get(key string) (any, bool) {
	var cur any = f.doc
	for _, p := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetAPIKey stores a provider key.
func (f *File) SetAPIKey(provider, key string) {
	f.Set("providers."+provider+".api_key", key)
}

// Save writes the file with 0600 permissions since it may hold API keys.
func (f *File) Save() error {
	data, err := yaml.Marshal(f.doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o600)
}

// Redacted returns c with API keys masked, for display.
func (c Config) Redacted() Config {
	providers := make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if len(p.APIKey) > 4 {
			p.APIKey = strings.Repeat("*", len(p.APIKey)-4) + p.APIKey[len(p.APIKey)-4:]
		} else if p.APIKey != "" {
			p.APIKey = "****"
		}
		providers[name] = p
	}
	c.Providers = providers
	return c
}
