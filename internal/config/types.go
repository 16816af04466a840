package config

import "time"

// Config represents the complete hookd configuration.
type Config struct {
	// Include lists further YAML files merged over this one, relative to
	// the including file.
	Include   []string        `yaml:"include,omitempty"`
	Service   ServiceConfig   `yaml:"service"`
	State     StateConfig     `yaml:"state"`
	HookPaths []string        `yaml:"hook_paths"`
	API       APIConfig       `yaml:"api,omitempty"`
	Webhooks  *WebhooksConfig `yaml:"webhooks,omitempty"`

	// SourceFiles holds the absolute path of every file read, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// MaxAllowedScriptDuration is how long a hook may stay locked before
	// another run may reclaim it.
	MaxAllowedScriptDuration time.Duration `yaml:"max_allowed_script_duration"`
	// ReclaimInterval is the period of the stale lock sweep. 0 disables it.
	ReclaimInterval   *time.Duration `yaml:"reclaim_interval,omitempty"`
	MaxConcurrentRuns int            `yaml:"max_concurrent_runs"`
}

// SweepInterval returns the reclaim interval with the default applied.
func (s ServiceConfig) SweepInterval() time.Duration {
	if s.ReclaimInterval == nil {
		return defaultReclaimInterval
	}
	return *s.ReclaimInterval
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// WebhooksConfig defines the signed event intake listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint is one HMAC-verified intake path.
type WebhookEndpoint struct {
	Path string `yaml:"path"`
	// Event pins the lifecycle event; empty means the body names it.
	Event           string `yaml:"event,omitempty"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	// MaxBodySize accepts sizes like "512KiB" or "1MB"; empty means 1 MiB.
	MaxBodySize string `yaml:"max_body_size,omitempty"`
}

const defaultReclaimInterval = time.Minute

// Defaults returns a Config with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                     "hookd",
			LogLevel:                 "info",
			LogFormat:                "json",
			MaxAllowedScriptDuration: time.Hour,
			MaxConcurrentRuns:        8,
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		HookPaths: []string{"./hooks"},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
