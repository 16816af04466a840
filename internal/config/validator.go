package config

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/hookd/internal/hook"
)

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Service.MaxAllowedScriptDuration <= 0 {
		return fmt.Errorf("service.max_allowed_script_duration must be positive")
	}
	if cfg.Service.SweepInterval() < 0 {
		return fmt.Errorf("service.reclaim_interval must not be negative")
	}
	if cfg.Service.MaxConcurrentRuns < 1 {
		return fmt.Errorf("service.max_concurrent_runs must be at least 1")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if len(cfg.HookPaths) == 0 {
		return fmt.Errorf("hook_paths must list at least one directory")
	}
	for i, p := range cfg.HookPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("hook_paths[%d] is empty", i)
		}
		if m := envVarPattern.FindStringSubmatch(p); m != nil {
			return fmt.Errorf("hook_paths[%d]: environment variable ${%s} is not set", i, m[1])
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.API.Auth.APIKey); m != nil {
			return fmt.Errorf("api.auth.api_key: environment variable ${%s} is not set", m[1])
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the API is enabled")
		}
	}

	return validateWebhooks(cfg.Webhooks)
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc == nil || len(wc.Endpoints) == 0 {
		return nil
	}
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]int, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with / (got %q)", field, ep.Path)
		}
		normalized := strings.TrimSuffix(ep.Path, "/")
		if prev, dup := seen[normalized]; dup {
			return fmt.Errorf("%s.path %q conflicts with webhooks.endpoints[%d]", field, ep.Path, prev)
		}
		seen[normalized] = i
		if m := envVarPattern.FindStringSubmatch(ep.Secret); m != nil {
			return fmt.Errorf("%s.secret: environment variable ${%s} is not set", field, m[1])
		}
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if ep.Event != "" {
			if _, err := hook.ParseEvent(ep.Event); err != nil {
				return fmt.Errorf("%s.event: %w", field, err)
			}
		}
		if ep.MaxBodySize != "" {
			n, err := humanize.ParseBytes(ep.MaxBodySize)
			if err != nil || n == 0 {
				return fmt.Errorf("%s.max_body_size %q is not a positive size", field, ep.MaxBodySize)
			}
		}
	}
	return nil
}
