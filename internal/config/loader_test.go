package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, dir string, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
hook_paths:
  - ./hooks
`,
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Service.Name != "hookd" {
					t.Errorf("service.name = %q", cfg.Service.Name)
				}
				if cfg.Service.MaxAllowedScriptDuration != time.Hour {
					t.Errorf("max_allowed_script_duration = %v", cfg.Service.MaxAllowedScriptDuration)
				}
				if cfg.Service.SweepInterval() != time.Minute {
					t.Errorf("reclaim interval = %v", cfg.Service.SweepInterval())
				}
				if cfg.Service.MaxConcurrentRuns != 8 {
					t.Errorf("max_concurrent_runs = %d", cfg.Service.MaxConcurrentRuns)
				}
				if cfg.State.Path != filepath.Join(dir, "data", "state.db") {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				if len(cfg.HookPaths) != 1 || cfg.HookPaths[0] != filepath.Join(dir, "hooks") {
					t.Errorf("hook_paths = %v", cfg.HookPaths)
				}
				if cfg.API.Enabled {
					t.Error("api should be disabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: lab
  log_level: debug
  log_format: text
  max_allowed_script_duration: 90s
  reclaim_interval: 0s
  max_concurrent_runs: 2
state:
  path: /var/lib/hookd/state.db
hook_paths:
  - /srv/hooks
  - ./local
api:
  enabled: true
  listen: 0.0.0.0:9000
  auth:
    api_key: secret
`,
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Service.MaxAllowedScriptDuration != 90*time.Second {
					t.Errorf("max_allowed_script_duration = %v", cfg.Service.MaxAllowedScriptDuration)
				}
				if cfg.Service.SweepInterval() != 0 {
					t.Errorf("reclaim interval should be disabled, got %v", cfg.Service.SweepInterval())
				}
				if cfg.State.Path != "/var/lib/hookd/state.db" {
					t.Errorf("state.path = %q", cfg.State.Path)
				}
				want := []string{"/srv/hooks", filepath.Join(dir, "local")}
				if len(cfg.HookPaths) != 2 || cfg.HookPaths[0] != want[0] || cfg.HookPaths[1] != want[1] {
					t.Errorf("hook_paths = %v, want %v", cfg.HookPaths, want)
				}
				if !cfg.API.Enabled || cfg.API.Auth.APIKey != "secret" || cfg.API.Listen != "0.0.0.0:9000" {
					t.Errorf("api = %+v", cfg.API)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${HOOKD_TEST_KEY}
`,
			env: map[string]string{"HOOKD_TEST_KEY": "from-env"},
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.API.Auth.APIKey != "from-env" {
					t.Errorf("api_key = %q", cfg.API.Auth.APIKey)
				}
			},
		},
		{
			name: "unset env var in api key",
			yaml: `
api:
  enabled: true
  auth:
    api_key: ${HOOKD_TEST_UNSET_KEY}
`,
			wantErr: "HOOKD_TEST_UNSET_KEY",
		},
		{
			name: "api enabled without key",
			yaml: `
api:
  enabled: true
`,
			wantErr: "api.auth.api_key is required",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "invalid log format",
			yaml:    "service:\n  log_format: xml\n",
			wantErr: "service.log_format",
		},
		{
			name:    "negative max duration",
			yaml:    "service:\n  max_allowed_script_duration: -1s\n",
			wantErr: "max_allowed_script_duration",
		},
		{
			name:    "negative reclaim interval",
			yaml:    "service:\n  reclaim_interval: -5s\n",
			wantErr: "reclaim_interval",
		},
		{
			name:    "negative concurrency",
			yaml:    "service:\n  max_concurrent_runs: -1\n",
			wantErr: "max_concurrent_runs",
		},
		{
			name:    "unknown key",
			yaml:    "plugins_dir: ./plugins\n",
			wantErr: "plugins_dir",
		},
		{
			name:    "invalid yaml",
			yaml:    "service: [unclosed\n",
			wantErr: "failed to parse YAML",
		},
		{
			name: "webhooks",
			yaml: `
webhooks:
  listen: 127.0.0.1:8081
  endpoints:
    - path: /webhook/provisioner
      secret: ${HOOKD_TEST_WEBHOOK_SECRET}
    - path: /webhook/bound
      event: node-bound
      secret: s2
      max_body_size: 64KiB
`,
			env: map[string]string{"HOOKD_TEST_WEBHOOK_SECRET": "s1"},
			checkFn: func(t *testing.T, dir string, cfg *Config) {
				if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 2 {
					t.Fatalf("webhooks = %+v", cfg.Webhooks)
				}
				if cfg.Webhooks.Endpoints[0].Secret != "s1" {
					t.Errorf("secret = %q", cfg.Webhooks.Endpoints[0].Secret)
				}
			},
		},
		{
			name:    "webhook without listen",
			yaml:    "webhooks:\n  endpoints:\n    - path: /w\n      secret: s\n",
			wantErr: "webhooks.listen",
		},
		{
			name:    "webhook duplicate path",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - path: /w\n      secret: s\n    - path: /w/\n      secret: s\n",
			wantErr: "conflicts with webhooks.endpoints[0]",
		},
		{
			name:    "webhook unset secret",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - path: /w\n      secret: ${HOOKD_TEST_UNSET_SECRET}\n",
			wantErr: "HOOKD_TEST_UNSET_SECRET",
		},
		{
			name:    "webhook unknown event",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - path: /w\n      secret: s\n      event: node_exploded\n",
			wantErr: "unknown event",
		},
		{
			name:    "webhook bad body size",
			yaml:    "webhooks:\n  listen: :8081\n  endpoints:\n    - path: /w\n      secret: s\n      max_body_size: lots\n",
			wantErr: "max_body_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			writeFile(t, path, tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error %q does not contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, dir, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "service:\n  name: from-dir\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Fatalf("service.name = %q", cfg.Service.Name)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for directory without config.yaml")
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), `
include:
  - secrets/api.yaml
  - extra.yaml
hook_paths:
  - ./hooks
`)
	writeFile(t, filepath.Join(dir, "secrets", "api.yaml"), `
api:
  enabled: true
  auth:
    api_key: included-key
`)
	writeFile(t, filepath.Join(dir, "extra.yaml"), `
service:
  max_concurrent_runs: 3
hook_paths:
  - ./more
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Auth.APIKey != "included-key" || !cfg.API.Enabled {
		t.Errorf("api not merged: %+v", cfg.API)
	}
	if cfg.Service.MaxConcurrentRuns != 3 {
		t.Errorf("max_concurrent_runs = %d", cfg.Service.MaxConcurrentRuns)
	}
	want := []string{filepath.Join(dir, "hooks"), filepath.Join(dir, "more")}
	if len(cfg.HookPaths) != 2 || cfg.HookPaths[0] != want[0] || cfg.HookPaths[1] != want[1] {
		t.Errorf("hook_paths = %v, want %v", cfg.HookPaths, want)
	}
	if len(cfg.SourceFiles) != 3 {
		t.Errorf("source files = %v", cfg.SourceFiles)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.yaml"), "include:\n  - a.yaml\n")
	writeFile(t, filepath.Join(dir, "a.yaml"), "include:\n  - config.yaml\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	if err == nil || !strings.Contains(err.Error(), "circular") {
		t.Fatalf("expected circular include error, got %v", err)
	}
}

func TestDiscoverFilesIgnoresChecksums(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "config.yaml")
	writeFile(t, root, "include:\n  - extra.yaml\n")
	writeFile(t, filepath.Join(dir, "extra.yaml"), "service:\n  name: x\n")
	writeFile(t, filepath.Join(dir, ChecksumFile), "version: 1\nhashes:\n  config.yaml: bogus\n")

	if _, err := Load(root); err == nil {
		t.Fatal("Load should fail verification")
	}
	files, err := DiscoverFiles(root)
	if err != nil {
		t.Fatalf("DiscoverFiles: %v", err)
	}
	if len(files) != 2 || files[0] != root {
		t.Fatalf("files = %v", files)
	}
}
