// Package doctor checks a hookd configuration and the hook script trees it
// points at for mistakes that load cleanly but make hooks silently skip.
package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/hookd/internal/config"
	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/locator"
	"github.com/mattjoyce/hookd/internal/storage"
)

// shortDuration is the max_allowed_script_duration below which ordinary
// scripts risk having their lock reclaimed mid-run.
const shortDuration = time.Minute

// minAPIKeyLength is the shortest API key that does not draw a warning.
const minAPIKeyLength = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the scripts on disk and, when
// known, the registered hooks.
type Doctor struct {
	cfg        *config.Config
	registered map[string]bool
}

// New creates a Doctor. registered lists hook names from the database; nil
// skips the checks that need them.
func New(cfg *config.Config, registered []string) *Doctor {
	d := &Doctor{cfg: cfg}
	if registered != nil {
		d.registered = make(map[string]bool, len(registered))
		for _, name := range registered {
			d.registered[name] = true
		}
	}
	return d
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateWebhooks(r)
	d.validateHookPaths(r)
	d.scanScripts(r)
	d.warnHooksWithoutScripts(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	} else if err := storage.CheckFilesystem(d.cfg.State.Path); err != nil {
		d.addError(r, "service", "state.path", err.Error())
	}
	maxDuration := d.cfg.Service.MaxAllowedScriptDuration
	switch {
	case maxDuration <= 0:
		d.addError(r, "service", "service.max_allowed_script_duration", "max_allowed_script_duration must be positive")
	case maxDuration < shortDuration:
		d.addWarning(r, "service", "service.max_allowed_script_duration",
			fmt.Sprintf("max_allowed_script_duration %s is short; a slow script's lock may be reclaimed while it still runs", maxDuration))
	}
	if interval := d.cfg.Service.SweepInterval(); interval > 0 && maxDuration > 0 && interval > maxDuration {
		d.addWarning(r, "service", "service.reclaim_interval",
			fmt.Sprintf("reclaim_interval %s exceeds max_allowed_script_duration %s", interval, maxDuration))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	key := d.cfg.API.Auth.APIKey
	if key == "" {
		d.addError(r, "api", "api.auth.api_key", "API enabled but no api_key configured")
	} else if len(key) < minAPIKeyLength {
		d.addWarning(r, "api", "api.auth.api_key",
			fmt.Sprintf("api_key is shorter than %d characters", minAPIKeyLength))
	}
	if host, _, err := net.SplitHostPort(d.cfg.API.Listen); err == nil && !isLoopback(host) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %s, reachable beyond this host", d.cfg.API.Listen))
	}
}

func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		if len(ep.Secret) < minAPIKeyLength {
			d.addWarning(r, "webhooks", fmt.Sprintf("webhooks.endpoints[%d].secret", i),
				fmt.Sprintf("webhook %q secret is shorter than %d characters", ep.Path, minAPIKeyLength))
		}
	}
	if d.cfg.API.Enabled && d.cfg.API.Listen == d.cfg.Webhooks.Listen {
		d.addError(r, "webhooks", "webhooks.listen",
			fmt.Sprintf("webhooks.listen %s is already used by the API", d.cfg.Webhooks.Listen))
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (d *Doctor) validateHookPaths(r *Result) {
	for _, problem := range locator.NewFS(d.cfg.HookPaths).Check() {
		d.addWarning(r, "hook_paths", "hook_paths", problem.Error())
	}
}

// scanScripts walks every <root>/<name>.hook directory. The locator skips
// anything it cannot run without comment, so misnamed or non-executable files
// are reported here.
func (d *Doctor) scanScripts(r *Result) {
	seen := map[string]string{} // hook/event -> first root
	for _, root := range d.cfg.HookPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name, ok := strings.CutSuffix(entry.Name(), ".hook")
			if !ok || !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if d.registered != nil {
				if !d.registered[name] {
					d.addWarning(r, "unused", dir, fmt.Sprintf("scripts for unregistered hook %q", name))
				}
			}
			d.scanHookDir(r, root, name, dir, seen)
		}
	}
}

func (d *Doctor) scanHookDir(r *Result, root, name, dir string, seen map[string]string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		d.addWarning(r, "scripts", dir, fmt.Sprintf("cannot read hook directory: %v", err))
		return
	}
	for _, f := range files {
		path := filepath.Join(dir, f.Name())
		event, err := hook.ParseEvent(f.Name())
		if err != nil {
			d.addWarning(r, "scripts", path, fmt.Sprintf("%q is not a lifecycle event and will never run", f.Name()))
			continue
		}
		if string(event) != f.Name() {
			d.addWarning(r, "scripts", path, fmt.Sprintf("rename to %s; scripts are looked up by that name", event))
			continue
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			d.addWarning(r, "scripts", path, "not a regular file")
			continue
		}
		if !locator.Executable(path) {
			d.addWarning(r, "scripts", path, "not executable; the hook will skip this event")
			continue
		}
		key := name + "/" + string(event)
		if first, ok := seen[key]; ok {
			d.addWarning(r, "scripts", path, fmt.Sprintf("shadowed by %s", locator.ScriptPath(first, name, event)))
			continue
		}
		seen[key] = root
	}
}

func (d *Doctor) warnHooksWithoutScripts(r *Result) {
	if d.registered == nil {
		return
	}
	loc := locator.NewFS(d.cfg.HookPaths)
	names := make([]string, 0, len(d.registered))
	for name := range d.registered {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		found := false
		for _, event := range hook.Events() {
			if _, ok := loc.Locate(name, event); ok {
				found = true
				break
			}
		}
		if !found {
			d.addWarning(r, "hooks", name, fmt.Sprintf("hook %q has no runnable script for any event", name))
		}
	}
}
