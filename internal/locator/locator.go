// Package locator finds the script a hook runs for an event.
//
// The default implementation follows the on-disk convention
// <root>/<hook-name>.hook/<event>, searching the configured roots in order so
// that earlier roots override later ones.
package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/hookd/internal/hook"
)

// Locator maps a hook name and event to an executable path. ok is false when
// the hook does not react to the event.
type Locator interface {
	Locate(hookName string, event hook.Event) (path string, ok bool)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(hookName string, event hook.Event) (string, bool)

// Locate calls f.
func (f LocatorFunc) Locate(hookName string, event hook.Event) (string, bool) {
	return f(hookName, event)
}

// FS locates scripts under an ordered list of root directories.
type FS struct {
	roots []string
}

// NewFS creates a filesystem locator. Blank roots are dropped and duplicates
// keep their first position.
func NewFS(roots []string) *FS {
	seen := make(map[string]struct{}, len(roots))
	clean := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		clean = append(clean, root)
	}
	return &FS{roots: clean}
}

// Roots returns the search roots in precedence order.
func (l *FS) Roots() []string {
	out := make([]string, len(l.roots))
	copy(out, l.roots)
	return out
}

// Locate returns the first <root>/<hookName>.hook/<event> that is a regular
// file the current user may execute.
func (l *FS) Locate(hookName string, event hook.Event) (string, bool) {
	for _, root := range l.roots {
		candidate := ScriptPath(root, hookName, event)
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() && Executable(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Executable reports whether the current user may execute path. Mode bits
// alone are not enough: a file executable only by group or others is not
// runnable by its owner.
func Executable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}

// ScriptPath builds the conventional script location inside root.
func ScriptPath(root, hookName string, event hook.Event) string {
	return filepath.Join(root, hookName+".hook", string(event))
}

// Check reports roots that are missing or not directories. Missing roots are
// tolerated by Locate; Check exists so operators can catch typos.
func (l *FS) Check() []error {
	var errs []error
	if len(l.roots) == 0 {
		errs = append(errs, fmt.Errorf("no hook paths configured"))
	}
	for _, root := range l.roots {
		info, err := os.Stat(root)
		if err != nil {
			errs = append(errs, fmt.Errorf("hook path %s: %w", root, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("hook path is not a directory: %s", root))
		}
	}
	return errs
}
