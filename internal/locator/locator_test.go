package locator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookd/internal/hook"
)

func writeScript(t *testing.T, root, hookName string, event hook.Event, mode os.FileMode) string {
	t.Helper()
	dir := filepath.Join(root, hookName+".hook")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, string(event))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), mode))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestFSLocateFirstRootWins(t *testing.T) {
	override := t.TempDir()
	defaults := t.TempDir()

	want := writeScript(t, override, "dns", hook.NodeBound, 0o755)
	writeScript(t, defaults, "dns", hook.NodeBound, 0o755)
	fallback := writeScript(t, defaults, "dns", hook.NodeDeleted, 0o755)

	l := NewFS([]string{override, defaults})

	got, ok := l.Locate("dns", hook.NodeBound)
	require.True(t, ok)
	assert.Equal(t, want, got)

	got, ok = l.Locate("dns", hook.NodeDeleted)
	require.True(t, ok)
	assert.Equal(t, fallback, got)
}

func TestFSLocateSkipsNonExecutableAndDirectories(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	writeScript(t, first, "dns", hook.NodeBound, 0o644)
	require.NoError(t, os.MkdirAll(filepath.Join(first, "dns.hook", string(hook.NodeReinstall)), 0o755))
	want := writeScript(t, second, "dns", hook.NodeBound, 0o700)

	l := NewFS([]string{first, second})

	got, ok := l.Locate("dns", hook.NodeBound)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = l.Locate("dns", hook.NodeReinstall)
	assert.False(t, ok)
}

func TestFSLocateSkipsScriptOnlyOthersMayRun(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root may execute any file with an execute bit")
	}
	first := t.TempDir()
	second := t.TempDir()

	writeScript(t, first, "dns", hook.NodeBound, 0o601)
	want := writeScript(t, second, "dns", hook.NodeBound, 0o700)

	l := NewFS([]string{first, second})

	got, ok := l.Locate("dns", hook.NodeBound)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.False(t, Executable(filepath.Join(first, "dns.hook", string(hook.NodeBound))))
}

func TestFSLocateNoHandler(t *testing.T) {
	root := t.TempDir()
	writeScript(t, root, "dns", hook.NodeBound, 0o755)

	l := NewFS([]string{filepath.Join(root, "missing"), root})

	_, ok := l.Locate("ipam", hook.NodeBound)
	assert.False(t, ok)
	_, ok = l.Locate("dns", hook.NodeRegistered)
	assert.False(t, ok)
}

func TestNewFSDedupesAndDropsBlank(t *testing.T) {
	root := t.TempDir()
	l := NewFS([]string{root, " ", root, ""})
	assert.Equal(t, []string{root}, l.Roots())
}

func TestFSCheck(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Empty(t, NewFS([]string{root}).Check())
	assert.Len(t, NewFS([]string{filepath.Join(root, "nope"), file}).Check(), 2)
	assert.Len(t, NewFS(nil).Check(), 1)
}

func TestLocatorFunc(t *testing.T) {
	var l Locator = LocatorFunc(func(name string, ev hook.Event) (string, bool) {
		return "/x/" + name + "/" + string(ev), name == "dns"
	})
	p, ok := l.Locate("dns", hook.NodeBound)
	assert.True(t, ok)
	assert.Equal(t, "/x/dns/node_bound", p)
}
