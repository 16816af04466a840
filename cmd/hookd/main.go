package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitRetry is returned by "event fire" when at least one hook was locked
// and the event must be delivered again (EX_TEMPFAIL).
const exitRetry = 75

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "hook":
		return runHookNoun(args)
	case "node":
		return runNodeNoun(args)
	case "event":
		return runEventNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hookd version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("hookd %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func printUsage() {
	fmt.Print(`hookd - run node lifecycle hook scripts exactly once per event

Usage:
  hookd <noun> <action> [flags]

Core Resources (Nouns):
  system    Service lifecycle
  hook      Registered hooks and their locks
  node      Nodes and their hook logs
  event     Lifecycle event delivery
  config    Configuration and integrity

System Commands:
  system start          Start the service in foreground

Hook Commands:
  hook list             Show hooks and lock holders
  hook create <name>    Register a hook
  hook delete <name>    Remove a hook
  hook unlock <name>    Force-clear a hook lock
  hook watch            Live lock view TUI

Node Commands:
  node create <name>    Register a node
  node show <id>        Show node metadata and hook log

Event Commands:
  event fire <event>    Deliver an event to every hook and wait for results

Config Commands:
  config check          Validate configuration and hook paths
  config lock           Authorize current state (update integrity hashes)

General:
  version               Show version information
  help                  Show this help message

Use 'hookd <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runHookNoun(args []string) int {
	if len(args) < 1 {
		printHookNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printHookNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printHookNounHelp(os.Stdout)
		return 0
	}

	switch action {
	case "list":
		return runHookList(actionArgs)
	case "create":
		return runHookCreate(actionArgs)
	case "delete":
		return runHookDelete(actionArgs)
	case "unlock":
		return runHookUnlock(actionArgs)
	case "watch":
		return runHookWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown hook action: %s\n", action)
		return 1
	}
}

func runNodeNoun(args []string) int {
	if len(args) < 1 {
		printNodeNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printNodeNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]
	if hasHelpFlag(actionArgs) {
		printNodeNounHelp(os.Stdout)
		return 0
	}

	switch action {
	case "create":
		return runNodeCreate(actionArgs)
	case "show":
		return runNodeShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown node action: %s\n", action)
		return 1
	}
}

func runEventNoun(args []string) int {
	if len(args) < 1 {
		printEventNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEventNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "fire":
		if hasHelpFlag(actionArgs) {
			printEventFireHelp()
			return 0
		}
		return runEventFire(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown event action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookd system <action>")
	fmt.Fprintln(w, "Actions: start")
}

func printHookNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookd hook <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list [--json]")
	fmt.Fprintln(w, "  create <name> [--type TYPE]")
	fmt.Fprintln(w, "  delete <name>")
	fmt.Fprintln(w, "  unlock <name>")
	fmt.Fprintln(w, "  watch")
}

func printNodeNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookd node <action> [--config PATH]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  create <name> [--metadata JSON]")
	fmt.Fprintln(w, "  show <id> [--log N] [--json]")
}

func printEventNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookd event <action>")
	fmt.Fprintln(w, "Actions: fire")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookd config <action> [--config PATH]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printSystemStartHelp() {
	fmt.Println("Usage: hookd system start [--config PATH]")
	fmt.Println("Start the service in the foreground: stale lock sweeper and, when enabled, the HTTP API.")
}

func printEventFireHelp() {
	fmt.Println("Usage: hookd event fire <event> [--node ID] [--data JSON] [--config PATH] [--json]")
	fmt.Println("Deliver an event to every hook in this process and print one line per hook.")
	fmt.Println("")
	fmt.Println("Events: node_registered, node_bound, node_reinstall, node_deleted")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0   Every hook handled or skipped the event")
	fmt.Println("  1   The event could not be delivered")
	fmt.Println("  75  At least one hook was locked; deliver the event again")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: hookd config check [--config PATH] [--json]")
	fmt.Println("Validate configuration syntax, values, integrity, and hook paths.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: hookd config lock [--config PATH] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating .checksums files.")
}
