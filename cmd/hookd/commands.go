package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/hookd/internal/config"
	"github.com/mattjoyce/hookd/internal/dispatch"
	"github.com/mattjoyce/hookd/internal/doctor"
	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
	"github.com/mattjoyce/hookd/internal/storage"
	"github.com/mattjoyce/hookd/internal/store"
	"github.com/mattjoyce/hookd/internal/tui/watch"
)

// splitFlagsAndPositionals lets flags appear after positional arguments,
// which flag.FlagSet alone does not allow.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

// valueFlags lists the value-taking flags of fs in both dash forms.
func valueFlags(fs *flag.FlagSet) map[string]bool {
	out := map[string]bool{}
	fs.VisitAll(func(f *flag.Flag) {
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
			return
		}
		out["-"+f.Name] = true
		out["--"+f.Name] = true
	})
	return out
}

// parseArgs parses fs from args with interspersed flags and returns the
// positional arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	flags, positionals := splitFlagsAndPositionals(args, valueFlags(fs))
	if err := fs.Parse(flags); err != nil {
		return nil, err
	}
	return append(positionals, fs.Args()...), nil
}

// --- HOOK ---

type hookView struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Type         string          `json:"type"`
	State        json.RawMessage `json:"state,omitempty"`
	Locked       bool            `json:"locked"`
	LockTime     *time.Time      `json:"lock_time,omitempty"`
	LockingNode  *int64          `json:"locking_node,omitempty"`
	LockingEvent hook.Event      `json:"locking_event,omitempty"`
}

func newHookView(h *hook.Hook) hookView {
	return hookView{
		ID:           h.ID,
		Name:         h.Name,
		Type:         h.Type,
		State:        h.State,
		Locked:       h.Lock.Locked(),
		LockTime:     h.Lock.Time,
		LockingNode:  h.Lock.Node,
		LockingEvent: h.Lock.Event,
	}
}

func runHookList(args []string) int {
	fs := flag.NewFlagSet("hook list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if _, err := parseArgs(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	hooks, err := s.store.FindAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list hooks: %v\n", err)
		return 1
	}

	if *jsonOut {
		views := make([]hookView, 0, len(hooks))
		for _, h := range hooks {
			views = append(views, newHookView(h))
		}
		return printJSON(views)
	}

	if len(hooks) == 0 {
		fmt.Println("No hooks registered.")
		return 0
	}

	now := time.Now()
	maxDuration := s.locks.MaxDuration()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tLOCK\tEVENT\tNODE\tHELD")
	for _, h := range hooks {
		status, event, node, held := "free", "-", "-", "-"
		if h.Lock.Locked() {
			status = "locked"
			d := h.Lock.HeldFor(now)
			if d > maxDuration {
				status = "stale"
			}
			event = string(h.Lock.Event)
			if h.Lock.Node != nil {
				node = strconv.FormatInt(*h.Lock.Node, 10)
			}
			held = d.Truncate(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", h.Name, h.Type, status, event, node, held)
	}
	_ = tw.Flush()
	return 0
}

func runHookCreate(args []string) int {
	fs := flag.NewFlagSet("hook create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	hookType := fs.String("type", "script", "Hook type")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookd hook create <name> [--type TYPE] [--config PATH]")
		return 1
	}
	name := positionals[0]
	if err := hook.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	h, err := s.store.CreateHook(ctx, name, *hookType)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			fmt.Fprintf(os.Stderr, "Hook %q already exists\n", name)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to create hook: %v\n", err)
		return 1
	}

	fmt.Printf("Created hook %s (id %d, type %s)\n", h.Name, h.ID, h.Type)
	missing := 0
	for _, event := range hook.Events() {
		if _, ok := s.locator.Locate(h.Name, event); !ok {
			missing++
		}
	}
	if missing == len(hook.Events()) {
		fmt.Fprintf(os.Stderr, "Warning: no scripts found for %s in %s\n", h.Name, strings.Join(s.locator.Roots(), ", "))
	}
	return 0
}

func runHookDelete(args []string) int {
	fs := flag.NewFlagSet("hook delete", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookd hook delete <name> [--config PATH]")
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	if err := s.store.DeleteHook(ctx, positionals[0]); err != nil {
		if errors.Is(err, store.ErrHookNotFound) {
			fmt.Fprintf(os.Stderr, "Hook %q not found\n", positionals[0])
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to delete hook: %v\n", err)
		return 1
	}
	fmt.Printf("Deleted hook %s\n", positionals[0])
	return 0
}

func runHookUnlock(args []string) int {
	fs := flag.NewFlagSet("hook unlock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookd hook unlock <name> [--config PATH]")
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	h, err := s.store.GetHook(ctx, positionals[0])
	if err != nil {
		if errors.Is(err, store.ErrHookNotFound) {
			fmt.Fprintf(os.Stderr, "Hook %q not found\n", positionals[0])
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load hook: %v\n", err)
		return 1
	}
	if !h.Lock.Locked() {
		fmt.Printf("Hook %s is not locked\n", h.Name)
		return 0
	}
	if err := s.store.ClearLock(ctx, h.ID); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock hook: %v\n", err)
		return 1
	}
	fmt.Printf("Unlocked hook %s (was held for %s by event %s)\n",
		h.Name, h.Lock.HeldFor(time.Now()).Truncate(time.Second), h.Lock.Event)
	fmt.Fprintln(os.Stderr, "Note: a script still running for this hook is not stopped.")
	return 0
}

func runHookWatch(args []string) int {
	fs := flag.NewFlagSet("hook watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if _, err := parseArgs(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	m := watch.New(s.store, s.cfg.State.Path, s.locks.MaxDuration())
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- NODE ---

func runNodeCreate(args []string) int {
	fs := flag.NewFlagSet("node create", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	metadataRaw := fs.String("metadata", "", "Initial metadata as a JSON object")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 || strings.TrimSpace(positionals[0]) == "" {
		fmt.Fprintln(os.Stderr, "Usage: hookd node create <name> [--metadata JSON] [--config PATH]")
		return 1
	}

	metadata, err := parseJSONObject(*metadataRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --metadata: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	n, err := s.store.CreateNode(ctx, positionals[0], metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create node: %v\n", err)
		return 1
	}
	fmt.Printf("Created node %s (id %d)\n", n.Name, n.ID)
	return 0
}

type nodeView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Metadata  map[string]any  `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	Log       []hook.LogEntry `json:"log"`
}

func runNodeShow(args []string) int {
	fs := flag.NewFlagSet("node show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("log", 20, "Number of recent log entries to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookd node show <id> [--log N] [--json] [--config PATH]")
		return 1
	}
	id, err := strconv.ParseInt(positionals[0], 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid node id: %s\n", positionals[0])
		return 1
	}
	if *limit < 0 {
		fmt.Fprintln(os.Stderr, "--log must not be negative")
		return 1
	}

	ctx := context.Background()
	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	n, err := s.store.LoadNode(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNodeNotFound) {
			fmt.Fprintf(os.Stderr, "Node %d not found\n", id)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Failed to load node: %v\n", err)
		return 1
	}
	entries, err := s.store.NodeLog(ctx, id, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load node log: %v\n", err)
		return 1
	}

	view := nodeView{ID: n.ID, Name: n.Name, Metadata: n.Metadata, CreatedAt: n.CreatedAt, Log: entries}
	if view.Log == nil {
		view.Log = []hook.LogEntry{}
	}
	if *jsonOut {
		return printJSON(view)
	}

	fmt.Printf("Node %d: %s\n", n.ID, n.Name)
	fmt.Printf("Created: %s\n", n.CreatedAt.Format(time.RFC3339))
	meta, _ := json.MarshalIndent(n.Metadata, "", "  ")
	fmt.Printf("Metadata: %s\n", meta)
	if len(entries) == 0 {
		fmt.Println("Log: (empty)")
		return 0
	}
	fmt.Println("Log:")
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		exit := "-"
		if e.ExitCode != nil {
			exit = strconv.Itoa(*e.ExitCode)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format(time.RFC3339), e.Severity, e.Hook, e.Event, exit, e.Message)
	}
	_ = tw.Flush()
	return 0
}

func parseJSONObject(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after the JSON object")
	}
	if out == nil {
		return nil, fmt.Errorf("must be a JSON object")
	}
	return out, nil
}

// --- EVENT ---

type fireReport struct {
	Event   hook.Event      `json:"event"`
	Node    int64           `json:"node,omitempty"`
	Status  string          `json:"status"`
	Results []runner.Result `json:"results"`
}

func runEventFire(args []string) int {
	fs := flag.NewFlagSet("event fire", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	nodeID := fs.Int64("node", 0, "Node the event is about")
	dataRaw := fs.String("data", "", "Extra script input as a JSON object")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	positionals, err := parseArgs(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookd event fire <event> [--node ID] [--data JSON] [--config PATH] [--json]")
		return 1
	}
	event, err := hook.ParseEvent(positionals[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *nodeID < 0 {
		fmt.Fprintln(os.Stderr, "--node must not be negative")
		return 1
	}
	data, err := parseJSONObject(*dataRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --data: %v\n", err)
		return 1
	}

	// An interrupt stops hooks that have not started; running scripts finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openToolStack(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()

	results, err := s.dispatcher().Dispatch(ctx, event, runner.Args{NodeID: *nodeID, Data: data})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to deliver event: %v\n", err)
		return 1
	}

	report := fireReport{Event: event, Node: *nodeID, Status: "completed", Results: results}
	code := 0
	if results.NeedsRetry() {
		report.Status = "retry"
		code = exitRetry
	}

	if *jsonOut {
		if rc := printJSON(report); rc != 0 {
			return rc
		}
		return code
	}

	printResults(results)
	fmt.Printf("%s: %d succeeded, %d failed, %d error, %d retry, %d skipped\n",
		event,
		results.Count(runner.OutcomeSucceeded),
		results.Count(runner.OutcomeFailed),
		results.Count(runner.OutcomeError),
		results.Count(runner.OutcomeRetry),
		results.Count(runner.OutcomeSkipped))
	return code
}

func printResults(results dispatch.Results) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HOOK\tOUTCOME\tEXIT\tMESSAGE")
	for _, r := range results {
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Hook, r.Outcome, exit, r.Message)
	}
	_ = tw.Flush()
}

// --- CONFIG ---

type checkReport struct {
	Config string   `json:"config,omitempty"`
	Files  []string `json:"files,omitempty"`
	*doctor.Result
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if _, err := parseArgs(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := checkReport{}
	cfg, resolved, err := loadConfig(*configPath)
	report.Config = resolved
	if err != nil {
		report.Result = &doctor.Result{
			Errors: []doctor.Issue{{Category: "config", Message: err.Error()}},
		}
	} else {
		report.Files = cfg.SourceFiles
		registered, err := registeredHooks(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping hook registration checks: %v\n", err)
		}
		report.Result = doctor.New(cfg, registered).Validate()
	}

	if *jsonOut {
		if rc := printJSON(report); rc != 0 {
			return rc
		}
	} else {
		for _, e := range report.Errors {
			fmt.Printf("ERROR [%s] %s\n", e.Category, issueText(e))
		}
		for _, w := range report.Warnings {
			fmt.Printf("WARNING [%s] %s\n", w.Category, issueText(w))
		}
		if report.Valid {
			fmt.Printf("Configuration OK (%d file(s), %d warning(s))\n", len(report.Files), len(report.Warnings))
		}
	}
	if !report.Valid {
		return 1
	}
	return 0
}

func issueText(i doctor.Issue) string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// registeredHooks lists hook names when the database already exists. A check
// never creates the database.
func registeredHooks(cfg *config.Config) ([]string, error) {
	if _, err := os.Stat(cfg.State.Path); err != nil {
		return nil, nil
	}
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	hooks, err := store.New(db).FindAll(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(hooks))
	for _, h := range hooks {
		names = append(names, h.Name)
	}
	return names, nil
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "List files without writing .checksums")
	if _, err := parseArgs(fs, args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target := *configPath
	if target == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		target = discovered
	}

	files, err := config.DiscoverFiles(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		return 1
	}

	if *dryRun {
		for _, f := range files {
			fmt.Printf("would hash %s\n", f)
		}
		return 0
	}

	report, err := config.Lock(files)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	for _, m := range report.Manifests {
		fmt.Printf("wrote %s\n", m)
	}
	fmt.Printf("Locked %d file(s)\n", len(report.Files))
	return 0
}
