package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/log"
	"github.com/mattjoyce/hookd/internal/protocol"
	"github.com/mattjoyce/hookd/internal/reconcile"
)

// releaseTimeout bounds the final unlock, which runs even when the caller's
// context is already cancelled.
const releaseTimeout = 10 * time.Second

// Locker is the lock protocol the runner needs.
type Locker interface {
	Acquire(ctx context.Context, h *hook.Hook, event hook.Event, nodeID *int64) (bool, error)
	Release(ctx context.Context, h *hook.Hook) error
}

// NodeLoader loads the node an event is about.
type NodeLoader interface {
	LoadNode(ctx context.Context, id int64) (*hook.Node, error)
}

// Runner executes hook scripts.
type Runner struct {
	locks      Locker
	nodes      NodeLoader
	reconciler *reconcile.Reconciler
}

func New(locks Locker, nodes NodeLoader, reconciler *reconcile.Reconciler) *Runner {
	return &Runner{
		locks:      locks,
		nodes:      nodes,
		reconciler: reconciler,
	}
}

// Run executes script for h and event. It never returns without releasing a
// lock it took.
func (r *Runner) Run(ctx context.Context, h *hook.Hook, event hook.Event, script string, args Args) (res Result) {
	res = Result{
		RunID:  uuid.NewString(),
		Hook:   h.Name,
		Event:  event,
		Script: script,
	}
	logger := log.WithRun(res.RunID, h.Name, string(event))

	var actor *int64
	if args.NodeID != 0 {
		id := args.NodeID
		actor = &id
	}

	ok, err := r.locks.Acquire(ctx, h, event, actor)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("acquire lock: %v", err)
		logger.Error("failed to acquire hook lock", "error", err)
		return res
	}
	if !ok {
		res.Outcome = OutcomeRetry
		res.Message = "hook is locked by another run"
		logger.Info("hook is locked; event must be redelivered")
		return res
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Outcome = OutcomeError
			res.Message = fmt.Sprintf("internal error: %v", p)
			logger.Error("hook run panicked", "panic", p)
		}
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.locks.Release(relCtx, h); err != nil {
			logger.Error("failed to release hook lock", "error", err)
		}
		res.Duration = time.Since(start)
		logger.Info("hook run finished", "outcome", res.Outcome, "duration_ms", res.Duration.Milliseconds())
	}()

	r.execute(ctx, logger, h, event, script, args, &res)
	return res
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, h *hook.Hook, event hook.Event, script string, args Args, res *Result) {
	var node *hook.Node
	if args.NodeID != 0 {
		n, err := r.nodes.LoadNode(ctx, args.NodeID)
		if err != nil {
			res.Outcome = OutcomeError
			res.Message = fmt.Sprintf("load node: %v", err)
			logger.Error("failed to load event node", "node_id", args.NodeID, "error", err)
			return
		}
		node = n
	}

	state, err := h.StateObject()
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("decode hook state: %v", err)
		logger.Error("stored hook state is not a JSON object", "error", err)
		return
	}

	in := &protocol.Input{
		Hook: protocol.HookInfo{Name: h.Name, State: state},
		Args: reduceArgs(args.Data),
	}
	if node != nil {
		in.Node = node.IdentityPayload()
	}

	env := []string{"HOOKD_HOOK=" + h.Name, "HOOKD_EVENT=" + string(event)}
	ex, err := spawn(script, in, env, logger)
	// The script has had its side effects; persist them even if the caller
	// has given up waiting.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("script could not be executed: %v", err)
		logger.Warn("hook script could not be executed", "script", script, "error", err)
		r.record(ctx, logger, node, h, event, hook.SeverityError, res.Message, nil)
		return
	}
	code := ex.exitCode
	res.ExitCode = &code
	if ex.stderr != "" {
		logger.Debug("hook script stderr", "stderr", ex.stderr)
	}
	if ex.stdoutTruncated {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("script output exceeds %s", humanize.IBytes(protocol.MaxOutputBytes))
		logger.Warn("hook script output too large", "script", script, "exit_code", code)
		r.record(ctx, logger, node, h, event, hook.SeverityError, res.Message, &code)
		return
	}

	out, err := protocol.DecodeOutput(ex.stdout)
	if err != nil {
		res.Outcome = OutcomeError
		res.Message = fmt.Sprintf("invalid script output: %v", err)
		logger.Warn("hook script produced invalid output",
			"script", script, "exit_code", code, "error", err, "stdout", truncate(string(ex.stdout), 1024), "stderr", ex.stderr)
		r.record(ctx, logger, node, h, event, hook.SeverityError, res.Message, &code)
		return
	}

	switch code {
	case protocol.ExitSuccess:
		ch, err := r.reconciler.Apply(ctx, h, node, out)
		if err != nil {
			res.Outcome = OutcomeError
			res.Message = fmt.Sprintf("persist script results: %v", err)
			logger.Error("failed to persist hook script results", "error", err)
			return
		}
		if ch.MetadataDropped {
			logger.Warn("script returned node metadata for an event without a node; ignored")
		}
		res.Outcome = OutcomeSucceeded
		logger.Debug("hook script succeeded", "state_replaced", ch.StateReplaced, "metadata_updated", ch.MetadataUpdated)

	case protocol.ExitFailure:
		res.Outcome = OutcomeFailed
		res.Message = out.ErrorMessage()
		if res.Message == "" {
			res.Message = "script failed without an error message"
		}
		logger.Info("hook script reported failure", "error", res.Message)
		r.record(ctx, logger, node, h, event, hook.SeverityError, res.Message, &code)

	default:
		res.Outcome = OutcomeError
		res.Message = out.ErrorMessage()
		logger.Warn(fmt.Sprintf("script %s produced exit code %d when it should have been 0 or 1", script, code),
			"exit_code", code, "stderr", ex.stderr)
		if res.Message != "" {
			r.record(ctx, logger, node, h, event, hook.SeverityError, res.Message, &code)
		} else {
			res.Message = fmt.Sprintf("unexpected exit code %d", code)
		}
	}
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, node *hook.Node, h *hook.Hook, event hook.Event, sev hook.Severity, msg string, code *int) {
	entry := hook.LogEntry{
		Event:    event,
		Hook:     h.Name,
		Severity: sev,
		Message:  msg,
		ExitCode: code,
	}
	if err := r.reconciler.Record(ctx, node, entry); err != nil {
		logger.Error("failed to append node log", "error", err)
	}
}

// reduceArgs copies data, replacing domain records with their identity
// payload. Only values implementing hook.IdentityPayloader are reduced.
func reduceArgs(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if p, ok := v.(hook.IdentityPayloader); ok {
			v = p.IdentityPayload()
		}
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
