package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/locator"
	"github.com/mattjoyce/hookd/internal/log"
	"github.com/mattjoyce/hookd/internal/runner"
)

// DefaultConcurrency bounds the number of hooks run at once for one event.
const DefaultConcurrency = 8

// Results holds one result per hook, in hook enumeration order.
type Results []runner.Result

// NeedsRetry reports whether any hook was locked and the event must be
// delivered again.
func (rs Results) NeedsRetry() bool {
	for _, r := range rs {
		if r.Outcome == runner.OutcomeRetry {
			return true
		}
	}
	return false
}

// Count returns how many results have the given outcome.
func (rs Results) Count(outcome runner.Outcome) int {
	n := 0
	for _, r := range rs {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Pending returns the names of hooks that must see the event again.
func (rs Results) Pending() []string {
	var names []string
	for _, r := range rs {
		if r.Outcome == runner.OutcomeRetry {
			names = append(names, r.Hook)
		}
	}
	return names
}

// Dispatcher fans an event out to every hook.
type Dispatcher struct {
	hooks   HookSource
	locator locator.Locator
	exec    Executor
	events  Publisher
	limit   int
	logger  *slog.Logger
}

type Option func(*Dispatcher)

// WithConcurrency sets the worker pool size. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithPublisher publishes run outcomes to p.
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// New creates a Dispatcher.
func New(hooks HookSource, loc locator.Locator, exec Executor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		hooks:   hooks,
		locator: loc,
		exec:    exec,
		limit:   DefaultConcurrency,
		logger:  log.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers event to all hooks and waits for every run to finish.
// An error means the event was not delivered at all; per-hook problems are
// reported in the results.
func (d *Dispatcher) Dispatch(ctx context.Context, event hook.Event, args runner.Args) (Results, error) {
	return d.dispatch(ctx, event, args, nil)
}

// Redeliver delivers event again to the named hooks only, typically those
// that reported retry. Names that no longer match a hook are ignored.
func (d *Dispatcher) Redeliver(ctx context.Context, event hook.Event, args runner.Args, names []string) (Results, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	return d.dispatch(ctx, event, args, func(h *hook.Hook) bool { return want[h.Name] })
}

func (d *Dispatcher) dispatch(ctx context.Context, event hook.Event, args runner.Args, keep func(*hook.Hook) bool) (Results, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("%w: %q", hook.ErrUnknownEvent, event)
	}

	all, err := d.hooks.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate hooks: %w", err)
	}
	hooks := all
	if keep != nil {
		hooks = make([]*hook.Hook, 0, len(all))
		for _, h := range all {
			if keep(h) {
				hooks = append(hooks, h)
			}
		}
	}

	d.logger.Debug("dispatching event", "event", event, "hooks", len(hooks), "node", args.NodeID)

	results := make(Results, len(hooks))
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i, h := range hooks {
		g.Go(func() error {
			results[i] = d.deliver(ctx, h, event, args)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Outcome != runner.OutcomeSkipped && d.events != nil {
			d.events.Publish("hook.run."+string(res.Outcome), res)
		}
	}
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, h *hook.Hook, event hook.Event, args runner.Args) runner.Result {
	script, ok := d.locator.Locate(h.Name, event)
	if !ok {
		return runner.Result{Hook: h.Name, Event: event, Outcome: runner.OutcomeSkipped}
	}
	if err := ctx.Err(); err != nil {
		return runner.Result{
			Hook:    h.Name,
			Event:   event,
			Outcome: runner.OutcomeRetry,
			Script:  script,
			Message: fmt.Sprintf("dispatch cancelled: %v", err),
		}
	}
	return d.exec.Run(ctx, h, event, script, args)
}
