package dispatch

import (
	"context"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
)

//go:generate mockgen -destination=mocks/mock_dispatch.go -package=mocks github.com/mattjoyce/hookd/internal/dispatch HookSource,Executor

// HookSource enumerates every registered hook.
type HookSource interface {
	FindAll(ctx context.Context) ([]*hook.Hook, error)
}

// Executor runs one hook's script for one event.
type Executor interface {
	Run(ctx context.Context, h *hook.Hook, event hook.Event, script string, args runner.Args) runner.Result
}

// Publisher receives run outcomes.
type Publisher interface {
	Publish(eventType string, data any)
}
