package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookd/internal/dispatch/mocks"
	"github.com/mattjoyce/hookd/internal/events"
	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/lock"
	"github.com/mattjoyce/hookd/internal/locator"
	"github.com/mattjoyce/hookd/internal/log"
	"github.com/mattjoyce/hookd/internal/reconcile"
	"github.com/mattjoyce/hookd/internal/runner"
	"github.com/mattjoyce/hookd/internal/storage"
	"github.com/mattjoyce/hookd/internal/store"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func scriptsFor(names ...string) locator.LocatorFunc {
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	return func(hookName string, event hook.Event) (string, bool) {
		if !have[hookName] {
			return "", false
		}
		return "/hooks/" + hookName + ".hook/" + string(event), true
	}
}

func TestDispatchFansOutToEveryHook(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	source := mocks.NewMockHookSource(ctrl)
	exec := mocks.NewMockExecutor(ctrl)
	hub := events.NewHub(16)

	dns := &hook.Hook{ID: 1, Name: "dns"}
	dhcp := &hook.Hook{ID: 2, Name: "dhcp"}
	noop := &hook.Hook{ID: 3, Name: "noop"}
	args := runner.Args{NodeID: 7}

	source.EXPECT().FindAll(ctx).Return([]*hook.Hook{dns, dhcp, noop}, nil)
	exec.EXPECT().Run(ctx, dns, hook.NodeBound, "/hooks/dns.hook/node_bound", args).
		Return(runner.Result{Hook: "dns", Event: hook.NodeBound, Outcome: runner.OutcomeSucceeded})
	exec.EXPECT().Run(ctx, dhcp, hook.NodeBound, "/hooks/dhcp.hook/node_bound", args).
		Return(runner.Result{Hook: "dhcp", Event: hook.NodeBound, Outcome: runner.OutcomeFailed, Message: "no DHCP lease"})

	d := New(source, scriptsFor("dns", "dhcp"), exec, WithPublisher(hub))
	results, err := d.Dispatch(ctx, hook.NodeBound, args)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, runner.OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, runner.OutcomeFailed, results[1].Outcome)
	assert.Equal(t, runner.OutcomeSkipped, results[2].Outcome)
	assert.Equal(t, "noop", results[2].Hook)
	assert.False(t, results.NeedsRetry())
	assert.Equal(t, 1, results.Count(runner.OutcomeSkipped))

	published := hub.SnapshotSince(0)
	require.Len(t, published, 2)
	types := []string{published[0].Type, published[1].Type}
	assert.ElementsMatch(t, []string{"hook.run.succeeded", "hook.run.failed"}, types)
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	d := New(mocks.NewMockHookSource(ctrl), scriptsFor(), mocks.NewMockExecutor(ctrl))
	_, err := d.Dispatch(context.Background(), hook.Event("node_exploded"), runner.Args{})
	assert.ErrorIs(t, err, hook.ErrUnknownEvent)
}

func TestDispatchEnumerationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockHookSource(ctrl)
	source.EXPECT().FindAll(gomock.Any()).Return(nil, errors.New("db error"))

	d := New(source, scriptsFor(), mocks.NewMockExecutor(ctrl))
	_, err := d.Dispatch(context.Background(), hook.NodeDeleted, runner.Args{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestDispatchReportsRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockHookSource(ctrl)
	exec := mocks.NewMockExecutor(ctrl)
	h := &hook.Hook{ID: 1, Name: "dns"}

	source.EXPECT().FindAll(gomock.Any()).Return([]*hook.Hook{h}, nil)
	exec.EXPECT().Run(gomock.Any(), h, hook.NodeReinstall, gomock.Any(), gomock.Any()).
		Return(runner.Result{Hook: "dns", Outcome: runner.OutcomeRetry})

	results, err := New(source, scriptsFor("dns"), exec).Dispatch(context.Background(), hook.NodeReinstall, runner.Args{})
	require.NoError(t, err)
	assert.True(t, results.NeedsRetry())
}

func TestRedeliverRunsOnlyNamedHooks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	source := mocks.NewMockHookSource(ctrl)
	exec := mocks.NewMockExecutor(ctrl)
	hub := events.NewHub(16)

	dns := &hook.Hook{ID: 1, Name: "dns"}
	dhcp := &hook.Hook{ID: 2, Name: "dhcp"}
	args := runner.Args{NodeID: 3}

	source.EXPECT().FindAll(ctx).Return([]*hook.Hook{dns, dhcp}, nil)
	exec.EXPECT().Run(ctx, dhcp, hook.NodeBound, "/hooks/dhcp.hook/node_bound", args).
		Return(runner.Result{Hook: "dhcp", Event: hook.NodeBound, Outcome: runner.OutcomeSucceeded})

	d := New(source, scriptsFor("dns", "dhcp"), exec, WithPublisher(hub))
	results, err := d.Redeliver(ctx, hook.NodeBound, args, []string{"dhcp", "deleted-meanwhile"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "dhcp", results[0].Hook)
	assert.Empty(t, results.Pending())
	assert.Len(t, hub.SnapshotSince(0), 1)
}

func TestResultsPending(t *testing.T) {
	rs := Results{
		{Hook: "dns", Outcome: runner.OutcomeRetry},
		{Hook: "dhcp", Outcome: runner.OutcomeSucceeded},
		{Hook: "ntp", Outcome: runner.OutcomeRetry},
	}
	assert.Equal(t, []string{"dns", "ntp"}, rs.Pending())
	assert.Nil(t, Results{{Hook: "dns", Outcome: runner.OutcomeFailed}}.Pending())
}

func TestDispatchCancelledBeforeRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockHookSource(ctrl)
	exec := mocks.NewMockExecutor(ctrl)
	source.EXPECT().FindAll(gomock.Any()).Return([]*hook.Hook{{ID: 1, Name: "dns"}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := New(source, scriptsFor("dns"), exec).Dispatch(ctx, hook.NodeBound, runner.Args{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, runner.OutcomeRetry, results[0].Outcome)
}

func TestDispatchRespectsConcurrencyLimit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	source := mocks.NewMockHookSource(ctrl)
	exec := mocks.NewMockExecutor(ctrl)

	hooks := make([]*hook.Hook, 6)
	names := make([]string, len(hooks))
	for i := range hooks {
		names[i] = string(rune('a' + i))
		hooks[i] = &hook.Hook{ID: int64(i + 1), Name: names[i]}
	}
	source.EXPECT().FindAll(gomock.Any()).Return(hooks, nil)

	var inFlight, peak atomic.Int32
	exec.EXPECT().Run(gomock.Any(), gomock.Any(), hook.NodeRegistered, gomock.Any(), gomock.Any()).
		Times(len(hooks)).
		DoAndReturn(func(_ context.Context, h *hook.Hook, ev hook.Event, _ string, _ runner.Args) runner.Result {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return runner.Result{Hook: h.Name, Event: ev, Outcome: runner.OutcomeSucceeded}
		})

	results, err := New(source, scriptsFor(names...), exec, WithConcurrency(2)).
		Dispatch(context.Background(), hook.NodeRegistered, runner.Args{})
	require.NoError(t, err)
	assert.Equal(t, len(hooks), results.Count(runner.OutcomeSucceeded))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// Two dispatchers over one database deliver the same event concurrently.
// Each hook runs its script exactly once; the other delivery is told to retry.
func TestDispatchAcrossDispatchersRunsEachHookOnce(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "state.db")

	openStore := func() *store.Store {
		db, err := storage.OpenSQLite(ctx, dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return store.New(db)
	}
	st1, st2 := openStore(), openStore()

	root := filepath.Join(tmp, "hooks")
	for _, name := range []string{"dns", "dhcp"} {
		_, err := st1.CreateHook(ctx, name, "script")
		require.NoError(t, err)
		dir := filepath.Join(root, name+".hook")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		body := "#!/bin/sh\necho run >> runs.log\nsleep 0.3\necho '{}'\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(hook.NodeBound)), []byte(body), 0o755))
	}
	n, err := st1.CreateNode(ctx, "node1", nil)
	require.NoError(t, err)

	newDispatcher := func(st *store.Store) *Dispatcher {
		locks, err := lock.NewManager(st, time.Hour)
		require.NoError(t, err)
		r := runner.New(locks, st, reconcile.New(st))
		return New(st, locator.NewFS([]string{root}), r)
	}
	d1, d2 := newDispatcher(st1), newDispatcher(st2)

	var wg sync.WaitGroup
	all := make([]Results, 2)
	for i, d := range []*Dispatcher{d1, d2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := d.Dispatch(ctx, hook.NodeBound, runner.Args{NodeID: n.ID})
			assert.NoError(t, err)
			all[i] = res
		}()
	}
	wg.Wait()

	succeeded := all[0].Count(runner.OutcomeSucceeded) + all[1].Count(runner.OutcomeSucceeded)
	retried := all[0].Count(runner.OutcomeRetry) + all[1].Count(runner.OutcomeRetry)
	assert.Equal(t, 4, succeeded+retried)
	assert.GreaterOrEqual(t, succeeded, 2)

	for _, name := range []string{"dns", "dhcp"} {
		raw, err := os.ReadFile(filepath.Join(root, name+".hook", "runs.log"))
		require.NoError(t, err)
		hookSucceeded := 0
		for _, rs := range all {
			for _, r := range rs {
				if r.Hook == name && r.Outcome == runner.OutcomeSucceeded {
					hookSucceeded++
				}
			}
		}
		assert.Equal(t, hookSucceeded, len(raw)/len("run\n"), "hook %s ran once per successful delivery", name)

		h, err := st1.GetHook(ctx, name)
		require.NoError(t, err)
		assert.False(t, h.Lock.Locked())
	}
}
