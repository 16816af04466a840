package lock

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/log"
	"github.com/mattjoyce/hookd/internal/storage"
	"github.com/mattjoyce/hookd/internal/store"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func setupManager(t *testing.T, maxDuration time.Duration, clock *fakeClock) (*Manager, *store.Store, *hook.Hook) {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db)
	h, err := st.CreateHook(context.Background(), "dns", "script")
	require.NoError(t, err)

	var opts []Option
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	m, err := NewManager(st, maxDuration, opts...)
	require.NoError(t, err)
	return m, st, h
}

func TestNewManagerRejectsNonPositiveDuration(t *testing.T) {
	_, err := NewManager(nil, 0)
	assert.Error(t, err)
}

func TestAcquireRelease(t *testing.T) {
	m, st, h := setupManager(t, time.Hour, nil)
	ctx := context.Background()

	node, err := st.CreateNode(ctx, "node1", nil)
	require.NoError(t, err)

	ok, err := m.Acquire(ctx, h, hook.NodeBound, &node.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, h.Lock.Locked())

	other, err := st.GetHook(ctx, "dns")
	require.NoError(t, err)
	ok, err = m.Acquire(ctx, other, hook.NodeReinstall, nil)
	require.NoError(t, err)
	assert.False(t, ok, "held lock must not be acquired twice")

	require.NoError(t, m.Release(ctx, h))
	assert.False(t, h.Lock.Locked())

	ok, err = m.Acquire(ctx, other, hook.NodeReinstall, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentAcquireOnlyOneWins(t *testing.T) {
	m, st, h := setupManager(t, time.Hour, nil)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mine, err := st.GetHook(ctx, h.Name)
			if !assert.NoError(t, err) {
				return
			}
			ok, err := m.Acquire(ctx, mine, hook.NodeBound, nil)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStaleLockBoundary(t *testing.T) {
	const maxDuration = 10 * time.Minute
	const eps = time.Second

	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m, st, h := setupManager(t, maxDuration, clock)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, h, hook.NodeBound, nil)
	require.NoError(t, err)
	require.True(t, ok)

	clock.Set(start.Add(maxDuration - eps))
	contender, err := st.GetHook(ctx, "dns")
	require.NoError(t, err)
	ok, err = m.Acquire(ctx, contender, hook.NodeReinstall, nil)
	require.NoError(t, err)
	assert.False(t, ok, "lock is still live just before the limit")

	clock.Set(start.Add(maxDuration + eps))
	ok, err = m.Acquire(ctx, contender, hook.NodeReinstall, nil)
	require.NoError(t, err)
	assert.True(t, ok, "lock is reclaimable just after the limit")

	got, err := st.GetHook(ctx, "dns")
	require.NoError(t, err)
	assert.Equal(t, hook.NodeReinstall, got.Lock.Event)
	assert.True(t, got.Lock.Time.Equal(start.Add(maxDuration+eps)))
}

func TestReclaimIfStaleLeavesFreshLock(t *testing.T) {
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m, _, h := setupManager(t, time.Minute, clock)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, h, hook.NodeBound, nil)
	require.NoError(t, err)
	require.True(t, ok)

	reclaimed, err := m.ReclaimIfStale(ctx, h)
	require.NoError(t, err)
	assert.False(t, reclaimed)
	assert.True(t, h.Lock.Locked())

	clock.Set(start.Add(2 * time.Minute))
	reclaimed, err = m.ReclaimIfStale(ctx, h)
	require.NoError(t, err)
	assert.True(t, reclaimed)
	assert.False(t, h.Lock.Locked())
}

func TestReclaimAll(t *testing.T) {
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m, _, h := setupManager(t, time.Minute, clock)
	ctx := context.Background()

	ok, err := m.Acquire(ctx, h, hook.NodeBound, nil)
	require.NoError(t, err)
	require.True(t, ok)

	names, err := m.ReclaimAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	clock.Set(start.Add(time.Hour))
	names, err = m.ReclaimAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns"}, names)
}

func TestSweepStopsOnCancel(t *testing.T) {
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m, st, h := setupManager(t, time.Minute, clock)

	ok, err := m.Acquire(context.Background(), h, hook.NodeBound, nil)
	require.NoError(t, err)
	require.True(t, ok)
	clock.Set(start.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Sweep(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		got, err := st.GetHook(context.Background(), "dns")
		return err == nil && !got.Lock.Locked()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
