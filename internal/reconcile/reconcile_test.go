package reconcile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/protocol"
	"github.com/mattjoyce/hookd/internal/storage"
	"github.com/mattjoyce/hookd/internal/store"
)

func setup(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := store.New(db)
	return New(st), st
}

func decode(t *testing.T, s string) *protocol.Output {
	t.Helper()
	out, err := protocol.DecodeOutput([]byte(s))
	require.NoError(t, err)
	return out
}

func TestApplyReplacesStateAndMergesMetadata(t *testing.T) {
	r, st := setup(t)
	ctx := context.Background()

	h, err := st.CreateHook(ctx, "dns", "script")
	require.NoError(t, err)
	require.NoError(t, st.UpdateState(ctx, h.ID, json.RawMessage(`{"a":1,"b":2}`)))
	n, err := st.CreateNode(ctx, "node1", map[string]any{"rack": "a1"})
	require.NoError(t, err)

	ch, err := r.Apply(ctx, h, n, decode(t, `{"hook":{"state":{"a":1}},"node":{"metadata":{"dns_ok":true}}}`))
	require.NoError(t, err)
	assert.True(t, ch.StateReplaced)
	assert.True(t, ch.MetadataUpdated)

	got, err := st.GetHook(ctx, "dns")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.State), "state is replaced, not merged")
	assert.JSONEq(t, `{"a":1}`, string(h.State))

	loaded, err := st.LoadNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rack": "a1", "dns_ok": true}, loaded.Metadata)
	assert.Equal(t, true, n.Metadata["dns_ok"])
}

func TestApplyLeavesMissingSectionsAlone(t *testing.T) {
	r, st := setup(t)
	ctx := context.Background()

	h, err := st.CreateHook(ctx, "dns", "script")
	require.NoError(t, err)
	require.NoError(t, st.UpdateState(ctx, h.ID, json.RawMessage(`{"keep":true}`)))

	ch, err := r.Apply(ctx, h, nil, decode(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, Changes{}, ch)

	got, err := st.GetHook(ctx, "dns")
	require.NoError(t, err)
	assert.JSONEq(t, `{"keep":true}`, string(got.State))
}

func TestApplyDropsMetadataWithoutNode(t *testing.T) {
	r, st := setup(t)
	ctx := context.Background()

	h, err := st.CreateHook(ctx, "dns", "script")
	require.NoError(t, err)

	ch, err := r.Apply(ctx, h, nil, decode(t, `{"node":{"metadata":{"x":1}}}`))
	require.NoError(t, err)
	assert.True(t, ch.MetadataDropped)
	assert.False(t, ch.MetadataUpdated)
}

func TestRecord(t *testing.T) {
	r, st := setup(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, "node1", nil)
	require.NoError(t, err)

	require.NoError(t, r.Record(ctx, nil, hook.LogEntry{Message: "dropped"}))
	require.NoError(t, r.Record(ctx, n, hook.LogEntry{Hook: "dns", Event: hook.NodeBound, Severity: hook.SeverityError, Message: "no DHCP lease"}))

	entries, err := st.NodeLog(ctx, n.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "no DHCP lease", entries[0].Message)
}
