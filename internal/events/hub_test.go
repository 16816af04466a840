package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubSnapshotRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("hook.run.succeeded", map[string]int{"n": i})
	}

	snap := h.SnapshotSince(0)
	require.Len(t, snap, 3)
	assert.Equal(t, int64(3), snap[0].ID)
	assert.Equal(t, int64(5), snap[2].ID)
	assert.JSONEq(t, `{"n":4}`, string(snap[2].Data))

	since := h.SnapshotSince(4)
	require.Len(t, since, 1)
	assert.Equal(t, int64(5), since[0].ID)
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()

	h.Publish("hook.run.failed", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "hook.run.failed", ev.Type)
		assert.JSONEq(t, `{}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish("hook.run.retry", nil)
	}
	assert.Equal(t, int64(5), h.Dropped())
}
