// Package reconcile writes the results of a hook script back to the hook and
// node records.
//
// Script execution and these writes are not one transaction. If hookd dies
// after a script exits but before Apply completes, the side effects of the
// script are real while the hook keeps its previous state; the lock is
// recovered later by stale reclamation.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/protocol"
)

// Store is the part of the record store the reconciler writes to.
type Store interface {
	UpdateState(ctx context.Context, hookID int64, state json.RawMessage) error
	UpdateNodeMetadata(ctx context.Context, nodeID int64, updates json.RawMessage) (json.RawMessage, error)
	AppendNodeLog(ctx context.Context, nodeID int64, entry hook.LogEntry) error
}

// Reconciler merges script output into stored records.
type Reconciler struct {
	store Store
}

func New(store Store) *Reconciler {
	return &Reconciler{store: store}
}

// Changes summarizes what Apply persisted.
type Changes struct {
	StateReplaced   bool
	MetadataUpdated bool
	// MetadataDropped is set when the script returned metadata but the event
	// has no node to attach it to.
	MetadataDropped bool
}

// Apply persists a successful run: the hook state is replaced wholesale by
// out.hook.state and out.node.metadata is merged into the node's metadata.
// Sections the script left out are not touched. node may be nil.
func (r *Reconciler) Apply(ctx context.Context, h *hook.Hook, node *hook.Node, out *protocol.Output) (Changes, error) {
	var ch Changes
	if out.HasState() {
		if err := r.store.UpdateState(ctx, h.ID, out.Hook.State); err != nil {
			return ch, fmt.Errorf("replace state of hook %q: %w", h.Name, err)
		}
		h.State = append(json.RawMessage(nil), out.Hook.State...)
		ch.StateReplaced = true
	}

	if out.HasMetadata() {
		if node == nil {
			ch.MetadataDropped = true
			return ch, nil
		}
		merged, err := r.store.UpdateNodeMetadata(ctx, node.ID, out.Node.Metadata)
		if err != nil {
			return ch, fmt.Errorf("merge metadata of node %d: %w", node.ID, err)
		}
		var m map[string]any
		if err := json.Unmarshal(merged, &m); err == nil {
			node.Metadata = m
		}
		ch.MetadataUpdated = true
	}
	return ch, nil
}

// Record appends entry to the node's log. It is a no-op without a node.
func (r *Reconciler) Record(ctx context.Context, node *hook.Node, entry hook.LogEntry) error {
	if node == nil {
		return nil
	}
	if err := r.store.AppendNodeLog(ctx, node.ID, entry); err != nil {
		return fmt.Errorf("append log for node %d: %w", node.ID, err)
	}
	return nil
}
