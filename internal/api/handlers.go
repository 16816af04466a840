package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
	"github.com/mattjoyce/hookd/internal/store"
)

// maxEventBody bounds POST /events request bodies.
const maxEventBody = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.FindAll(r.Context())
	if err != nil {
		s.logger.Error("failed to list hooks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read hooks")
		return
	}

	locked := 0
	for _, h := range hooks {
		if h.Lock.Locked() {
			locked++
		}
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Hooks:         len(hooks),
		LockedHooks:   locked,
	})
}

// handleFireEvent handles POST /events/{event}.
// By default the event is dispatched in the background and 202 is returned;
// hooks that were locked get the event again with backoff. With ?wait=true
// the response carries every hook's result, and the status is 409 when a hook
// was locked and the caller must send the event again.
func (s *Server) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	event, err := hook.ParseEvent(chi.URLParam(r, "event"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req FireEventRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxEventBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		// Numbers reach scripts exactly as sent.
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if req.Node < 0 {
		s.writeError(w, http.StatusBadRequest, "node must be a positive id")
		return
	}

	args := runner.Args{NodeID: req.Node, Data: req.Data}
	// Hook runs outlive the request; scripts are never interrupted.
	ctx := context.WithoutCancel(r.Context())

	if r.URL.Query().Get("wait") != "true" {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.deliverAccepted(ctx, event, args)
		}()
		respondJSON(w, http.StatusAccepted, FireEventResponse{Event: event, Node: req.Node, Status: "accepted"})
		return
	}

	s.background.Add(1)
	results, err := s.dispatcher.Dispatch(ctx, event, args)
	s.background.Done()
	if err != nil {
		s.logger.Error("event dispatch failed", "event", event, "node", req.Node, "error", err)
		s.writeError(w, http.StatusInternalServerError, "event dispatch failed")
		return
	}

	resp := FireEventResponse{Event: event, Node: req.Node, Status: "completed", Results: results}
	if results.NeedsRetry() {
		resp.Status = "retry"
		respondJSON(w, http.StatusConflict, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// deliverAccepted dispatches an accepted event and redelivers it to locked
// hooks until they run, attempts run out, or the server stops.
func (s *Server) deliverAccepted(ctx context.Context, event hook.Event, args runner.Args) {
	logger := s.logger.With("event", event, "node", args.NodeID)

	results, err := s.dispatcher.Dispatch(ctx, event, args)
	backoff := s.config.RetryBackoff
	for attempt := 1; err == nil && results.NeedsRetry(); attempt++ {
		pending := results.Pending()
		if attempt > s.config.RetryAttempts {
			logger.Warn("event not delivered to locked hooks; send it again", "hooks", pending, "attempts", s.config.RetryAttempts)
			return
		}
		logger.Info("hooks locked; redelivering", "hooks", pending, "attempt", attempt, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-s.stopping:
			timer.Stop()
			logger.Warn("shutting down before locked hooks received the event; send it again", "hooks", pending)
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)

		results, err = s.dispatcher.Redeliver(ctx, event, args, pending)
	}
	if err != nil {
		logger.Error("event dispatch failed", "error", err)
	}
}

// handleListHooks handles GET /hooks
func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.store.FindAll(r.Context())
	if err != nil {
		s.logger.Error("failed to list hooks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read hooks")
		return
	}

	out := make([]HookResponse, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, newHookResponse(h))
	}
	respondJSON(w, http.StatusOK, map[string]any{"hooks": out})
}

// handleCreateHook handles POST /hooks
func (s *Server) handleCreateHook(w http.ResponseWriter, r *http.Request) {
	var req CreateHookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Type == "" {
		req.Type = "script"
	}

	h, err := s.store.CreateHook(r.Context(), req.Name, req.Type)
	switch {
	case errors.Is(err, hook.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, store.ErrDuplicateName):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to create hook", "name", req.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create hook")
		return
	}

	s.logger.Info("hook created", "hook", h.Name, "type", h.Type)
	respondJSON(w, http.StatusCreated, newHookResponse(h))
}

// handleGetHook handles GET /hooks/{name}
func (s *Server) handleGetHook(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupHook(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newHookResponse(h))
}

// handleDeleteHook handles DELETE /hooks/{name}
func (s *Server) handleDeleteHook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.store.DeleteHook(r.Context(), name)
	if errors.Is(err, store.ErrHookNotFound) {
		s.writeError(w, http.StatusNotFound, "hook not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete hook", "hook", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete hook")
		return
	}
	s.logger.Info("hook deleted", "hook", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleUnlockHook handles POST /hooks/{name}/unlock.
// This force-clears the lock regardless of age. A script still running under
// that lock is not stopped.
func (s *Server) handleUnlockHook(w http.ResponseWriter, r *http.Request) {
	h, ok := s.lookupHook(w, r)
	if !ok {
		return
	}
	if !h.Lock.Locked() {
		respondJSON(w, http.StatusOK, newHookResponse(h))
		return
	}

	if err := s.store.ClearLock(r.Context(), h.ID); err != nil {
		s.logger.Error("failed to unlock hook", "hook", h.Name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to unlock hook")
		return
	}
	s.logger.Warn("hook lock cleared by operator",
		"hook", h.Name, "locked_at", *h.Lock.Time, "locking_event", h.Lock.Event)
	s.events.Publish("hook.unlocked", map[string]any{"hook": h.Name, "locking_event": h.Lock.Event})

	h.Lock = hook.LockState{}
	respondJSON(w, http.StatusOK, newHookResponse(h))
}

// handleNodeLog handles GET /nodes/{id}/log?limit=N
func (s *Server) handleNodeLog(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	node, err := s.store.LoadNode(r.Context(), id)
	if errors.Is(err, store.ErrNodeNotFound) {
		s.writeError(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load node", "node", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load node")
		return
	}

	entries, err := s.store.NodeLog(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read node log", "node", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read node log")
		return
	}
	if entries == nil {
		entries = []hook.LogEntry{}
	}
	respondJSON(w, http.StatusOK, NodeLogResponse{Node: node.ID, Name: node.Name, Entries: entries})
}

func (s *Server) lookupHook(w http.ResponseWriter, r *http.Request) (*hook.Hook, bool) {
	name := chi.URLParam(r, "name")
	h, err := s.store.GetHook(r.Context(), name)
	if errors.Is(err, store.ErrHookNotFound) {
		s.writeError(w, http.StatusNotFound, "hook not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to read hook", "hook", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read hook")
		return nil, false
	}
	return h, true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
