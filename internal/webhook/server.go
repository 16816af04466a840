package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/hookd/internal/hook"
	"github.com/mattjoyce/hookd/internal/runner"
)

// DeliveryIDHeader lets a sender correlate its delivery with hookd logs.
const DeliveryIDHeader = "X-Delivery-ID"

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	dispatcher EventDispatcher
	logger     *slog.Logger
	server     *http.Server

	// endpoints maps URL paths to their configurations
	endpoints map[string]*EndpointConfig
}

// New creates a new webhook server instance.
func New(config Config, dispatcher EventDispatcher, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]
		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		endpoints[ep.Path] = ep
	}

	return &Server{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger,
		endpoints:  endpoints,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.setupRoutes(),
		ReadTimeout: 10 * time.Second,
		// Deliveries wait for every hook script.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		// Shutdown waits for in-flight deliveries, whose scripts hold locks.
		if err := s.server.Shutdown(context.Background()); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs HTTP requests without their payloads.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing", "path", r.URL.Path, "header", endpoint.SignatureHeader)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := verifySignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed", "path", r.URL.Path, "error", err)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	delivery, event, err := decodeDelivery(body, endpoint.Event)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	deliveryID := r.Header.Get(DeliveryIDHeader)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	logger := s.logger.With("delivery_id", deliveryID, "path", r.URL.Path, "event", event, "node", delivery.Node)

	// A sender hanging up must not turn unstarted hooks into retries.
	ctx := context.WithoutCancel(r.Context())
	results, err := s.dispatcher.Dispatch(ctx, event, runner.Args{NodeID: delivery.Node, Data: delivery.Data})
	if err != nil {
		logger.Error("webhook dispatch failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	resp := DeliveryResponse{
		DeliveryID: deliveryID,
		Event:      event,
		Node:       delivery.Node,
		Status:     "completed",
		Results:    results,
	}
	status := http.StatusOK
	if results.NeedsRetry() {
		resp.Status = "retry"
		status = http.StatusConflict
	}
	logger.Info("webhook delivered",
		"status", resp.Status,
		"succeeded", results.Count(runner.OutcomeSucceeded),
		"retry", results.Count(runner.OutcomeRetry),
	)
	s.respondJSON(w, status, resp)
}

// decodeDelivery parses the body and resolves the event. A pinned event
// overrides the body.
func decodeDelivery(body []byte, pinned hook.Event) (Delivery, hook.Event, error) {
	var d Delivery
	if len(bytes.TrimSpace(body)) > 0 {
		// Numbers in data reach scripts exactly as sent.
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&d); err != nil {
			return d, "", fmt.Errorf("invalid JSON body: %v", err)
		}
		if dec.More() {
			return d, "", errors.New("invalid JSON body: trailing data")
		}
	}
	if d.Node < 0 {
		return d, "", errors.New("node must not be negative")
	}
	if pinned != "" {
		return d, pinned, nil
	}
	if d.Event == "" {
		return d, "", errors.New("event is required")
	}
	event, err := hook.ParseEvent(d.Event)
	if err != nil {
		return d, "", err
	}
	return d, event, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
