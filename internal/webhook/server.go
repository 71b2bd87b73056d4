package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/zeebo/blake3"

	"hookgate/internal/events"
	"hookgate/internal/queue"
)

// Server represents the webhook HTTP server.
type Server struct {
	config Config
	queue  DeliveryQueuer
	events EventPublisher
	logger *slog.Logger
	server *http.Server
}

// New creates a new webhook server instance.
func New(config Config, queue DeliveryQueuer, events EventPublisher, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}

	return &Server{
		config: config,
		queue:  queue,
		events: events,
		logger: logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// The decoder runs ahead of the handler: body capture is the
	// unconditional first step, and the only consumer of the stream.
	r.With(s.captureBody).Post(s.config.Path, s.handleDelivery)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payload content).
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

// captureBody buffers the body and attaches the raw bytes plus decoded
// payload to request-internal context state. Parse and size failures end
// the request here with the same rejection the verifier produces, so the
// response never reveals which check failed.
func (s *Server) captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, raw, err := DecodeBody(r.Header.Get("Content-Type"), r.Body, s.config.MaxBodySize)
		if err != nil {
			var parseErr *ParseError
			switch {
			case errors.As(err, &parseErr):
				s.logger.Warn("webhook body rejected", "reason", "malformed JSON", "request_id", middleware.GetReqID(r.Context()))
			case errors.Is(err, ErrBodyTooLarge):
				s.logger.Warn("webhook body rejected", "reason", "body too large", "limit", s.config.MaxBodySize, "request_id", middleware.GetReqID(r.Context()))
			default:
				s.logger.Warn("webhook body rejected", "reason", "read failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
			}
			s.reject(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withCapturedBody(r.Context(), raw, payload)))
	})
}

// handleDelivery verifies the signature over the captured raw body and
// records the delivery.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, ok := RawBodyFromContext(ctx)
	if !ok {
		// Decoder did not run; treat as unverifiable rather than trusting
		// anything downstream.
		s.reject(w, r)
		return
	}

	decision := Verify(raw, r.Header.Get(SignatureHeader), s.config.Secret)
	if !decision.Authorized {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(ctx),
		)
		s.events.Publish(events.TypeDeliveryRejected, map[string]any{
			"path": r.URL.Path,
		})
		s.halt(w, decision)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		event = "unknown"
	}

	digest := blake3.Sum256(raw)
	dedupeKey := hex.EncodeToString(digest[:])

	id, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
		Event:            event,
		GitHubDeliveryID: r.Header.Get("X-GitHub-Delivery"),
		Payload:          raw,
		DedupeKey:        dedupeKey,
		MaxAttempts:      s.config.MaxAttempts,
		ReceivedFrom:     r.RemoteAddr,
	})
	if err != nil {
		s.logger.Error("failed to record webhook delivery",
			"event", event,
			"error", err,
		)
		s.respondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to record delivery"})
		return
	}

	s.logger.Info("webhook delivery recorded",
		"event", event,
		"delivery_id", id,
		"bytes", len(raw),
	)
	s.events.Publish(events.TypeDeliveryReceived, map[string]any{
		"delivery_id": id,
		"event":       event,
	})

	s.respondJSON(w, http.StatusAccepted, AcceptedResponse{DeliveryID: id})
}

// reject emits the standard rejection for requests that never reached the
// verifier. Same status, same body: parse and size failures are not
// distinguishable from signature failures by an external caller.
func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.events.Publish(events.TypeDeliveryRejected, map[string]any{
		"path": r.URL.Path,
	})
	s.halt(w, decisionRejected)
}

// halt writes a rejection Decision and ends the request. No further
// pipeline stage runs.
func (s *Server) halt(w http.ResponseWriter, d Decision) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(d.Status)
	_, _ = w.Write([]byte(d.Body))
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
