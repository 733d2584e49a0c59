// Package http exposes runner records and queue statistics over a small JSON API,
// together with the Prometheus endpoint and a server-sent stream of runner transitions.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/domain"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
	"github.com/aretw0/asyncworker/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the status API.
type Server struct {
	Operator *lifecycle.Operator
	Queue    ports.Queue
	Streams  *StreamManager

	version  string
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGatherer exposes the given registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger configures a logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server. queue may be nil when no queue backend is configured.
func NewServer(operator *lifecycle.Operator, queue ports.Queue, opts ...Option) *Server {
	s := &Server{
		Operator: operator,
		Queue:    queue,
		Streams:  NewStreamManager(),
		version:  "dev",
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/events", s.SubscribeEvents)

	r.Route("/runners", func(r chi.Router) {
		r.Get("/", s.ListRunners)
		r.Get("/{id}", s.GetRunner)
		r.Post("/{id}/shutdown", s.ShutdownRunner)
		r.Post("/{id}/reset", s.ResetRunner)
	})

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", s.ListQueues)
		r.Get("/{name}", s.GetQueue)
	})

	return r
}

// Hooks publishes controller transitions to the event stream.
func (s *Server) Hooks() lifecycle.Hooks {
	return lifecycle.Hooks{
		OnTransition: func(ctx context.Context, e lifecycle.TransitionEvent) {
			if data, err := json.Marshal(e); err == nil {
				s.Streams.Broadcast(e.RunnerID, string(data))
			}
		},
	}
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.Queue != nil && !s.Queue.IsAvailable(r.Context()) {
		status["status"] = "degraded"
		status["queue"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "asyncworker",
		"version": s.version,
	})
}

// ListRunners handles the GET /runners request.
func (s *Server) ListRunners(w http.ResponseWriter, r *http.Request) {
	runners, err := s.Operator.List(r.Context())
	if err != nil {
		s.fail(w, "List runners failed", err)
		return
	}
	if runners == nil {
		runners = []*domain.Runner{}
	}
	s.writeJSON(w, http.StatusOK, runners)
}

// GetRunner handles the GET /runners/{id} request.
func (s *Server) GetRunner(w http.ResponseWriter, r *http.Request) {
	runner, err := s.Operator.Inspect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Inspect runner failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, runner)
}

// ShutdownRunner handles the POST /runners/{id}/shutdown request.
func (s *Server) ShutdownRunner(w http.ResponseWriter, r *http.Request) {
	runner, err := s.Operator.RequestShutdown(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Shutdown request failed", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, runner)
}

// ResetRunner handles the POST /runners/{id}/reset request.
func (s *Server) ResetRunner(w http.ResponseWriter, r *http.Request) {
	runner, err := s.Operator.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "Reset failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, runner)
}

// ListQueues handles the GET /queues request.
func (s *Server) ListQueues(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		s.writeJSON(w, http.StatusOK, []ports.QueueStats{})
		return
	}
	names, err := s.Queue.Names(r.Context())
	if err != nil {
		s.fail(w, "List queues failed", err)
		return
	}
	stats := make([]ports.QueueStats, 0, len(names))
	for _, name := range names {
		st, err := s.Queue.Stats(r.Context(), name)
		if err != nil {
			s.fail(w, "Queue stats failed", err)
			return
		}
		stats = append(stats, st)
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// GetQueue handles the GET /queues/{name} request.
func (s *Server) GetQueue(w http.ResponseWriter, r *http.Request) {
	if s.Queue == nil {
		http.Error(w, "No queue backend configured", http.StatusNotFound)
		return
	}
	st, err := s.Queue.Stats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, "Queue stats failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// SubscribeEvents handles the GET /events request (SSE).
// The optional runner_id query parameter narrows the stream to one runner.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	runnerID := r.URL.Query().Get("runner_id")
	ch, cancel := s.Streams.Subscribe(runnerID)
	defer cancel()

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "runner_id", runnerID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: transition\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrRunnerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, domain.ErrInvalidRunnerID):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, fmt.Sprintf("%s: %v", msg, err), http.StatusInternalServerError)
	s.logger.Error(msg, "error", err)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "error", err)
	}
}

// StreamManager fans transition events out to SSE subscribers.
// Subscribers registered under the empty key receive every runner's events.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- string]struct{}
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- string]struct{}),
	}
}

func (sm *StreamManager) Subscribe(runnerID string) (chan string, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan string, 10)
	if _, ok := sm.subscribers[runnerID]; !ok {
		sm.subscribers[runnerID] = make(map[chan<- string]struct{})
	}
	sm.subscribers[runnerID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runnerID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runnerID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(runnerID string, msg string) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	keys := []string{""}
	if runnerID != "" {
		keys = append(keys, runnerID)
	}
	for _, key := range keys {
		for ch := range sm.subscribers[key] {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
			}
		}
	}
}
