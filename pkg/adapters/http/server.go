// Package http exposes a node's status and operator commands over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aretw0/railhub/internal/logging"
	"github.com/aretw0/railhub/pkg/domain"
)

// Service is the node surface the API drives.
type Service interface {
	Status(ctx context.Context) domain.NodeStatus
	SelectDestination(ctx context.Context, dest string) error
	CancelDeparture(ctx context.Context) error
	Brake(ctx context.Context) error
	SetSwitch(ctx context.Context, index int, state bool) error
	DispatchFromBay(ctx context.Context, index int) error
	CommandStation(ctx context.Context, id string, action domain.Action, args any) error
	Reconfigure(ctx context.Context, role domain.Role) error
}

// Server serves the API of one node.
type Server struct {
	service        Service
	logger         *slog.Logger
	metrics        http.Handler
	origins        []string
	streamInterval time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics mounts a metrics handler on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithAllowedOrigins restricts CORS to the given origins. Defaults to any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithStreamInterval sets how often /events checks for status changes.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		s.streamInterval = d
	}
}

// NewHandler creates the HTTP handler for a node.
func NewHandler(service Service, opts ...Option) http.Handler {
	s := &Server{
		service:        service,
		logger:         logging.NewNop(),
		origins:        []string{"*"},
		streamInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.GetHealth)
	r.Get("/status", s.GetStatus)
	r.Get("/events", s.SubscribeEvents)
	r.Post("/departure", s.SelectDestination)
	r.Delete("/departure", s.CancelDeparture)
	r.Post("/brake", s.Brake)
	r.Post("/switches/{index}", s.SetSwitch)
	r.Post("/bays/{index}/dispatch", s.DispatchFromBay)
	r.Post("/stations/{id}/commands", s.CommandStation)
	r.Post("/role", s.SetRole)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	return r
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// GetStatus handles GET /status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status(r.Context()))
}

type departureRequest struct {
	DestinationID string `json:"destination_id"`
}

// SelectDestination handles POST /departure.
func (s *Server) SelectDestination(w http.ResponseWriter, r *http.Request) {
	var body departureRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.DestinationID == "" {
		s.fail(w, "SelectDestination", fmt.Errorf("destination_id is required"), http.StatusBadRequest)
		return
	}
	if err := s.service.SelectDestination(r.Context(), body.DestinationID); err != nil {
		s.fail(w, "SelectDestination", err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.service.Status(r.Context()).Intent)
}

// CancelDeparture handles DELETE /departure.
func (s *Server) CancelDeparture(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelDeparture(r.Context()); err != nil {
		s.fail(w, "CancelDeparture", err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Brake handles POST /brake.
func (s *Server) Brake(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Brake(r.Context()); err != nil {
		s.fail(w, "Brake", err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type switchRequest struct {
	State bool `json:"state"`
}

// SetSwitch handles POST /switches/{index}.
func (s *Server) SetSwitch(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	var body switchRequest
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.SetSwitch(r.Context(), index, body.State); err != nil {
		s.fail(w, "SetSwitch", err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DispatchFromBay handles POST /bays/{index}/dispatch.
// The dispatch runs in the background; its outcome shows up in /status.
func (s *Server) DispatchFromBay(w http.ResponseWriter, r *http.Request) {
	index, ok := s.index(w, r)
	if !ok {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := s.service.DispatchFromBay(ctx, index); err != nil {
			s.logger.Warn("Bay dispatch failed", "bay", index, "err", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

type commandRequest struct {
	Action domain.Action `json:"action"`
	Index  int           `json:"index"`
	State  bool          `json:"state"`
}

// CommandStation handles POST /stations/{id}/commands.
func (s *Server) CommandStation(w http.ResponseWriter, r *http.Request) {
	var body commandRequest
	if !s.decode(w, r, &body) {
		return
	}

	var args any
	switch body.Action {
	case domain.ActionSetSwitch:
		args = domain.SetSwitchArgs{Index: body.Index, State: body.State}
	case domain.ActionDispatchFromBay:
		args = domain.BayArgs{Index: body.Index}
	}

	id := chi.URLParam(r, "id")
	if err := s.service.CommandStation(r.Context(), id, body.Action, args); err != nil {
		s.fail(w, "CommandStation", err, statusFor(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type roleRequest struct {
	Role string `json:"role"`
}

// SetRole handles POST /role.
func (s *Server) SetRole(w http.ResponseWriter, r *http.Request) {
	var body roleRequest
	if !s.decode(w, r, &body) {
		return
	}
	role, err := domain.ParseRole(body.Role)
	if err != nil {
		s.fail(w, "SetRole", err, http.StatusBadRequest)
		return
	}
	if err := s.service.Reconfigure(r.Context(), role); err != nil {
		s.fail(w, "SetRole", err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]domain.Role{"role": role})
}

// SubscribeEvents handles GET /events (SSE). A status event is sent whenever the node status changes.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last []byte
	for {
		data, err := json.Marshal(s.service.Status(r.Context()))
		if err != nil {
			s.logger.Error("Status encode failed", "err", err)
			return
		}
		if string(data) != string(last) {
			fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
			flusher.Flush()
			last = data
		}

		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		s.logger.Warn("Invalid request body", "path", r.URL.Path, "err", err)
		return false
	}
	return true
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error, code int) {
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Info(op+" rejected", "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownStation), errors.Is(err, domain.ErrUnknownSwitch):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotParking), errors.Is(err, domain.ErrUnsupportedAction):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotHub):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrIntentActive), errors.Is(err, domain.ErrNoIntent),
		errors.Is(err, domain.ErrDispatchInProgress), errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrNoFreeBay), errors.Is(err, domain.ErrNoTrainAvailable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrHubUnavailable), errors.Is(err, domain.ErrActuatorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDispatchTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
