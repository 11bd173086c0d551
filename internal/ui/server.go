package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MrWong99/nihara/internal/companion"
	"github.com/MrWong99/nihara/internal/health"
	"github.com/MrWong99/nihara/internal/history"
	"github.com/MrWong99/nihara/internal/observe"
)

// History page sizes for /api/history.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// HistoryReader lists recent chat history.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// ServerOption configures [NewServer].
type ServerOption func(*server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *server) { s.metricsHandler = h }
}

// WithHealth registers the /healthz and /readyz probes.
func WithHealth(h *health.Handler) ServerOption {
	return func(s *server) { s.health = h }
}

// WithServerMetrics sets the metrics recorded by the request middleware.
func WithServerMetrics(m *observe.Metrics) ServerOption {
	return func(s *server) { s.metrics = m }
}

type server struct {
	hub            *Hub
	history        HistoryReader
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
}

// NewServer returns the HTTP handler of the companion UI:
//
//	GET /ws            status and command websocket
//	GET /api/history   recent chat history, ?limit=N
//	GET /api/catalog   selectable voices, languages, personas and modes
//	GET /healthz       liveness (with [WithHealth])
//	GET /readyz        readiness (with [WithHealth])
//	GET /metrics       Prometheus scrape endpoint (with [WithMetricsHandler])
//
// Every route is wrapped in [observe.Middleware].
func NewServer(hub *Hub, hist HistoryReader, opts ...ServerOption) http.Handler {
	s := &server{hub: hub, history: hist, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", hub)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

type historyResponse struct {
	Entries []history.Entry `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxHistoryLimit)
	}
	if s.history == nil {
		writeJSON(w, http.StatusOK, historyResponse{Entries: []history.Entry{}})
		return
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Warn("ui: read history", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "history unavailable"})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Entries: entries})
}

type catalogResponse struct {
	Voices    []companion.Voice  `json:"voices"`
	Languages []string           `json:"languages"`
	Personas  []personaView      `json:"personas"`
	Modes     []companion.Mode   `json:"modes"`
	Current   companion.Snapshot `json:"current"`
}

type personaView struct {
	ID          companion.Persona `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
}

func (s *server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	store := s.hub.store
	resp := catalogResponse{
		Voices:    companion.Voices(),
		Languages: companion.Languages(),
		Modes:     companion.Modes(),
		Current:   store.Snapshot(),
	}
	for _, p := range companion.Personas() {
		prof := store.Profile(p)
		resp.Personas = append(resp.Personas, personaView{ID: p, Name: prof.Name, Description: prof.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
