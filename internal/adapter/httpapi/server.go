// Package httpapi exposes health, readiness, and metrics endpoints plus the
// host-facing API: per-person visited-country records, the manual
// add/remove/set commands, and cache statistics.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/ledger"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Publisher emits visit events; manual additions are published so consumers
// see every change to a person's record. May be nil.
type Publisher interface {
	Publish(ctx context.Context, event domain.VisitEvent) error
}

// Server is the service's HTTP front.
type Server struct {
	httpServer *http.Server
	ready      ReadinessChecker
	ledger     *ledger.Ledger
	cache      *geocache.Cache
	publisher  Publisher
	persons    []string
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewServer wires up all routes.
func NewServer(addr string, ready ReadinessChecker, lg *ledger.Ledger, cache *geocache.Cache, publisher Publisher, persons []string, clock clockwork.Clock, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ready:     ready,
		ledger:    lg,
		cache:     cache,
		publisher: publisher,
		persons:   persons,
		clock:     clock,
		logger:    logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/persons", s.handleListPersons)
	mux.HandleFunc("GET /api/persons/{person}", s.handleGetPerson)
	mux.HandleFunc("PUT /api/persons/{person}/countries/{code}", s.handleAddCountry)
	mux.HandleFunc("DELETE /api/persons/{person}/countries/{code}", s.handleRemoveCountry)
	mux.HandleFunc("PUT /api/persons/{person}/countries", s.handleSetCountries)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListPersons(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"persons": s.persons})
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	person, ok := s.trackedPerson(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.ledger.Snapshot(person))
}

func (s *Server) handleAddCountry(w http.ResponseWriter, r *http.Request) {
	person, ok := s.trackedPerson(w, r)
	if !ok {
		return
	}
	code, ok := validCode(w, r)
	if !ok {
		return
	}

	if err := s.ledger.AddManual(r.Context(), person, code); err != nil {
		s.logger.Error("manual add failed", "person", person, "country", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "persist failed"})
		return
	}

	if s.publisher != nil {
		event := domain.VisitEvent{
			Person:      person,
			CountryCode: code,
			CountryName: domain.CountryName(code),
			Source:      domain.SourceManual,
			OccurredAt:  s.clock.Now().UTC(),
		}
		if err := s.publisher.Publish(r.Context(), event); err != nil {
			s.logger.Warn("event publish failed", "person", person, "country", code, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveCountry(w http.ResponseWriter, r *http.Request) {
	person, ok := s.trackedPerson(w, r)
	if !ok {
		return
	}
	code, ok := validCode(w, r)
	if !ok {
		return
	}

	// Removing a code that was never added manually is a no-op, and a
	// detected country stays visited either way.
	if err := s.ledger.RemoveManual(r.Context(), person, code); err != nil {
		s.logger.Error("manual remove failed", "person", person, "country", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "persist failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCountries(w http.ResponseWriter, r *http.Request) {
	person, ok := s.trackedPerson(w, r)
	if !ok {
		return
	}

	var codes []string
	if err := json.NewDecoder(r.Body).Decode(&codes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be a JSON array of country codes"})
		return
	}
	for _, code := range codes {
		if !isCountryCode(code) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid country code: " + code})
			return
		}
	}

	if err := s.ledger.SetManual(r.Context(), person, codes); err != nil {
		s.logger.Error("manual set failed", "person", person, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "persist failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) trackedPerson(w http.ResponseWriter, r *http.Request) (string, bool) {
	person := r.PathValue("person")
	if !slices.Contains(s.persons, person) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown person: " + person})
		return "", false
	}
	return person, true
}

// validCode validates and normalizes the code path value. The uppercase form
// is what the ledger stores and what published events must carry.
func validCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.PathValue("code")
	if !isCountryCode(code) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid country code: " + code})
		return "", false
	}
	return strings.ToUpper(code), true
}

func isCountryCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
