// Package api provides the HTTP query surface for the latest meter readings.
package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/jellevictoor/sdm-modbus-reader/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed dashboard.html
var dashboardHTML []byte

// Server represents the HTTP API server exposing the latest readings. It is
// a read-only consumer of the reading store.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	store     *domain.ReadingStore
	logger    zerolog.Logger
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(cfg *config.Config, store *domain.ReadingStore) *Server {
	router := mux.NewRouter()

	// Create logger with API component context
	logger := log.With().Str("component", "api").Logger()

	apiServer := &Server{
		config:    cfg,
		router:    router,
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}

	// Set up API routes
	apiServer.setupRoutes()

	return apiServer
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	// API versioning
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Server status endpoint
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Meter endpoints
	api.HandleFunc("/meters", s.handleListMeters).Methods("GET")
	api.HandleFunc("/meters/{id:[0-9]+}", s.handleGetMeter).Methods("GET")
	api.HandleFunc("/fields", s.handleFieldMetadata).Methods("GET")

	// Embedded dashboard
	s.router.HandleFunc("/", s.handleDashboard).Methods("GET")
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	// Create HTTP server
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping HTTP API server")

	// Create a timeout context for shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if s.server != nil {
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	return nil
}

// handleStatus returns server status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"meterCount": s.store.Count(),
	}

	s.writeJSON(w, status, http.StatusOK)
}

// handleListMeters returns the latest reading of every meter.
func (s *Server) handleListMeters(w http.ResponseWriter, _ *http.Request) {
	readings := s.store.GetAll()

	// Stable order for consumers and for humans reading the output
	ids := make([]int, 0, len(readings))
	for id := range readings {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	result := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		result = append(result, meterResponse(readings[uint8(id)]))
	}

	s.writeJSON(w, map[string]interface{}{
		"meters": result,
		"count":  len(result),
	}, http.StatusOK)
}

// handleGetMeter returns the latest reading for a specific meter.
func (s *Server) handleGetMeter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil || id < domain.MinMeterAddress || id > domain.MaxMeterAddress {
		s.writeError(w, "Invalid meter id", http.StatusBadRequest)
		return
	}

	reading, found := s.store.GetByMeterID(uint8(id))
	if !found {
		s.writeError(w, "Meter not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, meterResponse(reading), http.StatusOK)
}

// handleFieldMetadata returns display metadata (unit, label) per field family.
func (s *Server) handleFieldMetadata(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"fields": domain.FieldMetadata(),
	}, http.StatusOK)
}

// handleDashboard serves the embedded HTML monitor page.
func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(dashboardHTML); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write dashboard response")
	}
}

// meterResponse renders one stored reading in the wire shape of the API.
func meterResponse(reading domain.StoredReading) map[string]interface{} {
	return map[string]interface{}{
		"meter_id":   reading.MeterID,
		"meter_type": reading.MeterType,
		"meter_name": reading.MeterName,
		"slug":       reading.Slug,
		"timestamp":  reading.Timestamp,
		"data":       reading.Reading.Flatten(),
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}
