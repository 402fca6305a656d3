package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/himanishpuri/audfprint-gui/pkg/audfprint"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/events"
	"github.com/himanishpuri/audfprint-gui/pkg/audfprint/runner"
	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service audfprint.Service
	bus     *events.Bus
	config  *ServerConfig
	log     audfprint.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DataDir        string
	AllowedOrigins []string
	// Watch re-lists the managed directories when files change on disk.
	Watch bool
}

// NewServer creates a new server instance
func NewServer(service audfprint.Service, bus *events.Bus, config *ServerConfig) *Server {
	return &Server{
		service: service,
		bus:     bus,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondServiceError maps a service error to a status code
func (s *Server) respondServiceError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	var exitErr *runner.ExitError
	switch {
	case errors.Is(err, audfprint.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, runner.ErrRuntimeMissing), errors.Is(err, runner.ErrDependencyMissing):
		status = http.StatusServiceUnavailable
	case errors.As(err, &exitErr):
		status = http.StatusBadGateway
	}
	s.log.Errorf("%s failed: %v", action, err)
	s.respondError(w, status, fmt.Sprintf("%s failed: %v", action, err))
}

// decode reads a JSON body into v and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{ Validate() error }) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := v.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "audfprint bridge",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":           "GET /health",
			"environment":      "GET /api/environment",
			"checkEnvironment": "POST /api/environment/check",
			"sources":          "GET /api/sources?dir=&types=&levels=",
			"precompute":       "GET /api/precompute",
			"matches":          "GET /api/precompute/matches?analysis=",
			"analyze":          "POST /api/analyze",
			"databases":        "GET /api/databases",
			"storeDatabase":    "POST /api/databases",
			"listDatabase":     "GET /api/databases/list?db=",
			"matchDatabase":    "POST /api/databases/match",
			"merge":            "POST /api/merge",
			"export":           "POST /api/export",
			"import":           "POST /api/import",
			"history":          "GET /api/history?limit=",
			"events":           "GET /api/events",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":      "healthy",
		"environment": s.service.EnvironmentStatus().State,
		"time":        time.Now().Format(time.RFC3339),
	})
}

// handleEnvironment handles GET /api/environment
func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.service.EnvironmentStatus())
}

// handleCheckEnvironment handles POST /api/environment/check
func (s *Server) handleCheckEnvironment(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.CheckEnvironment(r.Context())
	if err != nil {
		s.respondJSON(w, http.StatusServiceUnavailable, CheckResponse{Status: st, Error: err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, CheckResponse{Status: st})
}

// handleSources handles GET /api/sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dir := q.Get("dir")
	if dir == "" {
		s.respondError(w, http.StatusBadRequest, "dir is required")
		return
	}
	levels, err := optionalInt(q.Get("levels"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid levels")
		return
	}
	s.respondJSON(w, http.StatusOK, s.service.ListSources(dir, q.Get("types"), levels))
}

// handleListPrecompute handles GET /api/precompute
func (s *Server) handleListPrecompute(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, newEntriesResponse(s.service.ListPrecompute()))
}

// handleMatches handles GET /api/precompute/matches
func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	analysis := r.URL.Query().Get("analysis")
	if analysis == "" {
		s.respondError(w, http.StatusBadRequest, "analysis is required")
		return
	}
	matches, err := s.service.MatchesFor(analysis)
	if err != nil {
		s.respondServiceError(w, "Reading matches", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MatchesResponse{Analysis: analysis, Matches: matches})
}

// handleAnalyze handles POST /api/analyze
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.log.Infof("Analyzing %d file(s) from %q", len(req.Files), req.Dir)
	res, err := s.service.Analyze(r.Context(), req.AnalyzeRequest)
	if err != nil {
		s.respondServiceError(w, "Analyze", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleListDatabases handles GET /api/databases
func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, newEntriesResponse(s.service.ListDatabases()))
}

// handleStoreDatabase handles POST /api/databases
func (s *Server) handleStoreDatabase(w http.ResponseWriter, r *http.Request) {
	var req StoreDatabaseRequest
	if !s.decode(w, r, &req) {
		return
	}

	db, err := s.service.StoreDatabase(r.Context(), req.StoreDatabaseRequest)
	if err != nil {
		s.respondServiceError(w, "Storing database", err)
		return
	}
	s.log.Infof("Stored database %s", db)
	s.respondJSON(w, http.StatusCreated, StoreDatabaseResponse{
		Message:  "Database stored successfully",
		Database: db,
	})
}

// handleListDatabase handles GET /api/databases/list
func (s *Server) handleListDatabase(w http.ResponseWriter, r *http.Request) {
	db := r.URL.Query().Get("db")
	if db == "" {
		s.respondError(w, http.StatusBadRequest, "db is required")
		return
	}
	lines, err := s.service.ListDatabase(r.Context(), db)
	if err != nil {
		s.respondServiceError(w, "Listing database", err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	s.respondJSON(w, http.StatusOK, ListDatabaseResponse{Database: db, Lines: lines})
}

// handleMatchDatabase handles POST /api/databases/match
func (s *Server) handleMatchDatabase(w http.ResponseWriter, r *http.Request) {
	var req MatchDatabaseRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.MatchDatabase(r.Context(), req.Database); err != nil {
		s.respondServiceError(w, "Matching database", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{Message: "Matched every analysis against " + req.Database})
}

// handleMerge handles POST /api/merge
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.service.Merge(r.Context(), req.Database, req.Incoming...); err != nil {
		s.respondServiceError(w, "Merge", err)
		return
	}
	s.respondJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Merged %d database(s) into %s", len(req.Incoming), req.Database),
	})
}

// handleExport handles POST /api/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.service.Export(r.Context(), audfprint.ExportRequest{
		Kind:    req.Kind,
		Files:   req.Files,
		Dest:    req.Dest,
		Confirm: func([]string) bool { return req.Remove },
	})
	if err != nil {
		s.respondServiceError(w, "Export", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleImport handles POST /api/import
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.service.Import(r.Context(), req.ImportRequest)
	if err != nil {
		s.respondServiceError(w, "Import", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

// handleHistory handles GET /api/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r.URL.Query().Get("limit"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	runs, err := s.service.History(limit)
	if err != nil {
		s.respondServiceError(w, "Reading history", err)
		return
	}
	s.respondJSON(w, http.StatusOK, HistoryResponse{Runs: runs, Count: len(runs)})
}

// handleEvents handles GET /api/events as a server-sent event stream
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	ch, cancel := s.bus.Subscribe(256)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warnf("Dropping %s event: %v", ev.Channel, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Channel, data)
			flusher.Flush()
		}
	}
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
