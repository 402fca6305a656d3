package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/himanishpuri/audfprint-gui/pkg/logger"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Root endpoint
	mux.HandleFunc("/", s.handleRoot)

	// Health and environment
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/environment", only(http.MethodGet, s.handleEnvironment))
	mux.HandleFunc("/api/environment/check", only(http.MethodPost, s.handleCheckEnvironment))

	// Sources and analyses
	mux.HandleFunc("/api/sources", only(http.MethodGet, s.handleSources))
	mux.HandleFunc("/api/precompute", only(http.MethodGet, s.handleListPrecompute))
	mux.HandleFunc("/api/precompute/matches", only(http.MethodGet, s.handleMatches))
	mux.HandleFunc("/api/analyze", only(http.MethodPost, s.handleAnalyze))

	// Databases
	mux.HandleFunc("/api/databases", s.handleDatabases)
	mux.HandleFunc("/api/databases/list", only(http.MethodGet, s.handleListDatabase))
	mux.HandleFunc("/api/databases/match", only(http.MethodPost, s.handleMatchDatabase))
	mux.HandleFunc("/api/merge", only(http.MethodPost, s.handleMerge))

	// Transfer
	mux.HandleFunc("/api/export", only(http.MethodPost, s.handleExport))
	mux.HandleFunc("/api/import", only(http.MethodPost, s.handleImport))

	mux.HandleFunc("/api/history", only(http.MethodGet, s.handleHistory))
	mux.HandleFunc("/api/events", only(http.MethodGet, s.handleEvents))

	// Wrap with CORS middleware
	return corsMiddleware(s.config.AllowedOrigins)(loggingMiddleware(mux))
}

// handleDatabases routes requests to /api/databases
func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListDatabases(w, r)
	case http.MethodPost:
		s.handleStoreDatabase(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// only rejects requests whose method is not method
func only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, `{"error":"Method Not Allowed","code":405}`, http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				allowed = true
			} else {
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Add("Vary", "Origin")
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs all HTTP requests at debug level
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(wrapped, r)

		logger.Debugf("%s %s from %s -> %d (%s)", r.Method, r.URL.Path, getClientIP(r), wrapped.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the event stream working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	if s.config.Watch {
		layout := s.service.Layout()
		go func() {
			if err := watchArtifacts(ctx, []string{layout.Precompute, layout.Databases}, watchDebounce, s.service.Refresh); err != nil {
				s.log.Errorf("Directory watcher stopped: %v", err)
			}
		}()
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.log.Infof("🚀 audfprint bridge starting on %s", addr)
	s.log.Infof("   Data: %s", s.config.DataDir)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("   Watching: %v", s.config.Watch)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
