// Package api provides the admin HTTP API: status, record inspection, policy
// management, runtime controls, and a WebSocket event stream.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/policy"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/reconciler"
)

// Config holds configuration for the API server.
type Config struct {
	Address string
	Token   string
	Version string

	Registry *provider.Registry
	Ledger   ownership.Ledger
	Policy   *policy.Store
	Bus      *events.Bus
	Engine   *reconciler.Engine
	Settings *Settings

	// PublicIP resolves the current public IPv4 for the status endpoint.
	// Optional.
	PublicIP func(ctx context.Context) (string, error)

	// LedgerScopes are extra ledger namespaces (beyond the registered
	// providers) included in /api/records/tracked.
	LedgerScopes []string
}

// Server is the admin HTTP server.
type Server struct {
	config    *Config
	server    *http.Server
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer builds the server and its routes.
func NewServer(cfg *Config) *Server {
	s := &Server{
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()

	// Health and metrics stay outside auth so container health checks and
	// Prometheus scrapes work with api.token set.
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("/api/", tokenAuth(cfg.Token, s.apiMux()))

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}
	return s
}

func (s *Server) apiMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("GET /api/records", s.handleRecords)
	mux.HandleFunc("GET /api/records/tracked", s.handleTracked)

	mux.HandleFunc("GET /api/preserved-hostnames", s.handlePreservedList)
	mux.HandleFunc("POST /api/preserved-hostnames", s.handlePreservedAdd)
	mux.HandleFunc("DELETE /api/preserved-hostnames/{pattern}", s.handlePreservedRemove)

	mux.HandleFunc("GET /api/managed-hostnames", s.handleManagedList)
	mux.HandleFunc("POST /api/managed-hostnames", s.handleManagedAdd)
	mux.HandleFunc("DELETE /api/managed-hostnames/{hostname}", s.handleManagedRemove)

	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /api/cleanup", s.handleCleanupGet)
	mux.HandleFunc("POST /api/cleanup", s.handleCleanupSet)
	mux.HandleFunc("GET /api/mode", s.handleModeGet)
	mux.HandleFunc("POST /api/mode", s.handleModeSet)

	mux.HandleFunc("GET /api/events", s.handleEvents)

	return mux
}

// Start runs the server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		log.Info().Str("address", s.config.Address).Msg("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": s.config.Version,
	})
}

// tokenAuth requires "Authorization: Bearer <token>" when a token is
// configured. An empty token disables auth.
func tokenAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode API response")
	}
}

func readJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
