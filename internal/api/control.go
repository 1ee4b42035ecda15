package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/types"
)

// handleRefresh forces a cache reload and reconciliation on every provider.
// The work runs in the background; the request returns immediately.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.config.Engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not running"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		s.config.Engine.RefreshAll(ctx)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

func (s *Server) handleCleanupGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"enabled": s.config.Settings.CleanupEnabled(),
	})
}

func (s *Server) handleCleanupSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.config.Settings.SetCleanupEnabled(body.Enabled)
	log.Info().Bool("enabled", body.Enabled).Msg("Orphan cleanup toggled via API")
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (s *Server) handleModeGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"mode": string(s.config.Settings.Mode()),
	})
}

// handleModeSet switches the operation mode. The swap to the other source
// poller happens in the TopicModeChanged subscriber wired at startup.
func (s *Server) handleModeSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	mode := types.OperationMode(body.Mode)
	if mode != types.ModeTraefik && mode != types.ModeDirect {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be \"traefik\" or \"direct\""})
		return
	}

	previous := s.config.Settings.Mode()
	if mode == previous {
		writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
		return
	}

	s.config.Settings.SetMode(mode)
	log.Info().Str("from", string(previous)).Str("to", string(mode)).Msg("Operation mode switched via API")
	s.config.Bus.Publish(events.TopicModeChanged, map[string]any{
		"from": string(previous),
		"to":   string(mode),
	})
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(mode)})
}
