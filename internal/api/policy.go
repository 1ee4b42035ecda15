package api

import (
	"errors"
	"net/http"

	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

func (s *Server) handlePreservedList(w http.ResponseWriter, r *http.Request) {
	hostnames := s.config.Policy.PreservedHostnames()
	writeJSON(w, http.StatusOK, map[string]any{
		"hostnames": hostnames,
		"total":     len(hostnames),
	})
}

func (s *Server) handlePreservedAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pattern string `json:"pattern"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.config.Policy.AddPreservedHostname(body.Pattern); err != nil {
		writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pattern": body.Pattern})
}

func (s *Server) handlePreservedRemove(w http.ResponseWriter, r *http.Request) {
	pattern := r.PathValue("pattern")
	if err := s.config.Policy.RemovePreservedHostname(pattern); err != nil {
		writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleManagedList(w http.ResponseWriter, r *http.Request) {
	records := s.config.Policy.ManagedHostnames()
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}

// handleManagedAdd persists a managed record and triggers a reconciliation so
// it appears without waiting for the next poll.
func (s *Server) handleManagedAdd(w http.ResponseWriter, r *http.Request) {
	var record types.DesiredRecord
	if err := readJSONBody(r, &record); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.config.Policy.AddManagedHostname(record); err != nil {
		writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if s.config.Engine != nil {
		s.config.Engine.Trigger()
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleManagedRemove(w http.ResponseWriter, r *http.Request) {
	hostname := r.PathValue("hostname")
	if err := s.config.Policy.RemoveManagedHostname(hostname); err != nil {
		writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if s.config.Engine != nil {
		s.config.Engine.Trigger()
	}
	w.WriteHeader(http.StatusNoContent)
}

func policyStatus(err error) int {
	switch {
	case errors.Is(err, provider.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
