package api

import (
	"net/http"
	"time"

	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/types"
)

type recordResponse struct {
	types.Record

	Provider  string     `json:"provider"`
	ManagedBy string     `json:"managed_by,omitempty"`
	Preserved bool       `json:"preserved"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// handleRecords lists the cached records of every provider, annotated with
// ownership and preservation state. ?provider= restricts to one provider.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	only := r.URL.Query().Get("provider")

	result := make([]recordResponse, 0)
	for _, adapter := range s.config.Registry.All() {
		if only != "" && adapter.Name() != only {
			continue
		}

		records, err := adapter.Cache().Records(ctx, false)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{
				"error":    err.Error(),
				"provider": adapter.Name(),
			})
			return
		}

		for _, rec := range records {
			resp := recordResponse{
				Record:    rec,
				Provider:  adapter.Name(),
				Preserved: s.config.Policy.ShouldPreserve(rec.Name),
			}
			entry, err := s.config.Ledger.Get(ctx, adapter.Name(), rec.Type, types.CanonicalName(rec.Name))
			if err == nil && entry != nil && entry.AppManaged {
				resp.ManagedBy = entry.CreatedBy
				created := entry.CreatedAt
				resp.CreatedAt = &created
			}
			result = append(result, resp)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records": result,
		"total":   len(result),
	})
}

// handleTracked dumps the raw ownership ledger.
func (s *Server) handleTracked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scopes := make([]string, 0, len(s.config.LedgerScopes)+4)
	for _, adapter := range s.config.Registry.All() {
		scopes = append(scopes, adapter.Name())
	}
	scopes = append(scopes, s.config.LedgerScopes...)

	entries := make([]*ownership.Entry, 0)
	for _, scope := range scopes {
		list, err := s.config.Ledger.List(ctx, scope)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		entries = append(entries, list...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}
