package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/trafegodns/trafegodns/internal/reconciler"
)

type providerStatus struct {
	Name           string            `json:"name"`
	Zone           string            `json:"zone"`
	Healthy        bool              `json:"healthy"`
	CachedRecords  int               `json:"cached_records"`
	CacheRefreshed time.Time         `json:"cache_refreshed,omitempty"`
	LastReport     reconciler.Report `json:"last_report"`
}

type statusResponse struct {
	Version        string           `json:"version"`
	Uptime         string           `json:"uptime"`
	StartedAt      time.Time        `json:"started_at"`
	Mode           string           `json:"mode"`
	CleanupEnabled bool             `json:"cleanup_enabled"`
	PublicIP       string           `json:"public_ip,omitempty"`
	Providers      []providerStatus `json:"providers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	providers := make([]providerStatus, 0)
	if s.config.Engine != nil {
		for _, rec := range s.config.Engine.Reconcilers() {
			ps := providerStatus{
				Name:       rec.Provider(),
				Healthy:    !rec.Degraded(),
				LastReport: rec.LastReport(),
			}
			if adapter, ok := s.config.Registry.Get(rec.Provider()); ok {
				ps.Zone = adapter.Zone()
				ps.CachedRecords = adapter.Cache().Len()
				ps.CacheRefreshed = adapter.Cache().LastUpdated()
			}
			providers = append(providers, ps)
		}
	}

	var publicIP string
	if s.config.PublicIP != nil {
		if ip, err := s.config.PublicIP(ctx); err == nil {
			publicIP = ip
		}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:        s.config.Version,
		Uptime:         formatDuration(time.Since(s.startedAt)),
		StartedAt:      s.startedAt,
		Mode:           string(s.config.Settings.Mode()),
		CleanupEnabled: s.config.Settings.CleanupEnabled(),
		PublicIP:       publicIP,
		Providers:      providers,
	})
}

// formatDuration renders a duration like "3d 5h 20m".
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
